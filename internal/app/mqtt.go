package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/validate"
)

// startMQTT connects to the configured broker and subscribes to the sighting
// topic. Scanners that cannot speak HTTP publish the same JSON report to
// scanners/<scanner-id>/sightings.
func (a *App) startMQTT(ctx context.Context) error {
	clientID := fmt.Sprintf("rollcall-server-%d-%d", os.Getpid(), time.Now().UnixNano())

	opts := mqtt.NewClientOptions().
		AddBroker(a.cfg.MQTTBrokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true)

	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(a.cfg.MQTTTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			a.handleSightingMessage(ctx, msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			a.logger.Error("mqtt subscribe failed", "topic", a.cfg.MQTTTopic, "error", err)
			return
		}
		a.logger.Info("mqtt ingestion started", "broker", a.cfg.MQTTBrokerURL, "topic", a.cfg.MQTTTopic)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	a.mqtt = client
	return nil
}

func (a *App) stopMQTT() {
	if a.mqtt == nil {
		return
	}
	a.mqtt.Disconnect(250)
	a.logger.Info("mqtt ingestion stopped")
	a.mqtt = nil
}

// handleSightingMessage funnels an MQTT-published report through the same
// validate-then-insert path as the HTTP endpoint.
func (a *App) handleSightingMessage(ctx context.Context, topic string, payload []byte) {
	scannerID := scannerIDFromTopic(topic)

	var report model.SightingReport
	if err := json.Unmarshal(payload, &report); err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", topic, "error", err)
		a.recordIngestionError(ctx, "mqtt", payload, "invalid JSON payload")
		return
	}

	rec, ferr := validate.Normalize(report)
	if ferr != nil {
		a.logger.Warn("mqtt report rejected", "topic", topic, "field", ferr.Field, "reason", ferr.Reason)
		a.recordIngestionError(ctx, "mqtt", payload, ferr.Error())
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	stored, err := a.store.InsertAttendance(storeCtx, rec)
	if err != nil {
		a.logger.Error("failed to persist mqtt attendance", "scanner", scannerID, "student", rec.StudentMACAddress, "error", err)
		return
	}

	a.markScannerSeen(storeCtx, rec.ClassroomID, "mqtt")

	a.logger.Info("attendance recorded", "id", stored.ID, "scanner", scannerID, "student", stored.StudentMACAddress, "classroom", stored.ClassroomID)
}

func scannerIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
