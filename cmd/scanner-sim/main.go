// Command scanner-sim emulates a classroom BLE scanner. It emits synthetic
// sighting reports on an interval, either by POSTing to the attendance API
// or by publishing to an MQTT broker, matching the two ingestion paths the
// server accepts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type sightingPayload struct {
	StudentMACAddress string `json:"student_mac_address"`
	ClassroomID       int    `json:"classroom_id"`
	Timestamp         string `json:"timestamp"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Attendance server base URL (HTTP mode)")
	brokerAddr := flag.String("broker", "", "MQTT broker address, e.g. tcp://localhost:1883 (enables MQTT mode)")
	scannerID := flag.String("scanner-id", "sim-scanner-1", "Scanner identifier used in the MQTT topic")
	classroomID := flag.Int("classroom", 101, "Classroom identifier reported with each sighting")
	students := flag.String("students", "", "Comma-separated student MAC addresses; random ones are generated if empty")
	count := flag.Int("count", 4, "Number of random student MACs to generate when -students is empty")
	interval := flag.Duration("interval", 2*time.Second, "Interval between emitted sightings")

	flag.Parse()

	macs := parseStudents(*students, *count)
	log.Printf("simulating classroom %d with %d students", *classroomID, len(macs))

	var publish func(sightingPayload) error
	if *brokerAddr != "" {
		client := connectMQTT(*brokerAddr, *scannerID)
		defer client.Disconnect(250)
		topic := fmt.Sprintf("scanners/%s/sightings", *scannerID)
		publish = func(p sightingPayload) error { return publishMQTT(client, topic, p) }
	} else {
		endpoint := strings.TrimRight(*serverURL, "/") + "/api/attendance"
		publish = func(p sightingPayload) error { return postHTTP(endpoint, p) }
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	emit := func() {
		payload := sightingPayload{
			StudentMACAddress: macs[rand.Intn(len(macs))],
			ClassroomID:       *classroomID,
			Timestamp:         time.Now().Format("2006-01-02 15:04:05"),
		}
		if err := publish(payload); err != nil {
			log.Printf("emit error: %v", err)
			return
		}
		log.Printf("emitted sighting student=%s classroom=%d", payload.StudentMACAddress, payload.ClassroomID)
	}

	emit()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, stopping")
			return
		case <-ticker.C:
			emit()
		}
	}
}

func parseStudents(list string, count int) []string {
	if list != "" {
		var macs []string
		for _, mac := range strings.Split(list, ",") {
			if mac = strings.TrimSpace(mac); mac != "" {
				macs = append(macs, mac)
			}
		}
		if len(macs) > 0 {
			return macs
		}
	}

	if count <= 0 {
		count = 1
	}
	macs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		macs = append(macs, randomMAC())
	}
	return macs
}

func randomMAC() string {
	parts := make([]string, 6)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", rand.Intn(256))
	}
	return strings.Join(parts, ":")
}

func connectMQTT(broker, scannerID string) mqtt.Client {
	clientID := fmt.Sprintf("%s-sim-%s", scannerID, uuid.NewString())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", broker, clientID)
	return client
}

func publishMQTT(client mqtt.Client, topic string, payload sightingPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	token := client.Publish(topic, 0, false, data)
	token.Wait()
	return token.Error()
}

func postHTTP(endpoint string, payload sightingPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("post attendance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server responded %s", resp.Status)
	}
	return nil
}
