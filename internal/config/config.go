package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the attendance server.
type Config struct {
	HTTPPort      int
	DatabasePath  string
	MQTTBrokerURL string
	MQTTTopic     string
	LogLevel      string
	DisableMDNS   bool
}

const (
	defaultHTTPPort     = 8080
	defaultDatabasePath = "data/attendance.db"
	defaultMQTTTopic    = "scanners/+/sightings"
	defaultLogLevel     = "info"
)

// Load derives configuration values from environment variables, falling back
// to defaults. A .env file in the working directory is read first if present.
func Load() (Config, error) {
	// Missing .env is the common case on deployed hosts.
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:     defaultHTTPPort,
		DatabasePath: defaultDatabasePath,
		MQTTTopic:    defaultMQTTTopic,
		LogLevel:     defaultLogLevel,
	}

	if v := os.Getenv("ROLLCALL_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROLLCALL_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("ROLLCALL_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	// MQTT ingestion stays off unless a broker is configured.
	if v := os.Getenv("ROLLCALL_MQTT_BROKER"); v != "" {
		cfg.MQTTBrokerURL = v
	}

	if v := os.Getenv("ROLLCALL_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}

	if v := os.Getenv("ROLLCALL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("ROLLCALL_DISABLE_MDNS"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROLLCALL_DISABLE_MDNS: %w", err)
		}
		cfg.DisableMDNS = disabled
	}

	return cfg, nil
}
