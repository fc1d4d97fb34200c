// Package config loads process configuration from the environment plus a
// YAML controller-name file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from environment
// variables with in-code defaults.
type Config struct {
	HTTPPort        string
	BridgeCommand   string
	SumoBinary      string
	SumoHome        string
	DefaultScenario string
	StepLength      float64
	KillGrace       time.Duration
	ControllerMap   string
	MQTTBroker      string
	MQTTClientID    string
	JWTSecret       string
}

// Load reads .env if present and builds the configuration.
func Load() *Config {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        getenv("PORT", "8080"),
		BridgeCommand:   getenv("SUMO_BRIDGE_CMD", "sumo-bridge"),
		SumoBinary:      os.Getenv("SUMO_BINARY"),
		SumoHome:        os.Getenv("SUMO_HOME"),
		DefaultScenario: os.Getenv("SUMO_CFG"),
		StepLength:      1.0,
		KillGrace:       500 * time.Millisecond,
		ControllerMap:   getenv("TLS_NAMES_FILE", "config/tls_names.yaml"),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    getenv("MQTT_CLIENT_ID", "sumo-bridge"),
		JWTSecret:       getenv("JWT_SECRET", "default-secret-key-change-in-production"),
	}

	if v := os.Getenv("SUMO_STEP_LENGTH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.StepLength = f
		}
	}
	if v := os.Getenv("KILL_GRACE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.KillGrace = time.Duration(n) * time.Millisecond
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ControllerMap is the YAML layout of the controller-name file: friendly
// aliases plus internal ids that have no alias.
type ControllerMap struct {
	Controllers map[string]string `yaml:"controllers"`
	KnownIDs    []string          `yaml:"known_ids"`
}

// LoadControllerMap reads the friendly-name mapping. A missing file yields
// an empty mapping: operators can always address controllers by internal
// id, so the file is optional.
func LoadControllerMap(path string) (*ControllerMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Info("No controller name file, friendly-name resolution disabled")
			return &ControllerMap{Controllers: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("cannot read controller name file: %w", err)
	}

	var cm ControllerMap
	if err := yaml.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("cannot unmarshal controller name file: %w", err)
	}
	if cm.Controllers == nil {
		cm.Controllers = map[string]string{}
	}
	return &cm, nil
}
