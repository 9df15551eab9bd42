// Package config loads the firewatch configuration.
//
// Values come from, in increasing precedence: built-in defaults, the YAML
// file, a .env file in the working directory and FIREWATCH_* environment
// variables. A missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"firewatch/internal/backend"
	"firewatch/internal/monitor"
)

// Default service addresses of the home installation
const (
	DefaultSensorURL = "http://192.168.0.130:5000"
	DefaultFireURL   = "http://192.168.0.140:8000"
	DefaultAuthURL   = "http://192.168.0.140:4000"
)

// Config is the root configuration
type Config struct {
	Logger    LoggerConfig      `yaml:"logger"`
	Backend   backend.Config    `yaml:"backend"`
	Polling   monitor.Intervals `yaml:"polling"`
	Beacon    BeaconConfig      `yaml:"beacon"`
	Storage   StorageConfig     `yaml:"storage"`
	Relay     RelayConfig       `yaml:"relay"`
	StatusAPI StatusAPIConfig   `yaml:"status_api"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BeaconConfig holds the BLE scan settings
type BeaconConfig struct {
	Adapter      string        `yaml:"adapter"`
	ScanDuration time.Duration `yaml:"scan_duration"`
}

// StorageConfig holds the local database location
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds the MQTT event relay settings
type RelayConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// StatusAPIConfig holds the local status API settings
type StatusAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// userDir returns the per-user firewatch directory, falling back to "./.firewatch"
func userDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".firewatch"
	}
	return filepath.Join(dir, "firewatch")
}

// defaultClientID is unique per process so instances sharing a broker do
// not take over each other's connection
func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "host"
	}
	return "firewatch-" + host + "-" + uuid.NewString()[:8]
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(userDir(), "config.yaml")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Backend: backend.Config{
			SensorURL: DefaultSensorURL,
			FireURL:   DefaultFireURL,
			AuthURL:   DefaultAuthURL,
			Timeout:   5 * time.Second,
			Breaker: backend.BreakerConfig{
				MaxFailures: 3,
				Timeout:     15 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Polling: monitor.DefaultIntervals(),
		Beacon: BeaconConfig{
			Adapter:      "hci0",
			ScanDuration: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path: filepath.Join(userDir(), "state.db"),
		},
		Relay: RelayConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    defaultClientID(),
			TopicPrefix: "firewatch",
			MinInterval: 5 * time.Second,
		},
		StatusAPI: StatusAPIConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

// Load reads a YAML config file, applies .env and env var overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal
	_ = godotenv.Load()

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps FIREWATCH_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIREWATCH_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FIREWATCH_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FIREWATCH_LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("FIREWATCH_SENSOR_URL"); v != "" {
		cfg.Backend.SensorURL = v
	}
	if v := os.Getenv("FIREWATCH_FIRE_URL"); v != "" {
		cfg.Backend.FireURL = v
	}
	if v := os.Getenv("FIREWATCH_AUTH_URL"); v != "" {
		cfg.Backend.AuthURL = v
	}
	if v := os.Getenv("FIREWATCH_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("FIREWATCH_BLE_ADAPTER"); v != "" {
		cfg.Beacon.Adapter = v
	}
	if v := os.Getenv("FIREWATCH_SCAN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Beacon.ScanDuration = d
		}
	}
	if v := os.Getenv("FIREWATCH_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FIREWATCH_RELAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Relay.Enabled = b
		}
	}
	if v := os.Getenv("FIREWATCH_MQTT_BROKER"); v != "" {
		cfg.Relay.Broker = v
	}
	if v := os.Getenv("FIREWATCH_MQTT_USERNAME"); v != "" {
		cfg.Relay.Username = v
	}
	if v := os.Getenv("FIREWATCH_MQTT_PASSWORD"); v != "" {
		cfg.Relay.Password = v
	}
	if v := os.Getenv("FIREWATCH_STATUS_API_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StatusAPI.Enabled = b
		}
	}
	if v := os.Getenv("FIREWATCH_STATUS_API_LISTEN"); v != "" {
		cfg.StatusAPI.Listen = v
	}
}
