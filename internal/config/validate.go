package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// minInterval is the shortest polling interval and scan duration accepted
const minInterval = time.Second

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateBackend(cfg, ve)
	validatePolling(cfg, ve)
	validateBeacon(cfg, ve)
	validateStorage(cfg, ve)
	validateRelay(cfg, ve)
	validateStatusAPI(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateBackend(cfg *Config, ve *ValidationError) {
	urls := []struct {
		field string
		value string
	}{
		{"backend.sensor_url", cfg.Backend.SensorURL},
		{"backend.fire_url", cfg.Backend.FireURL},
		{"backend.auth_url", cfg.Backend.AuthURL},
	}
	for _, u := range urls {
		if err := checkHTTPURL(u.value); err != nil {
			ve.Add("%s: %v", u.field, err)
		}
	}
	if cfg.Backend.Timeout <= 0 {
		ve.Add("backend.timeout must be > 0")
	}
}

func validatePolling(cfg *Config, ve *ValidationError) {
	if cfg.Polling.FireStatus < minInterval {
		ve.Add("polling.fire_status must be >= %s", minInterval)
	}
	if cfg.Polling.Sensors < minInterval {
		ve.Add("polling.sensors must be >= %s", minInterval)
	}
	if cfg.Polling.FireLog < minInterval {
		ve.Add("polling.fire_log must be >= %s", minInterval)
	}
}

func validateBeacon(cfg *Config, ve *ValidationError) {
	if cfg.Beacon.ScanDuration < minInterval {
		ve.Add("beacon.scan_duration must be >= %s", minInterval)
	}
	if strings.Contains(cfg.Beacon.Adapter, "/") {
		ve.Add("beacon.adapter %q must be an adapter name such as hci0", cfg.Beacon.Adapter)
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.Path == "" {
		ve.Add("storage.path is required")
	}
}

func validateRelay(cfg *Config, ve *ValidationError) {
	if !cfg.Relay.Enabled {
		return
	}
	if cfg.Relay.Broker == "" {
		ve.Add("relay.broker is required when relay is enabled")
	}
	if cfg.Relay.TopicPrefix == "" {
		ve.Add("relay.topic_prefix is required when relay is enabled")
	}
	if cfg.Relay.MinInterval < 0 {
		ve.Add("relay.min_interval must be >= 0")
	}
}

func validateStatusAPI(cfg *Config, ve *ValidationError) {
	if !cfg.StatusAPI.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.StatusAPI.Listen); err != nil {
		ve.Add("status_api.listen %q: %v", cfg.StatusAPI.Listen, err)
	}
}

func checkHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
