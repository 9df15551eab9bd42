package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, DefaultSensorURL, cfg.Backend.SensorURL)
	assert.Equal(t, DefaultFireURL, cfg.Backend.FireURL)
	assert.Equal(t, DefaultAuthURL, cfg.Backend.AuthURL)
	assert.Equal(t, time.Second, cfg.Polling.FireStatus)
	assert.Equal(t, 5*time.Second, cfg.Polling.Sensors)
	assert.Equal(t, 5*time.Second, cfg.Polling.FireLog)
	assert.Equal(t, 30*time.Second, cfg.Beacon.ScanDuration)
	assert.False(t, cfg.Relay.Enabled)
	assert.False(t, cfg.StatusAPI.Enabled)
}

func TestDefaultClientIDIsUnique(t *testing.T) {
	a, b := Defaults().Relay.ClientID, Defaults().Relay.ClientID

	assert.True(t, strings.HasPrefix(a, "firewatch-"))
	assert.NotEqual(t, a, b)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Backend, cfg.Backend)
}

func TestLoadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
logger:
  level: debug
  format: json
backend:
  sensor_url: http://10.0.0.5:5000
polling:
  sensors: 10s
beacon:
  adapter: hci1
  scan_duration: 45s
relay:
  enabled: true
  broker: tcp://broker:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "http://10.0.0.5:5000", cfg.Backend.SensorURL)
	assert.Equal(t, DefaultFireURL, cfg.Backend.FireURL, "unset fields keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Polling.Sensors)
	assert.Equal(t, time.Second, cfg.Polling.FireStatus)
	assert.Equal(t, "hci1", cfg.Beacon.Adapter)
	assert.Equal(t, 45*time.Second, cfg.Beacon.ScanDuration)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.Relay.Broker)
}

func TestLoadBadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "logger: [unterminated")

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIREWATCH_LOG_LEVEL", "warn")
	t.Setenv("FIREWATCH_FIRE_URL", "https://fire.example.com")
	t.Setenv("FIREWATCH_HTTP_TIMEOUT", "2s")
	t.Setenv("FIREWATCH_SCAN_DURATION", "not-a-duration")
	t.Setenv("FIREWATCH_DB_PATH", "/tmp/fw.db")
	t.Setenv("FIREWATCH_RELAY_ENABLED", "true")
	t.Setenv("FIREWATCH_STATUS_API_ENABLED", "1")
	t.Setenv("FIREWATCH_STATUS_API_LISTEN", "0.0.0.0:9000")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "https://fire.example.com", cfg.Backend.FireURL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Beacon.ScanDuration, "invalid duration is ignored")
	assert.Equal(t, "/tmp/fw.db", cfg.Storage.Path)
	assert.True(t, cfg.Relay.Enabled)
	assert.True(t, cfg.StatusAPI.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.StatusAPI.Listen)
}

func TestDotEnvIsRead(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FIREWATCH_BLE_ADAPTER=hci7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FIREWATCH_BLE_ADAPTER") })

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hci7", cfg.Beacon.Adapter)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "loud"
	cfg.Backend.SensorURL = "ftp://sensors"
	cfg.Backend.AuthURL = ""
	cfg.Polling.FireStatus = 500 * time.Millisecond
	cfg.Beacon.ScanDuration = 0
	cfg.Storage.Path = ""
	cfg.Relay.Enabled = true
	cfg.Relay.Broker = ""
	cfg.StatusAPI.Enabled = true
	cfg.StatusAPI.Listen = "8765"

	err := Validate(cfg)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 8)
	assert.Contains(t, err.Error(), "config validation failed:")
	assert.Contains(t, err.Error(), "backend.sensor_url")
	assert.Contains(t, err.Error(), "polling.fire_status")
}

func TestValidateIgnoresDisabledSections(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.Broker = ""
	cfg.StatusAPI.Listen = "garbage"
	assert.NoError(t, Validate(cfg))
}
