package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firewatch/internal/backend"
	"firewatch/internal/beacon"
	"firewatch/internal/monitor"
)

func fullSnapshot(fire bool) monitor.Snapshot {
	return monitor.Snapshot{
		Fire: monitor.Panel[backend.FireLog]{Value: &backend.FireLog{FireDetected: fire}},
		DHT:  monitor.Panel[backend.DHTReading]{Value: &backend.DHTReading{Temperature: 21.46, Humidity: 40}},
		PM:   monitor.Panel[backend.PMReading]{Value: &backend.PMReading{PM2_5: 8.3}},
	}
}

func TestSummaryUnknown(t *testing.T) {
	s := summarize(monitor.Snapshot{}, beacon.Snapshot{})

	assert.False(t, s.Alarm())
	assert.Equal(t, "firewatch - waiting for data", Tooltip(s))
	assert.Equal(t, "  Fire:        --", FireTitle(s))
	assert.Equal(t, [3]string{
		"  Temperature: --",
		"  Humidity:    --",
		"  PM2.5:       --",
	}, ClimateTitles(s))
	assert.Equal(t, "  Nearest:     --", NearestTitle(s))
	assert.Equal(t, "Scan for beacons", ScanTitle(s))
}

func TestSummaryReadings(t *testing.T) {
	s := summarize(fullSnapshot(false), beacon.Snapshot{})

	assert.Equal(t, "firewatch - 21.5 °C, 40.0 %", Tooltip(s))
	assert.Equal(t, "  Fire:        none", FireTitle(s))
	assert.Equal(t, "  PM2.5:       8.3 µg/m³", ClimateTitles(s)[2])
}

func TestSummaryAlarm(t *testing.T) {
	s := summarize(fullSnapshot(true), beacon.Snapshot{})

	assert.True(t, s.Alarm())
	assert.Equal(t, "firewatch - FIRE DETECTED", Tooltip(s))
	assert.Equal(t, "  Fire:        FIRE DETECTED", FireTitle(s))
}

func TestNearest(t *testing.T) {
	rssi := -61
	scanning := beacon.Snapshot{Session: beacon.Session{Active: true}}
	assert.Equal(t, "  Nearest:     scanning...", NearestTitle(summarize(monitor.Snapshot{}, scanning)))
	assert.Equal(t, "Stop scan", ScanTitle(summarize(monitor.Snapshot{}, scanning)))

	found := beacon.Snapshot{Strongest: &beacon.Device{ID: "AA", Name: "RaspberryPi-Sensor", DecodedName: "Kitchen", RSSI: &rssi}}
	assert.Equal(t, "  Nearest:     Kitchen (-61 dBm)", NearestTitle(summarize(monitor.Snapshot{}, found)))
}
