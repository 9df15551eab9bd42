// Package view turns state snapshots into the text the window shows.
// It has no GTK dependency so the screens stay thin.
package view

import (
	"fmt"
	"strconv"
	"time"

	"firewatch/internal/backend"
	"firewatch/internal/beacon"
	"firewatch/internal/monitor"
	"firewatch/internal/util"
)

func unit(u string) func(float64) string {
	return func(v float64) string { return util.FormatValue(v, u) }
}

// Home is the home screen
type Home struct {
	Clock       string
	Date        string
	Temperature string
	Humidity    string
	FireAlert   bool
	FireText    string
	Error       string
}

// NewHome builds the home screen from a monitor snapshot
func NewHome(m monitor.Snapshot, now time.Time) Home {
	clock := m.Clock
	if clock.IsZero() {
		clock = now
	}

	h := Home{
		Clock:     util.FormatClock(clock),
		Date:      util.FormatDate(clock),
		FireAlert: m.FireDetected(),
	}

	var temp, hum *float64
	if m.DHT.Value != nil {
		temp, hum = &m.DHT.Value.Temperature, &m.DHT.Value.Humidity
	}
	h.Temperature = util.Or(temp, unit("°C"))
	h.Humidity = util.Or(hum, unit("%"))

	switch {
	case m.Fire.Value == nil:
		h.FireText = "Fire status unknown"
	case h.FireAlert:
		h.FireText = "Fire detected! " + m.Fire.Value.DetectedAt
	default:
		h.FireText = "No fire detected"
	}

	if m.Fire.Err != "" {
		h.Error = "Fire status: " + m.Fire.Err
	}
	return h
}

// Sensors is the sensor dashboard
type Sensors struct {
	PM1         string
	PM25        string
	PM10        string
	Temperature string
	Humidity    string
	Errors      []string

	FireLogStatus string
	FireLogTime   string
	VideoName     string
	VideoURL      string
	VideoKey      int

	UpdatedAt string
}

// NewSensors builds the dashboard from a monitor snapshot
func NewSensors(m monitor.Snapshot, now time.Time) Sensors {
	s := Sensors{
		PM1:         util.Placeholder,
		PM25:        util.Placeholder,
		PM10:        util.Placeholder,
		Temperature: util.Placeholder,
		Humidity:    util.Placeholder,
		FireLogTime: util.Placeholder,
		VideoName:   m.Video.Name,
		VideoURL:    m.Video.URL,
		VideoKey:    m.Video.Key,
	}

	if pm := m.PM.Value; pm != nil {
		s.PM1 = util.FormatValue(pm.PM1_0, "µg/m³")
		s.PM25 = util.FormatValue(pm.PM2_5, "µg/m³")
		s.PM10 = util.FormatValue(pm.PM10, "µg/m³")
	}
	if dht := m.DHT.Value; dht != nil {
		s.Temperature = util.FormatValue(dht.Temperature, "°C")
		s.Humidity = util.FormatValue(dht.Humidity, "%")
	}

	s.FireLogStatus = fireLogStatus(m.FireLog.Value)
	if l := m.FireLog.Value; l != nil && l.DetectedAt != "" {
		s.FireLogTime = l.DetectedAt
	}

	for _, e := range []struct{ name, err string }{
		{"Air quality", m.PM.Err},
		{"Temperature", m.DHT.Err},
		{"Fire log", m.FireLog.Err},
	} {
		if e.err != "" {
			s.Errors = append(s.Errors, e.name+": "+e.err)
		}
	}

	s.UpdatedAt = "Updated " + util.FormatAge(now, latest(m.PM.UpdatedAt, m.DHT.UpdatedAt, m.FireLog.UpdatedAt))
	return s
}

func fireLogStatus(l *backend.FireLog) string {
	switch {
	case l == nil:
		return util.Placeholder
	case l.FireDetected:
		return "Fire detected"
	default:
		return "No fire"
	}
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}

// DeviceRow is one line of the beacon list
type DeviceRow struct {
	ID       string
	Title    string
	Subtitle string
	Band     string
}

// FloorPlan is the beacon scan screen
type FloorPlan struct {
	Adapter       string
	Scanning      bool
	ButtonLabel   string
	ButtonEnabled bool
	Status        string
	DeviceCount   string
	Strongest     *DeviceRow
	Devices       []DeviceRow
}

// NewFloorPlan builds the scan screen from a coordinator snapshot
func NewFloorPlan(b beacon.Snapshot, now time.Time) FloorPlan {
	f := FloorPlan{
		Adapter:  "Bluetooth: " + b.Power.Label(),
		Scanning: b.Session.Active,
	}

	switch {
	case b.Session.Active:
		f.ButtonLabel = "Stop scan"
		f.ButtonEnabled = true
		f.Status = "Scanning... " + util.FormatRemaining(now, b.Session.EndsAt()) + " left"
	case b.Power == beacon.PoweredOn:
		f.ButtonLabel = "Start scan"
		f.ButtonEnabled = true
		f.Status = "Not scanning"
	default:
		f.ButtonLabel = "Start scan"
		f.Status = "Turn Bluetooth on to scan"
	}

	switch n := len(b.Devices); n {
	case 0:
		f.DeviceCount = "No sensors found"
	case 1:
		f.DeviceCount = "1 sensor found"
	default:
		f.DeviceCount = strconv.Itoa(n) + " sensors found"
	}

	if b.Strongest != nil {
		row := NewDeviceRow(*b.Strongest)
		f.Strongest = &row
	}
	for _, d := range b.Devices {
		f.Devices = append(f.Devices, NewDeviceRow(d))
	}
	return f
}

// NewDeviceRow describes one discovered device
func NewDeviceRow(d beacon.Device) DeviceRow {
	sub := fmt.Sprintf("%s · %s", d.ID, util.FormatRSSI(d.RSSI))
	if d.HasBeaconInfo() {
		sub += fmt.Sprintf(" · ns %s / inst %s", d.NamespaceID, d.InstanceID)
	}
	return DeviceRow{
		ID:       d.ID,
		Title:    d.DisplayName(),
		Subtitle: sub,
		Band:     d.Band().String(),
	}
}

// Latest remembers the newest snapshot version rendered
type Latest struct {
	version uint64
}

// Accept reports whether a snapshot with the given version is not older
// than the last accepted one, and records it if so.
func (l *Latest) Accept(version uint64) bool {
	if version < l.version {
		return false
	}
	l.version = version
	return true
}
