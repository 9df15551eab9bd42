// Package indicator shows the fire state, the room climate and the nearest
// beacon in the system tray.
package indicator

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"fyne.io/systray"

	"firewatch/internal/beacon"
	"firewatch/internal/monitor"
	"firewatch/internal/util"
)

var (
	//go:embed icon.png
	iconNormal []byte
	//go:embed icon_alarm.png
	iconAlarm []byte
)

// Summary is what the tray displays
type Summary struct {
	Fire        *bool
	Temperature *float64
	Humidity    *float64
	PM25        *float64
	Nearest     *beacon.Device
	Scanning    bool
}

// Alarm reports whether a fire is currently detected
func (s Summary) Alarm() bool {
	return s.Fire != nil && *s.Fire
}

func summarize(m monitor.Snapshot, b beacon.Snapshot) Summary {
	var s Summary
	if m.Fire.Value != nil {
		detected := m.Fire.Value.FireDetected
		s.Fire = &detected
	}
	if m.DHT.Value != nil {
		t, h := m.DHT.Value.Temperature, m.DHT.Value.Humidity
		s.Temperature, s.Humidity = &t, &h
	}
	if m.PM.Value != nil {
		pm := m.PM.Value.PM2_5
		s.PM25 = &pm
	}
	s.Nearest = b.Strongest
	s.Scanning = b.Session.Active
	return s
}

// Tooltip is the hover text of the tray icon
func Tooltip(s Summary) string {
	switch {
	case s.Alarm():
		return "firewatch - FIRE DETECTED"
	case s.Temperature != nil && s.Humidity != nil:
		return fmt.Sprintf("firewatch - %s, %s",
			util.FormatValue(*s.Temperature, "°C"), util.FormatValue(*s.Humidity, "%"))
	default:
		return "firewatch - waiting for data"
	}
}

// FireTitle is the menu line for the fire state
func FireTitle(s Summary) string {
	switch {
	case s.Fire == nil:
		return "  Fire:        " + util.Placeholder
	case *s.Fire:
		return "  Fire:        FIRE DETECTED"
	default:
		return "  Fire:        none"
	}
}

// ClimateTitles are the menu lines for temperature, humidity and PM2.5
func ClimateTitles(s Summary) [3]string {
	unit := func(u string) func(float64) string {
		return func(v float64) string { return util.FormatValue(v, u) }
	}
	return [3]string{
		"  Temperature: " + util.Or(s.Temperature, unit("°C")),
		"  Humidity:    " + util.Or(s.Humidity, unit("%")),
		"  PM2.5:       " + util.Or(s.PM25, unit("µg/m³")),
	}
}

// NearestTitle is the menu line for the strongest beacon
func NearestTitle(s Summary) string {
	if s.Nearest == nil {
		if s.Scanning {
			return "  Nearest:     scanning..."
		}
		return "  Nearest:     " + util.Placeholder
	}
	return fmt.Sprintf("  Nearest:     %s (%s)", s.Nearest.DisplayName(), util.FormatRSSI(s.Nearest.RSSI))
}

// ScanTitle is the label of the scan action
func ScanTitle(s Summary) string {
	if s.Scanning {
		return "Stop scan"
	}
	return "Scan for beacons"
}

// Indicator manages the system tray icon and menu
type Indicator struct {
	onScan       func(scanning bool)
	onShowWindow func()
	onQuit       func()
	logger       *slog.Logger

	mu       sync.Mutex
	mon      monitor.Snapshot
	scan     beacon.Snapshot
	ready    bool
	alarm    bool
	fireItem *systray.MenuItem
	climate  [3]*systray.MenuItem
	nearest  *systray.MenuItem
	scanItem *systray.MenuItem
}

// New creates a tray indicator. onScan receives whether a scan was running when clicked.
func New(onScan func(scanning bool), onShowWindow, onQuit func(), logger *slog.Logger) *Indicator {
	return &Indicator{
		onScan:       onScan,
		onShowWindow: onShowWindow,
		onQuit:       onQuit,
		logger:       logger,
	}
}

// Start initializes the system tray indicator
func (ind *Indicator) Start() {
	go systray.Run(ind.onReady, ind.onExit)
}

// Stop terminates the system tray indicator
func (ind *Indicator) Stop() {
	systray.Quit()
}

func (ind *Indicator) onReady() {
	systray.SetIcon(iconNormal)
	systray.SetTitle("firewatch")

	systray.AddMenuItem("Home", "Current readings").Disable()
	systray.AddSeparator()

	ind.mu.Lock()
	ind.fireItem = systray.AddMenuItem("", "Fire detection status")
	ind.fireItem.Disable()
	for i := range ind.climate {
		ind.climate[i] = systray.AddMenuItem("", "Room sensor")
		ind.climate[i].Disable()
	}
	systray.AddSeparator()
	ind.nearest = systray.AddMenuItem("", "Strongest sensor beacon")
	ind.nearest.Disable()
	ind.scanItem = systray.AddMenuItem("Scan for beacons", "Scan for nearby sensor beacons")
	ind.ready = true
	ind.mu.Unlock()

	systray.AddSeparator()
	mOpen := systray.AddMenuItem("Open firewatch", "Show the main window")
	mQuit := systray.AddMenuItem("Quit", "Exit firewatch")

	ind.render()

	go func() {
		for {
			select {
			case <-ind.scanItem.ClickedCh:
				if ind.onScan != nil {
					ind.mu.Lock()
					scanning := ind.scan.Session.Active
					ind.mu.Unlock()
					ind.onScan(scanning)
				}
			case <-mOpen.ClickedCh:
				if ind.onShowWindow != nil {
					ind.onShowWindow()
				}
			case <-mQuit.ClickedCh:
				if ind.onQuit != nil {
					ind.onQuit()
				}
				return
			}
		}
	}()
}

func (ind *Indicator) onExit() {
	ind.logger.Info("system tray indicator exited")
}

// UpdateMonitor refreshes the readings shown in the tray
func (ind *Indicator) UpdateMonitor(s monitor.Snapshot) {
	ind.mu.Lock()
	ind.mon = s
	ind.mu.Unlock()
	ind.render()
}

// UpdateScan refreshes the nearest beacon shown in the tray
func (ind *Indicator) UpdateScan(s beacon.Snapshot) {
	ind.mu.Lock()
	ind.scan = s
	ind.mu.Unlock()
	ind.render()
}

func (ind *Indicator) render() {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if !ind.ready {
		return
	}

	s := summarize(ind.mon, ind.scan)
	systray.SetTooltip(Tooltip(s))
	if s.Alarm() != ind.alarm {
		ind.alarm = s.Alarm()
		if ind.alarm {
			systray.SetIcon(iconAlarm)
		} else {
			systray.SetIcon(iconNormal)
		}
	}

	ind.fireItem.SetTitle(FireTitle(s))
	for i, title := range ClimateTitles(s) {
		ind.climate[i].SetTitle(title)
	}
	ind.nearest.SetTitle(NearestTitle(s))
	ind.scanItem.SetTitle(ScanTitle(s))
}
