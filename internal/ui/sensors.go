package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"firewatch/internal/monitor"
	"firewatch/internal/ui/view"
)

type sensorsPage struct {
	root     *gtk.Box
	errLabel *gtk.Label
	updated  *gtk.Label
	refresh  *gtk.Button

	pm1, pm25, pm10       *adw.ActionRow
	temperature, humidity *adw.ActionRow
	logStatus, logTime    *adw.ActionRow
	video                 *gtk.LinkButton
	videoKey              int
}

func newSensorsPage(deps Deps) *sensorsPage {
	p := &sensorsPage{root: newPageBox()}

	air := adw.NewPreferencesGroup()
	air.SetTitle("Air quality")
	p.pm1 = newValueRow(air, "PM1.0")
	p.pm25 = newValueRow(air, "PM2.5")
	p.pm10 = newValueRow(air, "PM10")
	p.root.Append(air)

	climate := adw.NewPreferencesGroup()
	climate.SetTitle("Temperature & humidity")
	p.temperature = newValueRow(climate, "Temperature")
	p.humidity = newValueRow(climate, "Humidity")
	p.root.Append(climate)

	log := adw.NewPreferencesGroup()
	log.SetTitle("Fire log")
	p.logStatus = newValueRow(log, "Latest entry")
	p.logTime = newValueRow(log, "Detected at")
	p.video = gtk.NewLinkButtonWithLabel("about:blank", "Open clip")
	p.video.SetVisible(false)
	log.Add(p.video)
	p.root.Append(log)

	p.errLabel = newErrorLabel()
	p.root.Append(p.errLabel)

	p.updated = gtk.NewLabel("")
	p.updated.AddCSSClass("dim-label")
	p.root.Append(p.updated)

	p.refresh = gtk.NewButtonWithLabel("Refresh")
	p.refresh.SetHAlign(gtk.AlignCenter)
	p.refresh.ConnectClicked(func() {
		p.refresh.SetSensitive(false)
		background(deps.Monitor.Refresh, func(err error) {
			p.refresh.SetSensitive(true)
			if err != nil && !errors.Is(err, context.Canceled) {
				deps.Logger.Warn("manual refresh failed", "error", err)
			}
		})
	})
	p.root.Append(p.refresh)

	return p
}

func (p *sensorsPage) update(s monitor.Snapshot, now time.Time) {
	m := view.NewSensors(s, now)

	p.pm1.SetSubtitle(m.PM1)
	p.pm25.SetSubtitle(m.PM25)
	p.pm10.SetSubtitle(m.PM10)
	p.temperature.SetSubtitle(m.Temperature)
	p.humidity.SetSubtitle(m.Humidity)
	p.logStatus.SetSubtitle(m.FireLogStatus)
	p.logTime.SetSubtitle(m.FireLogTime)

	// The link only changes when a new clip is logged
	if m.VideoKey != p.videoKey {
		p.videoKey = m.VideoKey
		p.video.SetURI(m.VideoURL)
		p.video.SetLabel("Open clip " + m.VideoName)
	}
	p.video.SetVisible(m.VideoURL != "")

	setError(p.errLabel, strings.Join(m.Errors, "\n"))
	p.updated.SetText(m.UpdatedAt)
}
