package ui

import (
	"time"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"firewatch/internal/beacon"
	"firewatch/internal/ui/view"
)

type floorPlanPage struct {
	root      *gtk.Box
	adapter   *gtk.Label
	status    *gtk.Label
	notice    *gtk.Label
	button    *gtk.Button
	count     *gtk.Label
	strongest *adw.ActionRow
	devices   *adw.PreferencesGroup
	rows      []*adw.ActionRow

	last    beacon.Snapshot
	pending bool
}

func newFloorPlanPage(deps Deps) *floorPlanPage {
	p := &floorPlanPage{root: newPageBox()}

	p.adapter = gtk.NewLabel("")
	p.adapter.AddCSSClass("dim-label")
	p.root.Append(p.adapter)

	p.button = gtk.NewButtonWithLabel("Start scan")
	p.button.AddCSSClass("suggested-action")
	p.button.SetHAlign(gtk.AlignCenter)
	p.button.ConnectClicked(func() { p.toggle(deps) })
	p.root.Append(p.button)

	p.status = gtk.NewLabel("")
	p.root.Append(p.status)

	p.notice = newErrorLabel()
	p.root.Append(p.notice)

	nearest := adw.NewPreferencesGroup()
	nearest.SetTitle("Nearest sensor")
	p.strongest = adw.NewActionRow()
	p.strongest.SetTitle("--")
	nearest.Add(p.strongest)
	p.root.Append(nearest)

	p.count = gtk.NewLabel("")
	p.count.AddCSSClass("dim-label")
	p.root.Append(p.count)

	p.devices = adw.NewPreferencesGroup()
	p.devices.SetTitle("Sensors")
	scroller := gtk.NewScrolledWindow()
	scroller.SetVExpand(true)
	scroller.SetChild(p.devices)
	p.root.Append(scroller)

	p.update(deps.Scanner.Snapshot(), time.Now())
	return p
}

func (p *floorPlanPage) toggle(deps Deps) {
	if p.pending {
		return
	}
	p.pending = true
	p.button.SetSensitive(false)
	setError(p.notice, "")

	cmd := deps.Scanner.StartScan
	if p.last.Session.Active {
		cmd = deps.Scanner.StopScan
	}
	background(cmd, func(err error) {
		p.pending = false
		if err != nil {
			deps.Logger.Warn("scan command failed", "error", err)
			setError(p.notice, beacon.Notice(err))
		}
		p.update(deps.Scanner.Snapshot(), time.Now())
	})
}

func (p *floorPlanPage) update(s beacon.Snapshot, now time.Time) {
	if s.Version < p.last.Version {
		return
	}
	p.last = s
	m := view.NewFloorPlan(s, now)

	p.adapter.SetText(m.Adapter)
	p.button.SetLabel(m.ButtonLabel)
	p.button.SetSensitive(m.ButtonEnabled && !p.pending)
	if m.Scanning {
		p.button.RemoveCSSClass("suggested-action")
		p.button.AddCSSClass("destructive-action")
	} else {
		p.button.RemoveCSSClass("destructive-action")
		p.button.AddCSSClass("suggested-action")
	}
	p.status.SetText(m.Status)
	p.count.SetText(m.DeviceCount)

	if m.Strongest != nil {
		p.strongest.SetTitle(m.Strongest.Title)
		p.strongest.SetSubtitle(m.Strongest.Subtitle + " · " + m.Strongest.Band)
	} else {
		p.strongest.SetTitle("--")
		p.strongest.SetSubtitle("")
	}

	for _, row := range p.rows {
		p.devices.Remove(row)
	}
	p.rows = p.rows[:0]
	for _, d := range m.Devices {
		row := adw.NewActionRow()
		row.SetTitle(d.Title)
		row.SetSubtitle(d.Subtitle)
		band := gtk.NewLabel(d.Band)
		band.AddCSSClass("dim-label")
		row.AddSuffix(band)
		p.devices.Add(row)
		p.rows = append(p.rows, row)
	}
}

// tick refreshes the countdown of an active scan
func (p *floorPlanPage) tick(now time.Time) {
	if !p.last.Session.Active {
		return
	}
	p.status.SetText(view.NewFloorPlan(p.last, now).Status)
}
