package ui

import (
	"time"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"firewatch/internal/monitor"
	"firewatch/internal/ui/view"
)

type homePage struct {
	root        *gtk.Box
	clock       *gtk.Label
	date        *gtk.Label
	fire        *gtk.Label
	errLabel    *gtk.Label
	temperature *adw.ActionRow
	humidity    *adw.ActionRow
}

func newHomePage() *homePage {
	p := &homePage{root: newPageBox()}

	p.clock = gtk.NewLabel("")
	p.clock.AddCSSClass("title-1")
	p.root.Append(p.clock)

	p.date = gtk.NewLabel("")
	p.date.AddCSSClass("dim-label")
	p.root.Append(p.date)

	p.fire = gtk.NewLabel("")
	p.fire.AddCSSClass("title-2")
	p.fire.SetWrap(true)
	p.root.Append(p.fire)

	p.errLabel = newErrorLabel()
	p.root.Append(p.errLabel)

	group := adw.NewPreferencesGroup()
	group.SetTitle("Room")
	p.temperature = newValueRow(group, "Temperature")
	p.humidity = newValueRow(group, "Humidity")
	p.root.Append(group)

	return p
}

func (p *homePage) update(s monitor.Snapshot, now time.Time) {
	m := view.NewHome(s, now)

	p.clock.SetText(m.Clock)
	p.date.SetText(m.Date)
	p.fire.SetText(m.FireText)
	if m.FireAlert {
		p.fire.RemoveCSSClass("success")
		p.fire.AddCSSClass("error")
	} else {
		p.fire.RemoveCSSClass("error")
		p.fire.AddCSSClass("success")
	}
	setError(p.errLabel, m.Error)
	p.temperature.SetSubtitle(m.Temperature)
	p.humidity.SetSubtitle(m.Humidity)
}

func newPageBox() *gtk.Box {
	box := gtk.NewBox(gtk.OrientationVertical, 20)
	box.SetMarginTop(20)
	box.SetMarginBottom(20)
	box.SetMarginStart(20)
	box.SetMarginEnd(20)
	return box
}

func newValueRow(group *adw.PreferencesGroup, title string) *adw.ActionRow {
	row := adw.NewActionRow()
	row.SetTitle(title)
	row.SetSubtitle("--")
	group.Add(row)
	return row
}

func newErrorLabel() *gtk.Label {
	l := gtk.NewLabel("")
	l.AddCSSClass("error")
	l.SetWrap(true)
	l.SetVisible(false)
	return l
}

func setError(l *gtk.Label, msg string) {
	l.SetText(msg)
	l.SetVisible(msg != "")
}
