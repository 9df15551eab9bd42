// Package util holds display formatting shared by the tray and the window.
package util

import (
	"fmt"
	"time"
)

// Placeholder is shown for values that were never fetched
const Placeholder = "--"

// FormatValue renders a reading with one decimal and a unit
func FormatValue(v float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%.1f", v)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

// Or formats *p with f, or returns Placeholder when p is nil
func Or[T any](p *T, f func(T) string) string {
	if p == nil {
		return Placeholder
	}
	return f(*p)
}

// FormatRSSI renders a signal strength, "Unknown" when absent
func FormatRSSI(rssi *int) string {
	if rssi == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%d dBm", *rssi)
}

// FormatClock renders the time of day shown on the home screen
func FormatClock(t time.Time) string {
	return t.Format("15:04:05")
}

// FormatDate renders the date shown under the clock
func FormatDate(t time.Time) string {
	return t.Format("Monday, 2 January 2006")
}

// FormatAge describes how long ago t was, relative to now
func FormatAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return t.Format("2 Jan 15:04")
	}
}

// FormatRemaining renders the whole seconds left until end, never negative
func FormatRemaining(now, end time.Time) string {
	d := end.Sub(now)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%ds", int((d+time.Second-1)/time.Second))
}
