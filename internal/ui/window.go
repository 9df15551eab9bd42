// Package ui is the GTK4/libadwaita window.
//
// Screens only render view models from internal/ui/view. State arrives
// through the monitor, scanner and session callbacks, which run on worker
// goroutines, so every widget update is marshalled onto the GTK main loop
// with glib.IdleAdd. Blocking calls (HTTP, D-Bus) are made from goroutines
// and their results are posted back the same way.
//
// Closing the window detaches every callback and removes the countdown
// source. Updates already posted to the main loop are dropped.
package ui

import (
	"context"
	"log/slog"
	"time"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4/pkg/glib/v2"

	"firewatch/internal/auth"
	"firewatch/internal/backend"
	"firewatch/internal/beacon"
	"firewatch/internal/monitor"
	"firewatch/internal/ui/view"
)

// requestTimeout bounds blocking calls started from the window
const requestTimeout = 10 * time.Second

// Monitor is the polled backend state
type Monitor interface {
	Snapshot() monitor.Snapshot
	RegisterCallback(cb monitor.UpdateCallback) func()
	Refresh(ctx context.Context) error
}

// Scanner is the beacon scan coordinator
type Scanner interface {
	Snapshot() beacon.Snapshot
	RegisterCallback(cb beacon.UpdateCallback) func()
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
}

// Session is the login state
type Session interface {
	IsAuthenticated() bool
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, r auth.Registration) error
	Logout(ctx context.Context) error
	AccountDetails(ctx context.Context) (backend.UserDetails, error)
	RegisterCallback(cb auth.UpdateCallback) func()
}

// Deps are the services the window renders and drives
type Deps struct {
	Monitor Monitor
	Scanner Scanner
	Session Session
	Logger  *slog.Logger
	Version string
}

// Activate builds and presents the main window
func Activate(app *adw.Application, deps Deps) *adw.ApplicationWindow {
	win := adw.NewApplicationWindow(&app.Application)
	win.SetTitle("firewatch")
	win.SetDefaultSize(420, 640)

	b := newBindings(func(fn func()) { glib.IdleAdd(fn) })
	setupUI(win, deps, b)
	win.ConnectCloseRequest(func() bool {
		b.release()
		return false
	})
	win.Present()

	return win
}

func setupUI(win *adw.ApplicationWindow, deps Deps, b *bindings) {
	headerBar := adw.NewHeaderBar()

	viewStack := adw.NewViewStack()
	viewSwitcher := adw.NewViewSwitcher()
	viewSwitcher.SetStack(viewStack)
	viewSwitcher.SetPolicy(adw.ViewSwitcherPolicyWide)
	headerBar.SetTitleWidget(viewSwitcher)

	home := newHomePage()
	sensors := newSensorsPage(deps)
	floor := newFloorPlanPage(deps)
	settings := newSettingsPage(deps)

	homePage := viewStack.AddTitledWithIcon(home.root, "home", "Home", "go-home-symbolic")
	viewStack.AddTitledWithIcon(sensors.root, "sensors", "Sensors", "weather-few-clouds-symbolic")
	viewStack.AddTitledWithIcon(floor.root, "floorplan", "Floor plan", "bluetooth-symbolic")
	viewStack.AddTitledWithIcon(settings.root, "settings", "Settings", "preferences-system-symbolic")

	toolbarView := adw.NewToolbarView()
	toolbarView.AddTopBar(headerBar)
	toolbarView.SetContent(viewStack)
	win.SetContent(toolbarView)

	// Sensor readings commit concurrently, so snapshots can arrive out of order
	var rendered view.Latest
	render := func(s monitor.Snapshot) {
		if !rendered.Accept(s.Version) {
			return
		}
		now := time.Now()
		home.update(s, now)
		sensors.update(s, now)
		homePage.SetNeedsAttention(s.FireDetected())
	}
	render(deps.Monitor.Snapshot())
	b.add(deps.Monitor.RegisterCallback(func(s monitor.Snapshot) {
		b.idle(func() { render(s) })
	}))

	b.add(deps.Scanner.RegisterCallback(func(s beacon.Snapshot) {
		b.idle(func() { floor.update(s, time.Now()) })
	}))
	// Keeps the remaining scan time ticking between scanner updates
	tick := glib.TimeoutSecondsAdd(1, func() bool {
		floor.tick(time.Now())
		return true
	})
	b.add(func() { glib.SourceRemove(tick) })

	settings.update(deps.Session.IsAuthenticated())
	b.add(deps.Session.RegisterCallback(func(authenticated bool) {
		b.idle(func() { settings.update(authenticated) })
	}))
}

// bindings ties service callbacks and main loop sources to the window.
// All methods except idle's posted closure run on the main loop.
type bindings struct {
	post   func(func())
	closed bool
	unbind []func()
}

func newBindings(post func(func())) *bindings {
	return &bindings{post: post}
}

// add records a function to call when the window goes away
func (b *bindings) add(unbind func()) {
	if b.closed {
		unbind()
		return
	}
	b.unbind = append(b.unbind, unbind)
}

// idle posts fn to the main loop unless the window has been released by then
func (b *bindings) idle(fn func()) {
	b.post(func() {
		if b.closed {
			return
		}
		fn()
	})
}

// release detaches everything in reverse order. It is safe to call twice.
func (b *bindings) release() {
	if b.closed {
		return
	}
	b.closed = true
	for i := len(b.unbind) - 1; i >= 0; i-- {
		b.unbind[i]()
	}
	b.unbind = nil
}

// background runs fn off the main loop and posts done back to it
func background(fn func(ctx context.Context) error, done func(error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := fn(ctx)
		glib.IdleAdd(func() { done(err) })
	}()
}
