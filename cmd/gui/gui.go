package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/diamondburned/gotk4/pkg/glib/v2"

	"firewatch/internal/beacon"
	"firewatch/internal/config"
	"firewatch/internal/indicator"
	"firewatch/internal/logger"
	"firewatch/internal/monitor"
	"firewatch/internal/relay"
	"firewatch/internal/statusapi"
)

// createTrayIndicator creates the system tray indicator and feeds it state updates
func createTrayIndicator(mon *monitor.Monitor, coord *beacon.Coordinator, log *slog.Logger) *indicator.Indicator {
	tray := indicator.New(
		func(scanning bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			cmd := coord.StartScan
			if scanning {
				cmd = coord.StopScan
			}
			if err := cmd(ctx); err != nil {
				log.Warn("scan from tray failed", "notice", beacon.Notice(err))
			}
		},
		showWindow,
		quitApp,
		logger.Component(log, "tray"),
	)
	tray.Start()

	mon.RegisterCallback(tray.UpdateMonitor)
	coord.RegisterCallback(tray.UpdateScan)

	return tray
}

// startRelay connects the MQTT relay when enabled and returns its teardown
func startRelay(ctx context.Context, cfg config.RelayConfig, mon *monitor.Monitor, coord *beacon.Coordinator, log *slog.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	relayLog := logger.Component(log, "relay")
	pub, err := relay.Dial(cfg, relayLog)
	if err != nil {
		log.Warn("mqtt relay disabled", "error", err)
		return func() {}
	}

	r := relay.New(pub, cfg, relayLog)
	mon.RegisterCallback(r.HandleMonitor)
	coord.RegisterCallback(r.HandleScan)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		r.Run(runCtx)
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

// startStatusAPI serves the local status API when enabled and returns its teardown
func startStatusAPI(cfg config.StatusAPIConfig, mon *monitor.Monitor, coord *beacon.Coordinator, log *slog.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	srv := statusapi.New(cfg.Listen, mon, coord, logger.Component(log, "statusapi"))
	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("status api stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("status api shutdown", "error", err)
		}
	}
}

// showWindow displays the main application window
func showWindow() {
	glib.IdleAdd(func() {
		if window != nil {
			window.Present()
		} else if app != nil {
			app.Activate()
		}
	})
}

// quitApp quits the entire application
func quitApp() {
	glib.IdleAdd(func() {
		if app != nil {
			app.Quit()
		}
	})
}
