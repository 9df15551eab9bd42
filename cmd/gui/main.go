package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"

	"firewatch/internal/auth"
	"firewatch/internal/backend"
	"firewatch/internal/beacon"
	"firewatch/internal/bluez"
	"firewatch/internal/config"
	"firewatch/internal/kvstore"
	"firewatch/internal/logger"
	"firewatch/internal/monitor"
	"firewatch/internal/schedule"
	"firewatch/internal/ui"
)

const appID = "io.firewatch.app"

var version = "0.1.0"

var (
	app    *adw.Application
	window *adw.ApplicationWindow
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultPath(), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Persisted session ===
	store, err := kvstore.Open(cfg.Storage.Path)
	if err != nil {
		log.Error("failed to open state store", "path", cfg.Storage.Path, "error", err)
		return 1
	}
	defer store.Close()

	client := backend.New(cfg.Backend, logger.Component(log, "backend"))
	session := auth.NewSession(client, store, logger.Component(log, "auth"))
	if err := session.Restore(ctx); err != nil {
		log.Warn("could not restore session", "error", err)
	}

	// === Polling ===
	sched := schedule.New(logger.Component(log, "schedule"))
	defer sched.Close()

	mon := monitor.New(client, sched, cfg.Polling, logger.Component(log, "monitor"))
	defer mon.Close()

	// === Beacon scanning ===
	adapter, closeAdapter := createAdapter(cfg.Beacon, log)
	defer closeAdapter()

	stateCtx, cancelState := context.WithTimeout(ctx, 5*time.Second)
	coord := beacon.NewCoordinator(stateCtx, adapter, beacon.Options{ScanDuration: cfg.Beacon.ScanDuration}, logger.Component(log, "beacon"))
	cancelState()
	defer coord.Close()

	// === Optional outer surfaces ===
	stopRelay := startRelay(ctx, cfg.Relay, mon, coord, log)
	defer stopRelay()

	stopAPI := startStatusAPI(cfg.StatusAPI, mon, coord, log)
	defer stopAPI()

	// === System tray ===
	tray := createTrayIndicator(mon, coord, log)
	defer tray.Stop()

	if err := mon.Start(); err != nil {
		log.Error("failed to start polling", "error", err)
		return 1
	}

	// === GUI ===
	app = adw.NewApplication(appID, 0)
	app.ConnectActivate(func() {
		if window != nil {
			window.Present()
			return
		}
		window = ui.Activate(app, ui.Deps{
			Monitor: mon,
			Scanner: coord,
			Session: session,
			Logger:  logger.Component(log, "ui"),
			Version: version,
		})
		window.ConnectCloseRequest(func() bool {
			window = nil
			return false
		})
	})

	go func() {
		<-ctx.Done()
		quitApp()
	}()

	log.Info("firewatch starting", "version", version, "config", *configPath)
	return app.Run([]string{os.Args[0]})
}

// createAdapter connects to BlueZ, falling back to an adapter that reports
// Bluetooth as unsupported when the system bus or the adapter is missing
func createAdapter(cfg config.BeaconConfig, log *slog.Logger) (beacon.Adapter, func()) {
	bz, err := bluez.New(cfg.Adapter, logger.Component(log, "bluez"))
	if err != nil {
		log.Warn("bluetooth unavailable, beacon scanning disabled", "error", err)
		return beacon.NoAdapter(), func() {}
	}
	return bz, func() {
		if err := bz.Close(); err != nil {
			log.Warn("failed to close bluez connection", "error", err)
		}
	}
}
