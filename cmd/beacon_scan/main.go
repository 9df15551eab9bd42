// beacon_scan runs one bounded beacon scan without the GUI and prints the
// sensors it found, strongest first.
//
// Usage:
//
//	go run ./cmd/beacon_scan -duration 10s
//	go run ./cmd/beacon_scan -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"firewatch/internal/beacon"
	"firewatch/internal/bluez"
	"firewatch/internal/config"
	"firewatch/internal/logger"
	"firewatch/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultPath(), "path to the YAML config file")
	adapterName := flag.String("adapter", "", "bluetooth adapter, overrides the config")
	duration := flag.Duration("duration", 0, "scan duration, overrides the config")
	asJSON := flag.Bool("json", false, "print the final snapshot as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *adapterName != "" {
		cfg.Beacon.Adapter = *adapterName
	}
	if *duration > 0 {
		cfg.Beacon.ScanDuration = *duration
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := bluez.New(cfg.Beacon.Adapter, logger.Component(log, "bluez"))
	if err != nil {
		log.Error("failed to open bluetooth adapter", "adapter", cfg.Beacon.Adapter, "error", err)
		return 1
	}
	defer adapter.Close()

	coord := beacon.NewCoordinator(ctx, adapter, beacon.Options{ScanDuration: cfg.Beacon.ScanDuration}, logger.Component(log, "beacon"))
	defer coord.Close()

	var mu sync.Mutex
	seen := map[string]bool{}
	started := false
	finished := make(chan struct{})
	coord.RegisterCallback(func(s beacon.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Session.Active {
			started = true
		}
		for _, d := range s.Devices {
			if !seen[d.ID] && !*asJSON {
				seen[d.ID] = true
				fmt.Printf("  found %s (%s)\n", d.DisplayName(), d.ID)
			}
		}
		if started && !s.Session.Active {
			select {
			case <-finished:
			default:
				close(finished)
			}
		}
	})

	if err := coord.StartScan(ctx); err != nil {
		fmt.Fprintln(os.Stderr, beacon.Notice(err))
		return 1
	}
	if !*asJSON {
		fmt.Printf("Scanning for sensor beacons on %s for %s...\n", cfg.Beacon.Adapter, cfg.Beacon.ScanDuration)
	}

	select {
	case <-finished:
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := coord.StopScan(stopCtx); err != nil {
			log.Warn("stop scan", "error", err)
		}
		cancel()
	}

	snap := coord.Snapshot()
	if *asJSON {
		return printJSON(snap)
	}
	printReport(snap)
	return 0
}

func printJSON(snap beacon.Snapshot) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		slog.Error("encode snapshot", "error", err)
		return 1
	}
	return 0
}

func printReport(snap beacon.Snapshot) {
	devices := append([]beacon.Device(nil), snap.Devices...)
	sort.SliceStable(devices, func(i, j int) bool {
		return rssiOf(devices[i]) > rssiOf(devices[j])
	})

	fmt.Println()
	fmt.Println(strings.Repeat("━", 60))
	if len(devices) == 0 {
		fmt.Println("No sensor beacons found")
	}
	for _, d := range devices {
		marker := " "
		if snap.Strongest != nil && snap.Strongest.ID == d.ID {
			marker = "*"
		}
		fmt.Printf("%s %-24s %-18s %-9s %s\n", marker, d.DisplayName(), d.ID, util.FormatRSSI(d.RSSI), d.Band())
		if d.HasBeaconInfo() {
			fmt.Printf("    namespace %s  instance %s\n", d.NamespaceID, d.InstanceID)
		}
	}
	fmt.Println(strings.Repeat("━", 60))
}

// rssiOf orders devices without a reading last
func rssiOf(d beacon.Device) int {
	if d.RSSI == nil {
		return -1 << 31
	}
	return *d.RSSI
}
