// debug_bluez_discover lists the sensor beacons BlueZ already knows about and
// decodes their manufacturer data.
//
// BlueZ keeps recently seen devices as org.bluez.Device1 objects, so this
// works without starting discovery. With -raw every Device1 property of
// each sensor is dumped as well.
//
// Usage:
//
//	go run ./cmd/debug_bluez_discover
//	go run ./cmd/debug_bluez_discover -raw
//
// Requirements:
//   - BlueZ Bluetooth stack must be running
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"firewatch/internal/beacon"
	"firewatch/internal/bluez"
	"firewatch/internal/util"
)

func main() {
	adapterName := flag.String("adapter", "hci0", "bluetooth adapter")
	raw := flag.Bool("raw", false, "dump all Device1 properties")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	adapter, err := bluez.New(*adapterName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open adapter %s: %v\n", *adapterName, err)
		os.Exit(1)
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := adapter.State(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read adapter state: %v\n", err)
	}
	fmt.Printf("Adapter %s: %s\n\n", *adapterName, state.Label())

	known, err := adapter.KnownDevices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
		os.Exit(1)
	}

	var props map[string]map[string]dbus.Variant
	if *raw {
		props = deviceProperties()
	}

	found := 0
	for _, adv := range known {
		if !beacon.Admits(adv) {
			continue
		}
		found++
		printSensor(adv)
		if p, ok := props[adv.ID]; ok {
			printProperties(p)
		}
		fmt.Println(strings.Repeat("=", 60))
	}

	if found == 0 {
		fmt.Println("No sensor beacons known to BlueZ.")
		fmt.Println("Run a scan (cmd/beacon_scan) and try again.")
	}
}

func printSensor(adv beacon.Advertisement) {
	fmt.Printf("Found sensor: %s\n", adv.Name)
	fmt.Printf("  Address: %s\n", adv.ID)
	fmt.Printf("  RSSI:    %s (%s)\n", util.FormatRSSI(adv.RSSI), beacon.ClassifyRSSI(adv.RSSI))

	decoded := beacon.DecodeManufacturerData(adv.ManufacturerData)
	fmt.Printf("  Manufacturer data: %s\n", decoded.Status)
	if adv.ManufacturerData != "" {
		fmt.Printf("    base64:    %s\n", adv.ManufacturerData)
	}
	if decoded.Status == beacon.DecodeOK {
		fmt.Printf("    namespace: %s\n", decoded.NamespaceID)
		fmt.Printf("    instance:  %s\n", decoded.InstanceID)
		fmt.Printf("    name:      %s\n", decoded.Name)
	}
}

func printProperties(props map[string]dbus.Variant) {
	fmt.Printf("\n--- All Device Properties ---\n")
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := props[key]
		fmt.Printf("  %s: %v (type: %s)\n", key, v.Value(), v.Signature().String())
	}
}

// deviceProperties reads Device1 properties keyed by address straight from BlueZ
func deviceProperties() map[string]map[string]dbus.Variant {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to system bus: %v\n", err)
		return nil
	}
	defer conn.Close()

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := conn.Object("org.bluez", "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get managed objects: %v\n", err)
		return nil
	}

	out := make(map[string]map[string]dbus.Variant)
	for _, ifaces := range objects {
		props, ok := ifaces["org.bluez.Device1"]
		if !ok {
			continue
		}
		if addr, ok := props["Address"].Value().(string); ok {
			out[addr] = props
		}
	}
	return out
}
