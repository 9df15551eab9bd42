package bluez

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"firewatch/internal/beacon"
)

// D-Bus error names BlueZ and the bus daemon reply with
const (
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

// powerStateFromProps maps org.bluez.Adapter1 properties to a power state.
// PowerState is only present on newer BlueZ releases, Powered always is.
func powerStateFromProps(props map[string]dbus.Variant) beacon.PowerState {
	if state := getStringProp(props, "PowerState"); state != "" {
		switch state {
		case "on":
			return beacon.PoweredOn
		case "off", "off-blocked":
			return beacon.PoweredOff
		case "off-enabling", "on-disabling":
			return beacon.Resetting
		}
	}

	v, ok := props["Powered"]
	if !ok {
		return beacon.PowerUnknown
	}
	if powered, ok := v.Value().(bool); ok && powered {
		return beacon.PoweredOn
	}
	return beacon.PoweredOff
}

// powerStateFromError maps a failed adapter read to a power state
func powerStateFromError(err error) (beacon.PowerState, bool) {
	switch errorName(err) {
	case errUnknownObject, errUnknownMethod, errServiceUnknown, errNameHasNoOwner:
		return beacon.Unsupported, true
	case errAccessDenied:
		return beacon.Unauthorized, true
	}
	return beacon.PowerUnknown, false
}

// errorName returns the D-Bus error name carried by err, or ""
func errorName(err error) string {
	var de dbus.Error
	if errors.As(err, &de) {
		return de.Name
	}
	var dep *dbus.Error
	if errors.As(err, &dep) && dep != nil {
		return dep.Name
	}
	return ""
}

// advertisementFromProps builds an advertisement from cached org.bluez.Device1 properties
func advertisementFromProps(p dbus.ObjectPath, props map[string]dbus.Variant) beacon.Advertisement {
	adv := beacon.Advertisement{
		ID:   getStringProp(props, "Address"),
		Name: getStringProp(props, "Name"),
	}
	if adv.ID == "" {
		adv.ID = addressFromPath(p)
	}
	if adv.Name == "" {
		adv.Name = getStringProp(props, "Alias")
	}

	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			val := int(rssi)
			adv.RSSI = &val
		}
	}

	if v, ok := props["ManufacturerData"]; ok {
		if data, ok := v.Value().(map[uint16]dbus.Variant); ok {
			adv.ManufacturerData = encodeManufacturerData(data)
		}
	}

	return adv
}

// encodeManufacturerData re-encodes BlueZ manufacturer data the way mobile
// stacks expose it: base64 of the little endian company id followed by the
// payload. Several company entries are concatenated in company id order.
func encodeManufacturerData(data map[uint16]dbus.Variant) string {
	if len(data) == 0 {
		return ""
	}

	ids := make([]int, 0, len(data))
	for id := range data {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var raw []byte
	for _, id := range ids {
		payload, ok := data[uint16(id)].Value().([]byte)
		if !ok {
			continue
		}
		raw = binary.LittleEndian.AppendUint16(raw, uint16(id))
		raw = append(raw, payload...)
	}
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// addressFromPath turns /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF into AA:BB:CC:DD:EE:FF
func addressFromPath(p dbus.ObjectPath) string {
	base := path.Base(string(p))
	if !strings.HasPrefix(base, "dev_") {
		return string(p)
	}
	return strings.ReplaceAll(strings.TrimPrefix(base, "dev_"), "_", ":")
}

// isDevicePath reports whether p is a device object of the adapter
func isDevicePath(adapter, p dbus.ObjectPath) bool {
	return strings.HasPrefix(string(p), string(adapter)+"/dev_") &&
		!strings.Contains(strings.TrimPrefix(string(p), string(adapter)+"/"), "/")
}

// mergeProps applies a PropertiesChanged update to a cached property set
func mergeProps(dst, changed map[string]dbus.Variant, invalidated []string) {
	for k, v := range changed {
		dst[k] = v
	}
	for _, k := range invalidated {
		delete(dst, k)
	}
}

// isAdvertisementUpdate reports whether a property change carries advertisement data
func isAdvertisementUpdate(changed map[string]dbus.Variant) bool {
	for _, k := range []string{"RSSI", "ManufacturerData", "Name"} {
		if _, ok := changed[k]; ok {
			return true
		}
	}
	return false
}

func getStringProp(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}
