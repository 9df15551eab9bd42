package beacon

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// SensorNameMarker is the substring every sensor beacon carries in its advertised name
const SensorNameMarker = "RaspberryPi-Sensor"

// Device is one entry of the registry.
// The decoded fields are empty when the latest advertisement carried no
// decodable manufacturer data.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RSSI        *int   `json:"rssi,omitempty"`
	NamespaceID string `json:"namespaceId,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
	DecodedName string `json:"decodedName,omitempty"`
}

// Band returns the signal band of the device
func (d Device) Band() SignalBand {
	return ClassifyRSSI(d.RSSI)
}

// HasBeaconInfo reports whether the manufacturer data was decoded
func (d Device) HasBeaconInfo() bool {
	return d.NamespaceID != ""
}

// DisplayName prefers the decoded room name over the advertised name
func (d Device) DisplayName() string {
	if d.DecodedName != "" {
		return d.DecodedName
	}
	return d.Name
}

// Registry is an immutable set of devices keyed by device id.
// Apply returns a new Registry and never changes the receiver.
type Registry struct {
	devices map[string]Device
}

// Len returns the number of registered devices
func (r Registry) Len() int {
	return len(r.devices)
}

// Get returns the device registered under id
func (r Registry) Get(id string) (Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// Devices returns the devices ordered by id
func (r Registry) Devices() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Admits reports whether an advertisement belongs to a sensor beacon
func Admits(adv Advertisement) bool {
	return adv.Name != "" && strings.Contains(adv.Name, SensorNameMarker)
}

// DeviceFromAdvertisement builds a registry entry from a single advertisement
func DeviceFromAdvertisement(adv Advertisement) Device {
	d := Device{
		ID:   adv.ID,
		Name: adv.Name,
	}
	if adv.RSSI != nil {
		rssi := *adv.RSSI
		d.RSSI = &rssi
	}
	if dec := DecodeManufacturerData(adv.ManufacturerData); dec.Status == DecodeOK {
		d.NamespaceID = dec.NamespaceID
		d.InstanceID = dec.InstanceID
		d.DecodedName = dec.Name
	}
	return d
}

// Apply inserts or overwrites the entry for the advertisement's device.
// The boolean is false when the advertisement is not from a sensor beacon,
// in which case the returned registry is the receiver.
func (r Registry) Apply(adv Advertisement) (Registry, bool) {
	if !Admits(adv) {
		return r, false
	}

	next := make(map[string]Device, len(r.devices)+1)
	for id, d := range r.devices {
		next[id] = d
	}
	next[adv.ID] = DeviceFromAdvertisement(adv)
	return Registry{devices: next}, true
}

// Strongest returns the device with the greatest RSSI. Devices without an
// RSSI are skipped and equal RSSI values resolve to the smallest id.
func (r Registry) Strongest() (Device, bool) {
	var best Device
	found := false
	for _, d := range r.devices {
		if d.RSSI == nil {
			continue
		}
		if !found || *d.RSSI > *best.RSSI || (*d.RSSI == *best.RSSI && d.ID < best.ID) {
			best = d
			found = true
		}
	}
	return best, found
}

// Session is one bounded discovery window
type Session struct {
	ID        string
	Active    bool
	StartedAt time.Time
	Duration  time.Duration
}

// MarshalJSON reports the duration in milliseconds
func (s Session) MarshalJSON() ([]byte, error) {
	out := struct {
		ID         string     `json:"id,omitempty"`
		Active     bool       `json:"active"`
		StartedAt  *time.Time `json:"startedAt,omitempty"`
		DurationMs int64      `json:"durationMs"`
	}{
		ID:         s.ID,
		Active:     s.Active,
		DurationMs: s.Duration.Milliseconds(),
	}
	if !s.StartedAt.IsZero() {
		out.StartedAt = &s.StartedAt
	}
	return json.Marshal(out)
}

// EndsAt returns when the session stops on its own
func (s Session) EndsAt() time.Time {
	return s.StartedAt.Add(s.Duration)
}

// ScanState is the complete state of the scan: the session, the registry
// and the strongest device derived from it.
type ScanState struct {
	Session   Session
	Registry  Registry
	Strongest *Device
}

// Begin starts a new session with an empty registry
func Begin(_ ScanState, session Session) ScanState {
	session.Active = true
	return ScanState{Session: session}
}

// Observe applies an advertisement to an active session and recomputes the
// strongest device. The boolean is false when the state did not change.
func Observe(s ScanState, adv Advertisement) (ScanState, bool) {
	if !s.Session.Active {
		return s, false
	}
	reg, ok := s.Registry.Apply(adv)
	if !ok {
		return s, false
	}
	s.Registry = reg
	s.Strongest = nil
	if d, ok := reg.Strongest(); ok {
		s.Strongest = &d
	}
	return s, true
}

// End marks the session inactive and keeps the registry for display
func End(s ScanState) ScanState {
	s.Session.Active = false
	return s
}

// Abort marks the session inactive and discards everything it collected
func Abort(s ScanState) ScanState {
	return ScanState{Session: Session{ID: s.Session.ID, StartedAt: s.Session.StartedAt, Duration: s.Session.Duration}}
}
