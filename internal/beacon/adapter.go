package beacon

import "context"

// PowerState is the power state reported by the platform Bluetooth adapter
type PowerState int

const (
	PowerUnknown PowerState = iota
	PoweredOn
	PoweredOff
	Resetting
	Unauthorized
	Unsupported
)

func (p PowerState) String() string {
	switch p {
	case PoweredOn:
		return "poweredOn"
	case PoweredOff:
		return "poweredOff"
	case Resetting:
		return "resetting"
	case Unauthorized:
		return "unauthorized"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Label returns the text shown to users for the adapter state
func (p PowerState) Label() string {
	switch p {
	case PoweredOn:
		return "On"
	case PoweredOff:
		return "Off"
	case Resetting:
		return "Resetting"
	case Unauthorized:
		return "Unauthorized"
	case Unsupported:
		return "Not supported"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name so snapshots serialise readably
func (p PowerState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Advertisement is a single advertisement report delivered by the adapter
type Advertisement struct {
	ID   string
	Name string
	RSSI *int // nil if the report carried no signal strength

	// ManufacturerData is the base64 encoded manufacturer payload, empty if absent
	ManufacturerData string
}

// ScanOptions configures a discovery session on the adapter
type ScanOptions struct {
	AllowDuplicates bool
}

// Subscription is returned by listener registrations
type Subscription interface {
	Remove()
}

// Adapter is the platform Bluetooth adapter the coordinator drives
type Adapter interface {
	State(ctx context.Context) (PowerState, error)
	OnStateChange(cb func(PowerState)) Subscription
	IsAvailable(ctx context.Context) (bool, error)
	IsPoweredOn(ctx context.Context) (bool, error)
	RequestPermissions(ctx context.Context) (bool, error)
	OnDeviceDiscovered(cb func(Advertisement)) Subscription
	ScanForDevices(ctx context.Context, opts ScanOptions) error
	StopScan(ctx context.Context) error
}

// NoAdapter returns an Adapter for hosts without Bluetooth. It always
// reports Unsupported, so every scan fails its preconditions.
func NoAdapter() Adapter {
	return noAdapter{}
}

type noAdapter struct{}

type noSubscription struct{}

func (noSubscription) Remove() {}

func (noAdapter) State(context.Context) (PowerState, error) { return Unsupported, nil }
func (noAdapter) OnStateChange(func(PowerState)) Subscription { return noSubscription{} }
func (noAdapter) IsAvailable(context.Context) (bool, error) { return false, nil }
func (noAdapter) IsPoweredOn(context.Context) (bool, error) { return false, nil }
func (noAdapter) RequestPermissions(context.Context) (bool, error) { return false, nil }
func (noAdapter) OnDeviceDiscovered(func(Advertisement)) Subscription { return noSubscription{} }
func (noAdapter) ScanForDevices(context.Context, ScanOptions) error { return ErrAdapterUnavailable }
func (noAdapter) StopScan(context.Context) error { return nil }
