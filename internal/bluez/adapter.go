// Package bluez drives a Bluetooth adapter through the BlueZ D-Bus API.
//
// # D-Bus Connection Architecture
//
// An Adapter keeps one private system bus connection for its whole lifetime.
// Every call (state reads, discovery commands, managed object queries) and
// every signal subscription goes through that connection, so the signal
// goroutine sees the replies of its own commands in order.
//
// # Advertisements
//
// BlueZ has no advertisement callback. With discovery running it updates the
// org.bluez.Device1 object of each peripheral instead: new devices appear via
// ObjectManager.InterfacesAdded and every further report changes RSSI or
// ManufacturerData via Properties.PropertiesChanged. The adapter merges these
// updates into a per-device property cache and turns each update into a
// beacon.Advertisement built from the merged properties.
//
// With DuplicateData enabled in the discovery filter BlueZ emits an update for
// every received report, not only for changed values.
package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"firewatch/internal/beacon"
)

const (
	bluezService      = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	objectManagerIfc  = "org.freedesktop.DBus.ObjectManager"
	defaultAdapter    = "hci0"
	signalBufferSize  = 64
	propertiesChanged = propertiesIface + ".PropertiesChanged"
	interfacesAdded   = objectManagerIfc + ".InterfacesAdded"
	interfacesRemoved = objectManagerIfc + ".InterfacesRemoved"
)

// Adapter implements beacon.Adapter on top of BlueZ
type Adapter struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *slog.Logger

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup

	mu           sync.RWMutex
	adapterProps map[string]dbus.Variant
	devices      map[dbus.ObjectPath]map[string]dbus.Variant
	power        beacon.PowerState
	nextID       int
	stateCbs     map[int]func(beacon.PowerState)
	discoverCbs  map[int]func(beacon.Advertisement)
}

var _ beacon.Adapter = (*Adapter)(nil)

// New connects to the system bus and starts following the named adapter
// (hci0 when empty). A missing adapter is not an error: it is reported as
// beacon.Unsupported until BlueZ exposes it.
func New(name string, logger *slog.Logger) (*Adapter, error) {
	if name == "" {
		name = defaultAdapter
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	a := &Adapter{
		conn:         conn,
		path:         dbus.ObjectPath("/org/bluez/" + name),
		logger:       logger.With("adapter", name),
		signals:      make(chan *dbus.Signal, signalBufferSize),
		done:         make(chan struct{}),
		adapterProps: make(map[string]dbus.Variant),
		devices:      make(map[dbus.ObjectPath]map[string]dbus.Variant),
		stateCbs:     make(map[int]func(beacon.PowerState)),
		discoverCbs:  make(map[int]func(beacon.Advertisement)),
	}

	if err := a.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := a.loadManagedObjects(context.Background()); err != nil {
		a.logger.Warn("failed to load bluez objects", "error", err)
	}

	a.wg.Add(1)
	go a.watchSignals()

	return a, nil
}

// subscribe adds the match rules for the signals the adapter follows
func (a *Adapter) subscribe() error {
	rules := []string{
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'",
			bluezService, propertiesIface, a.path),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesAdded'",
			bluezService, objectManagerIfc),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesRemoved'",
			bluezService, objectManagerIfc),
	}

	for _, rule := range rules {
		if err := a.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			return fmt.Errorf("failed to add match rule: %w", err)
		}
	}

	a.conn.Signal(a.signals)
	return nil
}

// loadManagedObjects seeds the adapter and device caches
func (a *Adapter) loadManagedObjects(ctx context.Context) error {
	objects, err := a.managedObjects(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if props, ok := objects[a.path][adapterIface]; ok {
		a.adapterProps = props
		a.power = powerStateFromProps(props)
	} else {
		a.power = beacon.Unsupported
	}

	for p, ifaces := range objects {
		if props, ok := ifaces[deviceIface]; ok && isDevicePath(a.path, p) {
			a.devices[p] = props
		}
	}
	return nil
}

func (a *Adapter) managedObjects(ctx context.Context) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := a.conn.Object(bluezService, "/")
	if err := obj.CallWithContext(ctx, objectManagerIfc+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to get managed objects: %w", err)
	}
	return objects, nil
}

// State reads the adapter power state from BlueZ
func (a *Adapter) State(ctx context.Context) (beacon.PowerState, error) {
	var props map[string]dbus.Variant
	obj := a.conn.Object(bluezService, a.path)
	err := obj.CallWithContext(ctx, propertiesIface+".GetAll", 0, adapterIface).Store(&props)
	if err != nil {
		if state, ok := powerStateFromError(err); ok {
			a.setPower(state)
			return state, nil
		}
		return beacon.PowerUnknown, fmt.Errorf("failed to read adapter properties: %w", err)
	}

	a.mu.Lock()
	a.adapterProps = props
	a.mu.Unlock()

	state := powerStateFromProps(props)
	a.setPower(state)
	return state, nil
}

// IsAvailable reports whether BlueZ exposes the adapter
func (a *Adapter) IsAvailable(ctx context.Context) (bool, error) {
	state, err := a.State(ctx)
	if err != nil {
		return false, err
	}
	return state != beacon.Unsupported, nil
}

// IsPoweredOn reports whether the adapter radio is on
func (a *Adapter) IsPoweredOn(ctx context.Context) (bool, error) {
	state, err := a.State(ctx)
	if err != nil {
		return false, err
	}
	return state == beacon.PoweredOn, nil
}

// RequestPermissions checks that the bus policy lets this process use the
// adapter. There is no runtime prompt on Linux: access is granted by the
// BlueZ D-Bus policy, so a denied property read means no permission.
func (a *Adapter) RequestPermissions(ctx context.Context) (bool, error) {
	obj := a.conn.Object(bluezService, a.path)
	var discovering dbus.Variant
	err := obj.CallWithContext(ctx, propertiesIface+".Get", 0, adapterIface, "Discovering").Store(&discovering)
	if err != nil {
		if errorName(err) == errAccessDenied {
			return false, nil
		}
		return false, fmt.Errorf("failed to read adapter discovery state: %w", err)
	}
	return true, nil
}

// ScanForDevices sets an LE discovery filter and starts discovery
func (a *Adapter) ScanForDevices(ctx context.Context, opts beacon.ScanOptions) error {
	obj := a.conn.Object(bluezService, a.path)

	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(opts.AllowDuplicates),
	}
	if err := obj.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", err)
	}

	if err := obj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	a.logger.Debug("discovery started", "duplicates", opts.AllowDuplicates)
	return nil
}

// StopScan stops discovery
func (a *Adapter) StopScan(ctx context.Context) error {
	obj := a.conn.Object(bluezService, a.path)
	if err := obj.CallWithContext(ctx, adapterIface+".StopDiscovery", 0).Err; err != nil {
		return fmt.Errorf("failed to stop discovery: %w", err)
	}
	a.logger.Debug("discovery stopped")
	return nil
}

// KnownDevices lists the devices BlueZ currently holds for the adapter
func (a *Adapter) KnownDevices(ctx context.Context) ([]beacon.Advertisement, error) {
	objects, err := a.managedObjects(ctx)
	if err != nil {
		return nil, err
	}

	var out []beacon.Advertisement
	for p, ifaces := range objects {
		if props, ok := ifaces[deviceIface]; ok && isDevicePath(a.path, p) {
			out = append(out, advertisementFromProps(p, props))
		}
	}
	return out, nil
}

// OnStateChange registers a power state listener
func (a *Adapter) OnStateChange(cb func(beacon.PowerState)) beacon.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.stateCbs[id] = cb
	return &subscription{remove: func() {
		a.mu.Lock()
		delete(a.stateCbs, id)
		a.mu.Unlock()
	}}
}

// OnDeviceDiscovered registers an advertisement listener
func (a *Adapter) OnDeviceDiscovered(cb func(beacon.Advertisement)) beacon.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.discoverCbs[id] = cb
	return &subscription{remove: func() {
		a.mu.Lock()
		delete(a.discoverCbs, id)
		a.mu.Unlock()
	}}
}

// watchSignals dispatches bus signals until Close
func (a *Adapter) watchSignals() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done:
			return
		case sig, ok := <-a.signals:
			if !ok {
				return
			}
			a.handleSignal(sig)
		}
	}
}

func (a *Adapter) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case propertiesChanged:
		a.handlePropertiesChanged(sig)
	case interfacesAdded:
		a.handleInterfacesAdded(sig)
	case interfacesRemoved:
		a.handleInterfacesRemoved(sig)
	}
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	var invalidated []string
	if len(sig.Body) > 2 {
		invalidated, _ = sig.Body[2].([]string)
	}

	switch {
	case iface == adapterIface && sig.Path == a.path:
		a.mu.Lock()
		mergeProps(a.adapterProps, changed, invalidated)
		state := powerStateFromProps(a.adapterProps)
		a.mu.Unlock()
		a.setPower(state)

	case iface == deviceIface && isDevicePath(a.path, sig.Path):
		a.mu.Lock()
		props, ok := a.devices[sig.Path]
		if !ok {
			props = make(map[string]dbus.Variant)
			a.devices[sig.Path] = props
		}
		mergeProps(props, changed, invalidated)
		adv := advertisementFromProps(sig.Path, props)
		a.mu.Unlock()

		if isAdvertisementUpdate(changed) {
			a.emitAdvertisement(adv)
		}
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	p, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	if props, ok := ifaces[adapterIface]; ok && p == a.path {
		a.mu.Lock()
		a.adapterProps = props
		a.mu.Unlock()
		a.setPower(powerStateFromProps(props))
		return
	}

	props, ok := ifaces[deviceIface]
	if !ok || !isDevicePath(a.path, p) {
		return
	}

	a.mu.Lock()
	a.devices[p] = props
	adv := advertisementFromProps(p, props)
	a.mu.Unlock()

	a.emitAdvertisement(adv)
}

func (a *Adapter) handleInterfacesRemoved(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	p, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := sig.Body[1].([]string)
	if !ok {
		return
	}

	for _, iface := range ifaces {
		switch {
		case iface == adapterIface && p == a.path:
			a.mu.Lock()
			a.adapterProps = make(map[string]dbus.Variant)
			a.devices = make(map[dbus.ObjectPath]map[string]dbus.Variant)
			a.mu.Unlock()
			a.setPower(beacon.Unsupported)
		case iface == deviceIface:
			a.mu.Lock()
			delete(a.devices, p)
			a.mu.Unlock()
		}
	}
}

// setPower records the state and notifies listeners when it changed
func (a *Adapter) setPower(state beacon.PowerState) {
	a.mu.Lock()
	if a.power == state {
		a.mu.Unlock()
		return
	}
	a.power = state
	cbs := make([]func(beacon.PowerState), 0, len(a.stateCbs))
	for _, cb := range a.stateCbs {
		cbs = append(cbs, cb)
	}
	a.mu.Unlock()

	a.logger.Info("adapter state changed", "state", state.String())
	for _, cb := range cbs {
		cb(state)
	}
}

func (a *Adapter) emitAdvertisement(adv beacon.Advertisement) {
	a.mu.RLock()
	cbs := make([]func(beacon.Advertisement), 0, len(a.discoverCbs))
	for _, cb := range a.discoverCbs {
		cbs = append(cbs, cb)
	}
	a.mu.RUnlock()

	for _, cb := range cbs {
		cb(adv)
	}
}

// Close stops the signal goroutine and closes the bus connection
func (a *Adapter) Close() error {
	select {
	case <-a.done:
		return nil
	default:
	}

	a.conn.RemoveSignal(a.signals)
	close(a.done)
	a.wg.Wait()

	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("failed to close system bus: %w", err)
	}
	return nil
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() {
	s.once.Do(s.remove)
}
