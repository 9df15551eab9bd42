package beacon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscription struct {
	remove func()
}

func (s subscription) Remove() { s.remove() }

// fakeAdapter records commands and lets tests drive callbacks by hand
type fakeAdapter struct {
	mu sync.Mutex

	state       PowerState
	available   bool
	poweredOn   bool
	permitted   bool
	scanErr     error
	stopErr     error
	scanCalls   []ScanOptions
	stopCalls   int
	commands    []string
	scanGate    chan struct{}
	nextID      int
	stateCbs    map[int]func(PowerState)
	discoverCbs map[int]func(Advertisement)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		state:       PoweredOn,
		available:   true,
		poweredOn:   true,
		permitted:   true,
		stateCbs:    map[int]func(PowerState){},
		discoverCbs: map[int]func(Advertisement){},
	}
}

func (f *fakeAdapter) State(context.Context) (PowerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeAdapter) OnStateChange(cb func(PowerState)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.stateCbs[id] = cb
	return subscription{remove: func() {
		f.mu.Lock()
		delete(f.stateCbs, id)
		f.mu.Unlock()
	}}
}

func (f *fakeAdapter) IsAvailable(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available, nil
}

func (f *fakeAdapter) IsPoweredOn(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poweredOn, nil
}

func (f *fakeAdapter) RequestPermissions(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permitted, nil
}

func (f *fakeAdapter) OnDeviceDiscovered(cb func(Advertisement)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.discoverCbs[id] = cb
	return subscription{remove: func() {
		f.mu.Lock()
		delete(f.discoverCbs, id)
		f.mu.Unlock()
	}}
}

func (f *fakeAdapter) ScanForDevices(_ context.Context, opts ScanOptions) error {
	f.mu.Lock()
	gate := f.scanGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls = append(f.scanCalls, opts)
	f.commands = append(f.commands, "start")
	return f.scanErr
}

func (f *fakeAdapter) StopScan(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.commands = append(f.commands, "stop")
	return f.stopErr
}

func (f *fakeAdapter) commandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeAdapter) advertise(adv Advertisement) {
	f.mu.Lock()
	cbs := make([]func(Advertisement), 0, len(f.discoverCbs))
	for _, cb := range f.discoverCbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(adv)
	}
}

func (f *fakeAdapter) setState(state PowerState) {
	f.mu.Lock()
	f.state = state
	f.poweredOn = state == PoweredOn
	cbs := make([]func(PowerState), 0, len(f.stateCbs))
	for _, cb := range f.stateCbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(state)
	}
}

func (f *fakeAdapter) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeAdapter) listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discoverCbs)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, adapter *fakeAdapter, duration time.Duration) *Coordinator {
	t.Helper()
	c := NewCoordinator(context.Background(), adapter, Options{ScanDuration: duration}, testLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sensorAdv(id string, rssi int, payload string) Advertisement {
	return Advertisement{ID: id, Name: "RaspberryPi-Sensor-" + id, RSSI: intPtr(rssi), ManufacturerData: payload}
}

func TestStartScanIssuesDiscovery(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	require.NoError(t, c.StartScan(context.Background()))

	assert.True(t, c.Scanning())
	require.Len(t, adapter.scanCalls, 1)
	assert.True(t, adapter.scanCalls[0].AllowDuplicates)
	assert.Equal(t, 1, adapter.listeners())

	snap := c.Snapshot()
	assert.True(t, snap.Session.Active)
	assert.NotEmpty(t, snap.Session.ID)
	assert.Equal(t, time.Minute, snap.Session.Duration)
	assert.Equal(t, PoweredOn, snap.Power)
}

func TestStartScanWhileActive(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	require.NoError(t, c.StartScan(context.Background()))
	err := c.StartScan(context.Background())

	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Len(t, adapter.scanCalls, 1)
}

func TestStartScanPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeAdapter)
		wantErr error
	}{
		{"unavailable", func(f *fakeAdapter) { f.available = false }, ErrAdapterUnavailable},
		{"powered off", func(f *fakeAdapter) { f.poweredOn = false }, ErrAdapterOff},
		{"permission denied", func(f *fakeAdapter) { f.permitted = false }, ErrPermissionDenied},
		{"unavailable wins over off", func(f *fakeAdapter) { f.available = false; f.poweredOn = false }, ErrAdapterUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newFakeAdapter()
			tt.setup(adapter)
			c := newTestCoordinator(t, adapter, time.Minute)
			before := c.Snapshot()

			err := c.StartScan(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var pe *PreconditionError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, Notice(err))
			assert.Empty(t, adapter.scanCalls)
			assert.Equal(t, before, c.Snapshot())
		})
	}
}

func TestStartScanRejectedRollsBack(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.scanErr = errors.New("org.bluez.Error.InProgress")
	c := newTestCoordinator(t, adapter, time.Minute)

	err := c.StartScan(context.Background())

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "start scan", ce.Op)
	assert.False(t, c.Scanning())
	assert.Empty(t, c.Snapshot().Devices)
	assert.Zero(t, adapter.listeners())
	assert.Zero(t, adapter.stops())
}

func TestStopScanTwiceIssuesOneCommand(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))

	require.NoError(t, c.StopScan(context.Background()))
	require.NoError(t, c.StopScan(context.Background()))

	assert.Equal(t, 1, adapter.stops())
	assert.False(t, c.Scanning())
	assert.Zero(t, adapter.listeners())
}

func TestStopDuringStartCommandStopsAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.scanGate = make(chan struct{})
	c := newTestCoordinator(t, adapter, time.Minute)

	done := make(chan error, 1)
	go func() { done <- c.StartScan(context.Background()) }()

	require.Eventually(t, c.Scanning, time.Second, 5*time.Millisecond)
	require.NoError(t, c.StopScan(context.Background()))
	assert.False(t, c.Scanning())

	close(adapter.scanGate)
	require.NoError(t, <-done)

	assert.False(t, c.Scanning())
	assert.Equal(t, []string{"stop", "start", "stop"}, adapter.commandLog())
}

func TestStopScanWhileIdle(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	require.NoError(t, c.StopScan(context.Background()))
	assert.Zero(t, adapter.stops())
}

func TestStopScanRejectedStillEndsSession(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.stopErr = errors.New("not discovering")
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))

	err := c.StopScan(context.Background())

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "stop scan", ce.Op)
	assert.False(t, c.Scanning())
}

func TestStopScanKeepsRegistry(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))
	adapter.advertise(sensorAdv("a", -60, ""))

	require.NoError(t, c.StopScan(context.Background()))

	snap := c.Snapshot()
	assert.Len(t, snap.Devices, 1)
	require.NotNil(t, snap.Strongest)
	assert.Equal(t, "a", snap.Strongest.ID)
}

func TestScanStopsAutomatically(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, 20*time.Millisecond)

	require.NoError(t, c.StartScan(context.Background()))

	require.Eventually(t, func() bool { return adapter.stops() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, c.Scanning())
	assert.Zero(t, adapter.listeners())
}

func TestManualStopCancelsAutomaticStop(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, 30*time.Millisecond)

	require.NoError(t, c.StartScan(context.Background()))
	require.NoError(t, c.StopScan(context.Background()))
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, adapter.stops())
}

func TestAutomaticStopLeavesNewerSessionAlone(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))
	stale := c.Snapshot().Session.ID
	require.NoError(t, c.StopScan(context.Background()))
	require.NoError(t, c.StartScan(context.Background()))

	c.expire(stale)

	assert.True(t, c.Scanning())
	assert.Equal(t, 1, adapter.stops())
}

func TestAdvertisementsIgnoredWhileIdle(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	c.handleAdvertisement(sensorAdv("a", -40, ""))

	assert.Empty(t, c.Snapshot().Devices)
}

func TestStartScanClearsRegistry(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))
	adapter.advertise(sensorAdv("a", -40, ""))
	adapter.advertise(sensorAdv("b", -70, ""))
	require.NoError(t, c.StopScan(context.Background()))
	require.Len(t, c.Snapshot().Devices, 2)

	var first *Snapshot
	c.RegisterCallback(func(s Snapshot) {
		if first == nil && s.Session.Active {
			first = &s
		}
	})
	require.NoError(t, c.StartScan(context.Background()))

	require.NotNil(t, first)
	assert.Empty(t, first.Devices)
	assert.Nil(t, first.Strongest)

	adapter.advertise(sensorAdv("c", -80, ""))
	snap := c.Snapshot()
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "c", snap.Devices[0].ID)
}

func TestKitchenBeaconBecomesStrongest(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))

	adapter.advertise(Advertisement{
		ID:               "AA:BB:CC:DD:EE:01",
		Name:             "RaspberryPi-Sensor-01",
		RSSI:             intPtr(-60),
		ManufacturerData: encode("ns1;inst2;Kitchen;0"),
	})

	snap := c.Snapshot()
	require.Len(t, snap.Devices, 1)
	want := Device{
		ID:          "AA:BB:CC:DD:EE:01",
		Name:        "RaspberryPi-Sensor-01",
		RSSI:        intPtr(-60),
		NamespaceID: "ns1",
		InstanceID:  "inst2",
		DecodedName: "Kitchen",
	}
	assert.Equal(t, want, snap.Devices[0])
	require.NotNil(t, snap.Strongest)
	assert.Equal(t, want, *snap.Strongest)
}

func TestOtherDeviceLeavesStateUnchanged(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))
	adapter.advertise(sensorAdv("a", -60, ""))
	before := c.Snapshot()

	adapter.advertise(Advertisement{ID: "zz", Name: "OtherDevice", RSSI: intPtr(-10)})

	assert.Equal(t, before, c.Snapshot())
}

func TestPowerOffEndsSession(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)
	require.NoError(t, c.StartScan(context.Background()))

	adapter.setState(PoweredOff)

	assert.False(t, c.Scanning())
	assert.Equal(t, PoweredOff, c.Power())
	assert.Zero(t, adapter.listeners())
	assert.Zero(t, adapter.stops())

	err := c.StartScan(context.Background())
	assert.ErrorIs(t, err, ErrAdapterOff)
}

func TestPowerStateTracked(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.state = PoweredOff
	c := newTestCoordinator(t, adapter, time.Minute)
	assert.Equal(t, PoweredOff, c.Power())

	var seen []PowerState
	c.RegisterCallback(func(s Snapshot) { seen = append(seen, s.Power) })
	adapter.setState(PoweredOn)

	assert.Equal(t, []PowerState{PoweredOff, PoweredOn}, seen)
}

func TestUnregisteredCallbackIsNotCalled(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	var seen []PowerState
	unregister := c.RegisterCallback(func(s Snapshot) { seen = append(seen, s.Power) })
	unregister()
	adapter.setState(PoweredOff)

	assert.Equal(t, []PowerState{PoweredOn}, seen)
}

func TestSnapshotVersionIncreases(t *testing.T) {
	adapter := newFakeAdapter()
	c := newTestCoordinator(t, adapter, time.Minute)

	var versions []uint64
	c.RegisterCallback(func(s Snapshot) { versions = append(versions, s.Version) })
	require.NoError(t, c.StartScan(context.Background()))
	adapter.advertise(sensorAdv("a", -60, ""))
	adapter.advertise(sensorAdv("a", -55, ""))
	require.NoError(t, c.StopScan(context.Background()))

	require.Len(t, versions, 5)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestCloseStopsScan(t *testing.T) {
	adapter := newFakeAdapter()
	c := NewCoordinator(context.Background(), adapter, Options{}, testLogger())
	require.NoError(t, c.StartScan(context.Background()))

	require.NoError(t, c.Close())

	assert.Equal(t, 1, adapter.stops())
	assert.ErrorIs(t, c.StartScan(context.Background()), ErrClosed)

	adapter.mu.Lock()
	assert.Empty(t, adapter.stateCbs)
	adapter.mu.Unlock()
}

func TestDefaultScanDuration(t *testing.T) {
	c := NewCoordinator(context.Background(), newFakeAdapter(), Options{}, testLogger())
	defer c.Close()

	require.NoError(t, c.StartScan(context.Background()))
	assert.Equal(t, DefaultScanDuration, c.Snapshot().Session.Duration)
}

func TestNoAdapter(t *testing.T) {
	c := NewCoordinator(context.Background(), NoAdapter(), Options{}, testLogger())
	defer c.Close()

	assert.Equal(t, Unsupported, c.Power())

	err := c.StartScan(context.Background())
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	assert.False(t, c.Scanning())
	assert.NoError(t, c.StopScan(context.Background()))
}
