// Package beacon finds the nearest sensor beacon with a bounded BLE scan.
//
// The Coordinator handles:
//   - Starting and stopping one time-bounded discovery session at a time
//   - Admitting advertisements from "RaspberryPi-Sensor" beacons only
//   - Decoding the namespace/instance/room fields from manufacturer data
//   - Keeping the strongest-signal device current after every advertisement
//   - Tracking the adapter power state and notifying listeners via callbacks
//
// All scan state lives in a ScanState value that is replaced, never mutated,
// by the pure functions Begin, Observe, End and Abort. The coordinator only
// serialises those replacements and talks to the adapter.
package beacon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultScanDuration is how long a scan runs before it stops on its own
const DefaultScanDuration = 30 * time.Second

// adapterCommandTimeout bounds stop commands issued outside a caller context
const adapterCommandTimeout = 5 * time.Second

// UpdateCallback is called with a snapshot after every committed change
type UpdateCallback func(Snapshot)

type listener struct {
	id int
	cb UpdateCallback
}

// Snapshot is a copy of the coordinator state safe to keep and read
type Snapshot struct {
	Version   uint64     `json:"version"`
	Power     PowerState `json:"power"`
	Session   Session    `json:"session"`
	Devices   []Device   `json:"devices"`
	Strongest *Device    `json:"strongest,omitempty"`
}

// Options configures a Coordinator
type Options struct {
	ScanDuration time.Duration
}

// Coordinator runs beacon scans against a platform adapter
type Coordinator struct {
	adapter  Adapter
	logger   *slog.Logger
	duration time.Duration

	mu        sync.RWMutex
	state     ScanState
	power     PowerState
	version   uint64
	listeners []listener
	nextID    int
	discovery Subscription
	stateSub  Subscription
	autoStop  *time.Timer
	closed    bool
}

// NewCoordinator creates a coordinator and starts tracking the adapter state
func NewCoordinator(ctx context.Context, adapter Adapter, opts Options, logger *slog.Logger) *Coordinator {
	duration := opts.ScanDuration
	if duration <= 0 {
		duration = DefaultScanDuration
	}

	c := &Coordinator{
		adapter:  adapter,
		logger:   logger,
		duration: duration,
		power:    PowerUnknown,
	}

	c.stateSub = adapter.OnStateChange(c.handlePowerState)

	state, err := adapter.State(ctx)
	if err != nil {
		logger.Warn("read bluetooth state", "error", err)
	} else {
		c.handlePowerState(state)
	}

	return c
}

// RegisterCallback registers a callback to be notified of state updates
// and calls it once with the current state. The returned function
// unregisters it.
func (c *Coordinator) RegisterCallback(cb UpdateCallback) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, cb: cb})
	snap := c.snapshotLocked()
	c.mu.Unlock()

	cb(snap)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the current state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Power returns the last reported adapter state
func (c *Coordinator) Power() PowerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.power
}

// Scanning reports whether a session is active
func (c *Coordinator) Scanning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Session.Active
}

// StartScan starts a new discovery session.
// The registry is cleared before any advertisement of the new session is
// processed. The session stops by itself after the scan duration.
func (c *Coordinator) StartScan(ctx context.Context) error {
	c.mu.RLock()
	active, closed := c.state.Session.Active, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if active {
		return ErrScanInProgress
	}

	if err := c.checkPreconditions(ctx); err != nil {
		c.logger.Warn("beacon scan not started", "error", err)
		return err
	}

	session := Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Duration:  c.duration,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Session.Active {
		c.mu.Unlock()
		return ErrScanInProgress
	}
	c.state = Begin(c.state, session)
	c.discovery = c.adapter.OnDeviceDiscovered(c.handleAdvertisement)
	snap := c.commitLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Info("beacon scan started", "session", session.ID, "duration", c.duration)

	if err := c.adapter.ScanForDevices(ctx, ScanOptions{AllowDuplicates: true}); err != nil {
		c.rollback(session.ID)
		return &CommandError{Op: "start scan", Err: err}
	}

	c.mu.Lock()
	current := c.state.Session.Active && c.state.Session.ID == session.ID
	if current {
		c.autoStop = time.AfterFunc(time.Until(session.EndsAt()), func() {
			c.expire(session.ID)
		})
	}
	idle := !c.state.Session.Active
	c.mu.Unlock()

	if idle {
		// The session ended while the start command was in flight. Its stop
		// command may have reached the adapter first, so stop again.
		stopCtx, cancel := context.WithTimeout(context.Background(), adapterCommandTimeout)
		defer cancel()
		if err := c.adapter.StopScan(stopCtx); err != nil {
			c.logger.Warn("stop superseded scan", "session", session.ID, "error", err)
		}
	}

	return nil
}

// checkPreconditions confirms the adapter can scan
func (c *Coordinator) checkPreconditions(ctx context.Context) error {
	available, err := c.adapter.IsAvailable(ctx)
	if err != nil || !available {
		return &PreconditionError{
			Kind:   ErrAdapterUnavailable,
			Notice: "Bluetooth unavailable: this device does not support Bluetooth",
		}
	}

	on, err := c.adapter.IsPoweredOn(ctx)
	if err != nil || !on {
		return &PreconditionError{
			Kind:   ErrAdapterOff,
			Notice: "Bluetooth is off: turn Bluetooth on to scan for beacons",
		}
	}

	granted, err := c.adapter.RequestPermissions(ctx)
	if err != nil || !granted {
		return &PreconditionError{
			Kind:   ErrPermissionDenied,
			Notice: "Permission error: Bluetooth access is required to scan for beacons",
		}
	}

	return nil
}

// rollback discards a session whose start command failed
func (c *Coordinator) rollback(sessionID string) {
	c.mu.Lock()
	if !c.state.Session.Active || c.state.Session.ID != sessionID {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()
	c.state = Abort(c.state)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.logger.Warn("beacon scan rolled back", "session", sessionID)
	c.notify(snap)
}

// StopScan ends the active session. It is a no-op when no session is active.
func (c *Coordinator) StopScan(ctx context.Context) error {
	return c.stop(ctx, "")
}

// expire is the automatic stop of one session
func (c *Coordinator) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), adapterCommandTimeout)
	defer cancel()
	if err := c.stop(ctx, sessionID); err != nil {
		c.logger.Warn("automatic scan stop", "session", sessionID, "error", err)
	}
}

// stop ends the active session, or only the given one if sessionID is set.
// Exactly one caller wins the session, so the stop command is sent once.
func (c *Coordinator) stop(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if !c.state.Session.Active || (sessionID != "" && c.state.Session.ID != sessionID) {
		c.mu.Unlock()
		return nil
	}
	ended := c.state.Session.ID
	c.releaseLocked()
	c.state = End(c.state)
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
	c.logger.Info("beacon scan stopped", "session", ended, "devices", len(snap.Devices))

	if err := c.adapter.StopScan(ctx); err != nil {
		return &CommandError{Op: "stop scan", Err: err}
	}
	return nil
}

// releaseLocked drops the discovery listener and the automatic stop
func (c *Coordinator) releaseLocked() {
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	if c.discovery != nil {
		c.discovery.Remove()
		c.discovery = nil
	}
}

// handleAdvertisement processes a single advertisement report
func (c *Coordinator) handleAdvertisement(adv Advertisement) {
	c.mu.Lock()
	next, changed := Observe(c.state, adv)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.state = next
	snap := c.commitLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// handlePowerState records an adapter state change. A session cannot
// survive the adapter leaving the powered-on state.
func (c *Coordinator) handlePowerState(state PowerState) {
	c.mu.Lock()
	if c.power == state {
		c.mu.Unlock()
		return
	}
	c.power = state
	interrupted := ""
	if state != PoweredOn && c.state.Session.Active {
		interrupted = c.state.Session.ID
		c.releaseLocked()
		c.state = End(c.state)
	}
	snap := c.commitLocked()
	c.mu.Unlock()

	if interrupted != "" {
		c.logger.Warn("beacon scan interrupted", "session", interrupted, "bluetooth", state.String())
	} else {
		c.logger.Info("bluetooth state changed", "state", state.String())
	}
	c.notify(snap)
}

// commitLocked bumps the version and snapshots the state. Caller holds mu.
func (c *Coordinator) commitLocked() Snapshot {
	c.version++
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: c.version,
		Power:   c.power,
		Session: c.state.Session,
		Devices: c.state.Registry.Devices(),
	}
	if c.state.Strongest != nil {
		strongest := *c.state.Strongest
		snap.Strongest = &strongest
	}
	return snap
}

// notify calls every callback outside the lock
func (c *Coordinator) notify(snap Snapshot) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()

	for _, l := range listeners {
		l.cb(snap)
	}
}

// Close stops any running scan and detaches from the adapter
func (c *Coordinator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), adapterCommandTimeout)
	defer cancel()

	err := c.StopScan(ctx)

	c.mu.Lock()
	c.closed = true
	if c.stateSub != nil {
		c.stateSub.Remove()
		c.stateSub = nil
	}
	c.listeners = nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop scan on close: %w", err)
	}
	return nil
}
