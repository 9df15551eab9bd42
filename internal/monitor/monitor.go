// Package monitor polls the sensor and fire log services and keeps the
// latest known readings for the screens.
//
// Three tasks run on the scheduler:
//   - fire-status: the latest fire log for the home alert banner, plus the clock
//   - sensors: particulate matter and temperature/humidity readings
//   - fire-log: the latest fire log for the log view and its video clip
//
// A failed fetch keeps the last known value of its panel and records the
// error text next to it. The next tick is the retry.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"firewatch/internal/backend"
	"firewatch/internal/schedule"
)

// Default polling intervals
const (
	DefaultFireStatusInterval = 1 * time.Second
	DefaultSensorsInterval    = 5 * time.Second
	DefaultFireLogInterval    = 5 * time.Second
)

// ErrClosed is returned by Start and Refresh after Close
var ErrClosed = errors.New("monitor closed")

// Source is the subset of the backend client the monitor reads from
type Source interface {
	PMS(ctx context.Context) (backend.PMReading, error)
	DHT(ctx context.Context) (backend.DHTReading, error)
	LatestFireLog(ctx context.Context) (backend.FireLog, error)
	VideoURL(name string) string
}

// Intervals configures the polling periods
type Intervals struct {
	FireStatus time.Duration `yaml:"fire_status"`
	Sensors    time.Duration `yaml:"sensors"`
	FireLog    time.Duration `yaml:"fire_log"`
}

// DefaultIntervals returns the standard polling periods
func DefaultIntervals() Intervals {
	return Intervals{
		FireStatus: DefaultFireStatusInterval,
		Sensors:    DefaultSensorsInterval,
		FireLog:    DefaultFireLogInterval,
	}
}

// Panel is the last known value of one reading and the error of the latest fetch
type Panel[T any] struct {
	Value     *T        `json:"value,omitempty"`
	Err       string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Known reports whether a value was ever fetched
func (p Panel[T]) Known() bool {
	return p.Value != nil
}

// Video identifies the clip of the latest fire log. Key changes only when
// the clip name changes, so players reload on a new clip and not on every poll.
type Video struct {
	Key  int    `json:"key"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Snapshot is a copy of the monitor state
type Snapshot struct {
	Version uint64                    `json:"version"`
	Clock   time.Time                 `json:"clock"`
	Fire    Panel[backend.FireLog]    `json:"fire"`
	PM      Panel[backend.PMReading]  `json:"pm"`
	DHT     Panel[backend.DHTReading] `json:"dht"`
	FireLog Panel[backend.FireLog]    `json:"fireLog"`
	Video   Video                     `json:"video"`
}

// FireDetected reports whether the latest known fire status is an alarm
func (s Snapshot) FireDetected() bool {
	return s.Fire.Value != nil && s.Fire.Value.FireDetected
}

// UpdateCallback is called with a snapshot after every change
type UpdateCallback func(Snapshot)

type listener struct {
	id int
	cb UpdateCallback
}

// Monitor polls the backend on a scheduler
type Monitor struct {
	src       Source
	sched     *schedule.Scheduler
	intervals Intervals
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	state     Snapshot
	listeners []listener
	nextID    int
	tasks     []*schedule.Task
	closed    bool
}

// New creates a monitor. Zero intervals use the defaults.
func New(src Source, sched *schedule.Scheduler, intervals Intervals, logger *slog.Logger) *Monitor {
	def := DefaultIntervals()
	if intervals.FireStatus <= 0 {
		intervals.FireStatus = def.FireStatus
	}
	if intervals.Sensors <= 0 {
		intervals.Sensors = def.Sensors
	}
	if intervals.FireLog <= 0 {
		intervals.FireLog = def.FireLog
	}

	return &Monitor{
		src:       src,
		sched:     sched,
		intervals: intervals,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the polling tasks
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if len(m.tasks) > 0 {
		return nil
	}

	jobs := []struct {
		name     string
		interval time.Duration
		fn       schedule.Func
	}{
		{"fire-status", m.intervals.FireStatus, m.pollFireStatus},
		{"sensors", m.intervals.Sensors, m.pollSensors},
		{"fire-log", m.intervals.FireLog, m.pollFireLog},
	}

	for _, j := range jobs {
		task, err := m.sched.Every(j.name, j.interval, j.fn)
		if err != nil {
			for _, t := range m.tasks {
				t.Cancel()
			}
			m.tasks = nil
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		m.tasks = append(m.tasks, task)
	}

	m.logger.Info("monitor started",
		"fire_status", m.intervals.FireStatus,
		"sensors", m.intervals.Sensors,
		"fire_log", m.intervals.FireLog)
	return nil
}

// RegisterCallback registers a callback to be notified of state updates.
// The returned function unregisters it.
func (m *Monitor) RegisterCallback(cb UpdateCallback) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener{id: id, cb: cb})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the current state
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Refresh fetches the particulate matter and temperature/humidity readings
// concurrently, outside the regular schedule.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return m.pollSensors(ctx)
}

func (m *Monitor) pollFireStatus(ctx context.Context) error {
	log, err := m.src.LatestFireLog(ctx)
	now := m.now()

	m.commit(ctx, func(s *Snapshot) {
		s.Clock = now
		setPanel(&s.Fire, log, err, now)
	})
	if err != nil {
		return fmt.Errorf("fire status: %w", err)
	}
	return nil
}

func (m *Monitor) pollSensors(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		pm, err := m.src.PMS(ctx)
		now := m.now()
		m.commit(ctx, func(s *Snapshot) { setPanel(&s.PM, pm, err, now) })
		if err != nil {
			return fmt.Errorf("pm reading: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		dht, err := m.src.DHT(ctx)
		now := m.now()
		m.commit(ctx, func(s *Snapshot) { setPanel(&s.DHT, dht, err, now) })
		if err != nil {
			return fmt.Errorf("dht reading: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (m *Monitor) pollFireLog(ctx context.Context) error {
	log, err := m.src.LatestFireLog(ctx)
	now := m.now()

	m.commit(ctx, func(s *Snapshot) {
		setPanel(&s.FireLog, log, err, now)
		if err == nil && log.VideoName != s.Video.Name {
			s.Video = Video{
				Key:  s.Video.Key + 1,
				Name: log.VideoName,
				URL:  m.src.VideoURL(log.VideoName),
			}
		}
	})
	if err != nil {
		return fmt.Errorf("fire log: %w", err)
	}
	return nil
}

// setPanel records a fetch result, keeping the old value on error
func setPanel[T any](p *Panel[T], v T, err error, now time.Time) {
	if err != nil {
		p.Err = err.Error()
		return
	}
	p.Value = &v
	p.Err = ""
	p.UpdatedAt = now
}

// commit applies an update unless the monitor is closed or the fetch was
// cancelled, then notifies the callbacks outside the lock.
func (m *Monitor) commit(ctx context.Context, update func(*Snapshot)) {
	m.mu.Lock()
	if m.closed || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	update(&m.state)
	m.state.Version++
	snap := m.state
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.cb(snap)
	}
}

// Close cancels the polling tasks. Results still in flight are discarded.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tasks := m.tasks
	m.tasks = nil
	m.listeners = nil
	m.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	m.logger.Info("monitor stopped")
}
