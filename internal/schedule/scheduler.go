// Package schedule runs named periodic tasks as cancelable handles.
//
// A task runs once as soon as it is added and then every interval. Runs of
// the same task never overlap: a tick that arrives while the previous run is
// still busy is skipped. Closing the scheduler cancels the context handed to
// running jobs and waits for them, so no task body runs after Close returns.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrClosed is returned when adding a task to a closed scheduler
var ErrClosed = errors.New("scheduler closed")

// Func is the body of a periodic task
type Func func(ctx context.Context) error

// Scheduler runs periodic tasks on a cron runner
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[cron.EntryID]*Task
	closed bool
	wg     sync.WaitGroup // immediate first runs
}

// Task is the handle of one scheduled task
type Task struct {
	name   string
	id     cron.EntryID
	s      *Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates and starts a scheduler
func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[cron.EntryID]*Task),
	}
	s.cron.Start()
	return s
}

// Every adds a task that runs now and then every interval
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval for task %q must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{name: name, s: s, ctx: ctx, cancel: cancel}

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger})).Then(cron.FuncJob(func() {
		s.run(t, fn)
	}))

	t.id = s.cron.Schedule(&constantDelay{delay: interval}, job)
	s.tasks[t.id] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()

	s.logger.Debug("task scheduled", "task", name, "interval", interval)
	return t, nil
}

// run executes one run of a task unless it was cancelled
func (s *Scheduler) run(t *Task, fn Func) {
	if t.ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := fn(t.ctx); err != nil && t.ctx.Err() == nil {
		s.logger.Warn("scheduled task failed",
			"task", t.name,
			"error", err,
			"duration", time.Since(start))
	}
}

// Len returns the number of scheduled tasks
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels every task and waits for running jobs to return
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id := range s.tasks {
		s.cron.Remove(id)
	}
	s.tasks = make(map[cron.EntryID]*Task)
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Cancel stops future runs and cancels the context of a running one
func (t *Task) Cancel() {
	t.once.Do(func() {
		t.cancel()

		t.s.mu.Lock()
		defer t.s.mu.Unlock()
		if _, ok := t.s.tasks[t.id]; ok {
			t.s.cron.Remove(t.id)
			delete(t.s.tasks, t.id)
		}
	})
}

// Done is closed once the task is cancelled
func (t *Task) Done() <-chan struct{} {
	return t.ctx.Done()
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// cronLogger routes the cron runner's logging to slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
