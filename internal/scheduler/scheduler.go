// Package scheduler implements the cooperative task dispatcher driven once per
// control-loop iteration.
//
// Tasks live in an arena indexed by Handle. A task is due when it is enabled
// and clock.Since(now, lastDispatch) >= interval. Tick dispatches every due
// task at most once, in registration order, and never catches up on missed
// intervals. An interval of zero marks a one-shot task: it fires on the first
// tick after it is enabled and then disables itself.
//
// The scheduler is not safe for concurrent use; it belongs to the control loop.
package scheduler

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/clock"
)

// DefaultMaxTasks bounds the arena when no explicit limit is given.
const DefaultMaxTasks = 16

var (
	// ErrCapacityExceeded is returned by Register when the arena is full.
	ErrCapacityExceeded = errors.New("scheduler: task capacity exceeded")

	// ErrUnknownTask is returned for a handle that was never issued.
	ErrUnknownTask = errors.New("scheduler: unknown task handle")
)

// Task is the unit of work dispatched by the scheduler.
type Task interface {
	Run(now clock.Instant) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(now clock.Instant) error

// Run calls f.
func (f TaskFunc) Run(now clock.Instant) error { return f(now) }

// Handle identifies a registered task.
type Handle int

// ErrorSink receives errors returned by task callbacks.
type ErrorSink func(name string, err error)

// DispatchHook observes each dispatch; used for metrics.
type DispatchHook func(name string, took time.Duration, err error)

type entry struct {
	name         string
	task         Task
	interval     uint32
	lastDispatch clock.Instant
	enabled      bool
}

// Scheduler dispatches registered tasks against a clock.Source.
type Scheduler struct {
	clock    clock.Source
	maxTasks int
	tasks    []entry
	sink     ErrorSink
	hook     DispatchHook
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxTasks sets the arena capacity.
func WithMaxTasks(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxTasks = n
		}
	}
}

// WithErrorSink sets where callback errors are reported.
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithDispatchHook sets an observer called after every dispatch.
func WithDispatchHook(hook DispatchHook) Option {
	return func(s *Scheduler) { s.hook = hook }
}

// New creates a Scheduler reading time from src.
func New(src clock.Source, opts ...Option) *Scheduler {
	s := &Scheduler{clock: src, maxTasks: DefaultMaxTasks}
	for _, opt := range opts {
		opt(s)
	}
	s.tasks = make([]entry, 0, s.maxTasks)
	return s
}

// Register adds a task. The task's last dispatch is set to now, so a periodic
// task first fires one interval after registration.
func (s *Scheduler) Register(name string, interval time.Duration, enabled bool, task Task) (Handle, error) {
	if len(s.tasks) >= s.maxTasks {
		return -1, errors.Wrapf(ErrCapacityExceeded, "register %q (max %d)", name, s.maxTasks)
	}
	s.tasks = append(s.tasks, entry{
		name:         name,
		task:         task,
		interval:     clock.Millis(interval),
		lastDispatch: s.clock.Now(),
		enabled:      enabled,
	})
	return Handle(len(s.tasks) - 1), nil
}

// Enable marks a task eligible for dispatch. Idempotent. The last-dispatch
// timestamp is left alone, so an overdue task fires once on the next tick.
func (s *Scheduler) Enable(h Handle) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}
	e.enabled = true
	return nil
}

// Disable stops a task from being dispatched. Idempotent.
func (s *Scheduler) Disable(h Handle) error {
	e, err := s.lookup(h)
	if err != nil {
		return err
	}
	e.enabled = false
	return nil
}

// Enabled reports whether the task is currently enabled.
func (s *Scheduler) Enabled(h Handle) bool {
	e, err := s.lookup(h)
	return err == nil && e.enabled
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Tick dispatches every due task once, in registration order. The clock is
// read per task, so time spent in earlier callbacks counts toward later ones.
// Returns the number of tasks dispatched.
func (s *Scheduler) Tick() int {
	fired := 0
	for i := range s.tasks {
		e := &s.tasks[i]
		if !e.enabled {
			continue
		}
		now := s.clock.Now()
		if clock.Since(now, e.lastDispatch) < time.Duration(e.interval)*time.Millisecond {
			continue
		}

		e.lastDispatch = now
		if e.interval == 0 {
			e.enabled = false
		}
		fired++

		err := e.task.Run(now)
		if err != nil && s.sink != nil {
			s.sink(e.name, err)
		}
		if s.hook != nil {
			s.hook(e.name, clock.Since(s.clock.Now(), now), err)
		}
	}
	return fired
}

func (s *Scheduler) lookup(h Handle) (*entry, error) {
	if h < 0 || int(h) >= len(s.tasks) {
		return nil, errors.Wrapf(ErrUnknownTask, "handle %d", h)
	}
	return &s.tasks[h], nil
}
