package sensor

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/scheduler"
)

// Policy says what a failed poll does to the current reading.
type Policy int

const (
	// RetainLastGood leaves the current reading untouched on failure.
	RetainLastGood Policy = iota
	// Invalidate marks the current reading invalid on failure.
	Invalidate
)

func (p Policy) String() string {
	if p == Invalidate {
		return "invalidate"
	}
	return "retain"
}

// Kind is a sensor family with a fixed field layout.
type Kind string

const (
	// KindClimate is a combined temperature/humidity sensor (DHT22 class).
	// A failed read from these parts usually means a corrupted frame, so the
	// default policy is Invalidate.
	KindClimate Kind = "climate"
	// KindLight is an analog light level (LDR on an ADC). Reads rarely fail
	// and the previous value stays meaningful, so the default is RetainLastGood.
	KindLight Kind = "light"
)

// Fields returns the fields a kind produces, in probe order.
func (k Kind) Fields() []Field {
	switch k {
	case KindClimate:
		return []Field{Temperature, Humidity}
	case KindLight:
		return []Field{Light}
	default:
		return nil
	}
}

// DefaultPolicy returns the documented failure policy for a kind.
func (k Kind) DefaultPolicy() Policy {
	if k == KindClimate {
		return Invalidate
	}
	return RetainLastGood
}

// Channel is one physical sensor polled on its own interval.
type Channel struct {
	Name     string
	Kind     Kind
	Probe    Probe
	Interval time.Duration
	// Samples is how many raw reads are averaged per poll (minimum 1).
	Samples int
	Policy  Policy
	// Ranges holds per-field limits in Kind.Fields order. Missing entries
	// use DefaultRange.
	Ranges []Range
}

// Sink receives each valid reading. history.Ring satisfies it.
type Sink interface {
	Push(Reading)
}

// Sampler owns the latest value of every field and builds Readings from them.
// It is driven by the scheduler and is not safe for concurrent use.
type Sampler struct {
	clock    clock.Source
	channels []Channel
	sink     Sink

	latest  values
	have    [numFields]bool
	used    [numFields]bool
	current Reading
	version uint64
}

// NewSampler creates a sampler writing valid readings to sink.
func NewSampler(src clock.Source, sink Sink, channels ...Channel) (*Sampler, error) {
	s := &Sampler{clock: src, sink: sink}
	for _, ch := range channels {
		if err := s.add(ch); err != nil {
			return nil, err
		}
	}
	s.current = Reading{Timestamp: src.Now()}
	return s, nil
}

func (s *Sampler) add(ch Channel) error {
	fields := ch.Kind.Fields()
	if len(fields) == 0 {
		return errors.Errorf("sensor %q: unknown kind %q", ch.Name, ch.Kind)
	}
	if ch.Probe == nil {
		return errors.Errorf("sensor %q: no probe", ch.Name)
	}
	for _, f := range fields {
		if s.used[f] {
			return errors.Errorf("sensor %q: field %s already provided", ch.Name, f)
		}
		s.used[f] = true
	}
	if ch.Samples < 1 {
		ch.Samples = 1
	}
	s.channels = append(s.channels, ch)
	return nil
}

// TaskPrefix starts the name of every poll task, followed by the channel name.
const TaskPrefix = "sensor:"

// Register adds one poll task per channel to sched, in channel order.
func (s *Sampler) Register(sched *scheduler.Scheduler) ([]scheduler.Handle, error) {
	handles := make([]scheduler.Handle, 0, len(s.channels))
	for i := range s.channels {
		i := i
		h, err := sched.Register(TaskPrefix+s.channels[i].Name, s.channels[i].Interval, true,
			scheduler.TaskFunc(func(now clock.Instant) error {
				return s.Poll(i, now)
			}))
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Poll reads channel i once (averaging its samples), applies validation and
// the failure policy, and updates the current reading. The returned error is
// the read failure, if any; it never stops later polls.
func (s *Sampler) Poll(i int, now clock.Instant) error {
	ch := &s.channels[i]
	fields := ch.Kind.Fields()

	avg, err := s.read(ch, fields)
	if err != nil {
		if ch.Policy == Invalidate {
			for _, f := range fields {
				s.have[f] = false
			}
			s.setCurrent(compose(s.latest, s.have, s.used, now))
		}
		return errors.Wrapf(err, "sensor %s", ch.Name)
	}

	for j, f := range fields {
		s.latest[f] = avg[j]
		s.have[f] = true
	}
	r := compose(s.latest, s.have, s.used, now)
	s.setCurrent(r)
	if r.Valid && s.sink != nil {
		s.sink.Push(r)
	}
	return nil
}

// PollAll polls every channel once, in order, returning the first error.
func (s *Sampler) PollAll(now clock.Instant) error {
	var first error
	for i := range s.channels {
		if err := s.Poll(i, now); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Sampler) read(ch *Channel, fields []Field) ([]float64, error) {
	sum := make([]float64, len(fields))
	good := 0
	var lastErr error

	for n := 0; n < ch.Samples; n++ {
		raw, err := ch.Probe.Read()
		if err != nil {
			lastErr = err
			continue
		}
		if len(raw) != len(fields) {
			lastErr = errors.Errorf("probe returned %d values, want %d", len(raw), len(fields))
			continue
		}
		if err := ch.validate(fields, raw); err != nil {
			lastErr = err
			continue
		}
		for j, v := range raw {
			sum[j] += v
		}
		good++
	}

	if good == 0 {
		if lastErr == nil {
			lastErr = ErrNoSamples
		}
		return nil, lastErr
	}
	for j := range sum {
		sum[j] /= float64(good)
	}
	return sum, nil
}

func (ch *Channel) validate(fields []Field, raw []float64) error {
	for j, f := range fields {
		r := DefaultRange(f)
		if j < len(ch.Ranges) {
			r = ch.Ranges[j]
		}
		if err := r.check(f, raw[j]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sampler) setCurrent(r Reading) {
	s.current = r
	s.version++
}

// Current returns the latest reading.
func (s *Sampler) Current() Reading {
	return s.current
}

// Version increments every time Current changes.
func (s *Sampler) Version() uint64 {
	return s.version
}

// Channels returns the configured channels.
func (s *Sampler) Channels() []Channel {
	return s.channels
}
