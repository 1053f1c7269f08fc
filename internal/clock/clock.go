// Package clock provides the monotonic millisecond counter that every timing
// decision in the node is made against.
//
// An Instant wraps after 2^32 ms (about 49.7 days). Elapsed time must always be
// computed with Since, which relies on unsigned wraparound and stays correct
// across the wrap boundary. Never compare instants with >= or add an interval
// to an instant and compare the result.
package clock

import (
	"sync"
	"time"
)

// Instant is a monotonic millisecond counter value.
type Instant uint32

// Source yields the current Instant.
type Source interface {
	Now() Instant
}

// Since returns the milliseconds elapsed from last to now.
// Correct across a single wrap of the counter.
func Since(now, last Instant) time.Duration {
	return time.Duration(uint32(now-last)) * time.Millisecond
}

// Millis converts a duration to a whole number of milliseconds for use as a
// wrap-safe interval. Durations above the counter range are clamped.
func Millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

// Monotonic is a Source backed by the Go runtime's monotonic clock.
type Monotonic struct {
	start  time.Time
	offset Instant
}

// NewMonotonic returns a Source that reads zero now plus offset. A non-zero
// offset lets a soak run reach the wrap point without waiting 49 days.
func NewMonotonic(offset Instant) *Monotonic {
	return &Monotonic{start: time.Now(), offset: offset}
}

// Now returns the current Instant.
func (m *Monotonic) Now() Instant {
	return m.offset + Instant(uint32(time.Since(m.start).Milliseconds()))
}

// Uptime returns the untruncated time since the source was created.
func (m *Monotonic) Uptime() time.Duration {
	return time.Since(m.start)
}

// Fake is a manually driven Source for tests.
type Fake struct {
	mu  sync.Mutex
	now Instant
}

// NewFake returns a Fake reading at.
func NewFake(at Instant) *Fake {
	return &Fake{now: at}
}

// Now returns the fake's current Instant.
func (f *Fake) Now() Instant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the fake to at.
func (f *Fake) Set(at Instant) {
	f.mu.Lock()
	f.now = at
	f.mu.Unlock()
}

// Advance moves the fake forward by d, wrapping like the real counter.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += Instant(uint32(d.Milliseconds()))
	f.mu.Unlock()
}
