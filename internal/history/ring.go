// Package history holds the bounded, newest-first record of recent readings.
package history

// DefaultCapacity is the number of readings kept when none is configured.
const DefaultCapacity = 60

// Ring is a fixed-capacity circular buffer that overwrites its oldest entry
// once full. Readers index it newest-first; the physical slot order is hidden.
//
// Not safe for concurrent use. There is exactly one writer (the sampler, on
// the control loop); other goroutines read copies via Newest.
type Ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
	total uint64
}

// New creates a ring holding up to capacity items. capacity < 1 uses
// DefaultCapacity.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push stores v, overwriting the oldest item once at capacity. O(1).
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.total++
}

// Get returns the item i places back from the newest (0 = newest).
// ok is false when i >= Count().
func (r *Ring[T]) Get(i int) (v T, ok bool) {
	if i < 0 || i >= r.count {
		return v, false
	}
	idx := (r.head - 1 - i + 2*len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Count returns the number of stored items, never more than Capacity.
func (r *Ring[T]) Count() int {
	return r.count
}

// Capacity returns the fixed capacity.
func (r *Ring[T]) Capacity() int {
	return len(r.buf)
}

// Pushed returns how many items have ever been pushed. Callers use it to tell
// whether the ring changed since they last looked.
func (r *Ring[T]) Pushed() uint64 {
	return r.total
}

// Newest copies up to limit items, newest first. limit <= 0 or above Count
// returns everything stored.
func (r *Ring[T]) Newest(limit int) []T {
	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]T, limit)
	for i := 0; i < limit; i++ {
		out[i], _ = r.Get(i)
	}
	return out
}
