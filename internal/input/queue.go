package input

import "sync/atomic"

// EdgeQueue carries raw level changes from an interrupt-style producer (a
// GPIO edge callback running on its own goroutine) to the control loop.
//
// Post never blocks: when the queue is full the sample is dropped and counted.
// Only the control loop calls Drain. Nothing else is shared between the two
// sides.
type EdgeQueue struct {
	ch      chan bool
	dropped atomic.Uint64
}

// NewEdgeQueue creates a queue holding up to size pending levels.
func NewEdgeQueue(size int) *EdgeQueue {
	if size < 1 {
		size = 1
	}
	return &EdgeQueue{ch: make(chan bool, size)}
}

// Post enqueues a raw level. Returns false if it was dropped.
func (q *EdgeQueue) Post(level bool) bool {
	select {
	case q.ch <- level:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain hands every pending level to fn in arrival order and returns how
// many were delivered. Levels posted while draining wait for the next call.
func (q *EdgeQueue) Drain(fn func(level bool)) int {
	pending := len(q.ch)
	for i := 0; i < pending; i++ {
		fn(<-q.ch)
	}
	return pending
}

// Dropped returns how many posts were discarded because the queue was full.
func (q *EdgeQueue) Dropped() uint64 {
	return q.dropped.Load()
}
