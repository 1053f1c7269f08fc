package telemetry

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the per-subscriber frame backlog.
const DefaultSendBuffer = 4

// BufferedSubscriber queues frames in a bounded channel for a transport
// writer goroutine to drain. Send fails instead of blocking once the backlog
// is full, so one slow consumer can never stall a broadcast.
type BufferedSubscriber struct {
	id     string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewBufferedSubscriber creates a subscriber with a fresh random id and room
// for size pending frames.
func NewBufferedSubscriber(size int) *BufferedSubscriber {
	if size < 1 {
		size = DefaultSendBuffer
	}
	return &BufferedSubscriber{
		id:     uuid.NewString(),
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber identity.
func (s *BufferedSubscriber) ID() string { return s.id }

// Send queues frame without blocking.
func (s *BufferedSubscriber) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		return ErrSubscriberBufferFull
	}
}

// Close signals the writer to stop. Safe to call more than once and from any
// goroutine.
func (s *BufferedSubscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

// Frames is drained by the transport writer.
func (s *BufferedSubscriber) Frames() <-chan []byte { return s.frames }

// Done is closed once the subscriber is closed.
func (s *BufferedSubscriber) Done() <-chan struct{} { return s.done }

// FakeSubscriber records frames for tests.
type FakeSubscriber struct {
	Name    string
	Frames  [][]byte
	SendErr error
	Closed  bool
}

// ID returns Name.
func (f *FakeSubscriber) ID() string { return f.Name }

// Send records frame or returns SendErr.
func (f *FakeSubscriber) Send(frame []byte) error {
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Frames = append(f.Frames, frame)
	return nil
}

// Close marks the fake closed.
func (f *FakeSubscriber) Close() { f.Closed = true }
