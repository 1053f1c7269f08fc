package telemetry

import (
	"github.com/pkg/errors"
)

// DefaultMaxSubscribers bounds the subscriber set when none is configured.
const DefaultMaxSubscribers = 8

var (
	// ErrCapacityExceeded is returned by Add when the set is full.
	ErrCapacityExceeded = errors.New("telemetry: subscriber capacity exceeded")

	// ErrSubscriberBufferFull is returned by a Subscriber whose send buffer
	// is full. The publisher treats it as a write failure.
	ErrSubscriberBufferFull = errors.New("telemetry: subscriber send buffer full")

	// ErrSubscriberClosed is returned by a Subscriber after it was closed.
	ErrSubscriberClosed = errors.New("telemetry: subscriber closed")
)

// Subscriber is one push-channel consumer. Send must not block: it either
// queues the frame or returns an error.
type Subscriber interface {
	ID() string
	Send(frame []byte) error
	Close()
}

// Publisher holds the set of active subscribers. Add, Remove and Broadcast
// are called only from the control loop; it is not safe for concurrent use.
type Publisher struct {
	limit  int
	subs   map[string]Subscriber
	onDrop func(id string, err error)
}

// NewPublisher creates a publisher accepting up to limit subscribers.
func NewPublisher(limit int) *Publisher {
	if limit < 1 {
		limit = DefaultMaxSubscribers
	}
	return &Publisher{limit: limit, subs: make(map[string]Subscriber, limit)}
}

// OnDrop registers a listener for subscribers removed after a failed write.
func (p *Publisher) OnDrop(fn func(id string, err error)) {
	p.onDrop = fn
}

// Add registers sub and immediately sends it the current frame. If the set
// is full the subscriber is closed and ErrCapacityExceeded is returned. If
// the first send fails the subscriber is dropped and the error returned.
func (p *Publisher) Add(sub Subscriber, current []byte) error {
	if _, ok := p.subs[sub.ID()]; ok {
		return nil
	}
	if len(p.subs) >= p.limit {
		sub.Close()
		return errors.Wrapf(ErrCapacityExceeded, "max %d", p.limit)
	}
	p.subs[sub.ID()] = sub
	if current == nil {
		return nil
	}
	if err := sub.Send(current); err != nil {
		p.drop(sub, err)
		return err
	}
	return nil
}

// Remove unregisters the subscriber with id after an explicit disconnect.
func (p *Publisher) Remove(id string) bool {
	sub, ok := p.subs[id]
	if !ok {
		return false
	}
	delete(p.subs, id)
	sub.Close()
	return true
}

// Broadcast writes frame to every subscriber. A failed write removes that
// subscriber and the broadcast continues with the rest. Returns how many
// subscribers accepted the frame.
func (p *Publisher) Broadcast(frame []byte) int {
	sent := 0
	for _, sub := range p.subs {
		if err := sub.Send(frame); err != nil {
			p.drop(sub, err)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of active subscribers.
func (p *Publisher) Count() int {
	return len(p.subs)
}

// Max returns the subscriber capacity.
func (p *Publisher) Max() int {
	return p.limit
}

// CloseAll removes and closes every subscriber.
func (p *Publisher) CloseAll() {
	for id := range p.subs {
		p.Remove(id)
	}
}

func (p *Publisher) drop(sub Subscriber, err error) {
	delete(p.subs, sub.ID())
	sub.Close()
	if p.onDrop != nil {
		p.onDrop(sub.ID(), err)
	}
}
