package input

import (
	"time"

	"github.com/sweeney/sensor-node/internal/clock"
)

// Button layers press and long-press detection over a Debouncer.
//
// A press is the debounced transition to the active level. HeldLong is
// reported once per press, when the input has stayed active for at least the
// hold threshold; the latch clears on release.
type Button struct {
	deb       *Debouncer
	activeLow bool
	hold      time.Duration

	pressed   bool
	pressedAt clock.Instant
	latched   bool
}

// NewButton creates a button. With activeLow the idle level is high and a
// press is a Fell edge.
func NewButton(debounce, hold time.Duration, activeLow bool, now clock.Instant) *Button {
	return &Button{
		deb:       NewDebouncer(debounce, activeLow, now),
		activeLow: activeLow,
		hold:      hold,
	}
}

// Update feeds one raw level sample.
func (b *Button) Update(now clock.Instant, raw bool) ButtonEvent {
	ev := ButtonEvent{Edge: b.deb.Update(now, raw)}

	switch ev.Edge {
	case b.pressEdge():
		b.pressed = true
		b.pressedAt = now
		b.latched = false
	case EdgeNone:
	default:
		if b.pressed && !b.latched {
			ev.Short = true
		}
		b.pressed = false
		b.latched = false
	}

	if b.pressed && !b.latched && b.hold > 0 && clock.Since(now, b.pressedAt) >= b.hold {
		b.latched = true
		ev.HeldLong = true
	}
	return ev
}

// Pressed reports whether the button is currently (debounced) pressed.
func (b *Button) Pressed() bool {
	return b.pressed
}

func (b *Button) pressEdge() Edge {
	if b.activeLow {
		return EdgeFell
	}
	return EdgeRose
}
