package input

import (
	"time"

	"github.com/sweeney/sensor-node/internal/clock"
)

// Debouncer commits a new stable level only after the raw level has held
// steady for the whole window.
type Debouncer struct {
	window time.Duration
	state  DebounceState
}

// NewDebouncer creates a debouncer whose stable and raw levels start at
// initial. initial should be the input's idle level (high for a pulled-up,
// active-low button).
func NewDebouncer(window time.Duration, initial bool, now clock.Instant) *Debouncer {
	return &Debouncer{
		window: window,
		state: DebounceState{
			Raw:            initial,
			Stable:         initial,
			CandidateSince: now,
			LastTransition: now,
		},
	}
}

// Update feeds one raw sample and returns the committed edge, if any.
// It must be called on every tick, whether or not the level changed, because
// the commit happens on the tick where the window has elapsed.
func (d *Debouncer) Update(now clock.Instant, raw bool) Edge {
	s := &d.state

	if raw != s.Raw {
		// Candidate changed, restart the window
		s.Raw = raw
		s.CandidateSince = now
	}

	if s.Raw == s.Stable {
		return EdgeNone
	}

	if clock.Since(now, s.CandidateSince) < d.window {
		return EdgeNone
	}

	s.Stable = s.Raw
	s.LastTransition = now
	if s.Stable {
		return EdgeRose
	}
	return EdgeFell
}

// Stable returns the current debounced level.
func (d *Debouncer) Stable() bool {
	return d.state.Stable
}

// State returns a copy of the internal state.
func (d *Debouncer) State() DebounceState {
	return d.state
}
