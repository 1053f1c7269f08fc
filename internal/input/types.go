// Package input contains the debounce and long-press logic for physical inputs.
// This package has NO external dependencies (no GPIO, OS, or time.Sleep).
// Time is always injectable via clock.Instant parameters.
package input

import "github.com/sweeney/sensor-node/internal/clock"

// Edge is a debounced transition of a boolean input.
type Edge int

const (
	// EdgeNone means no committed transition on this update.
	EdgeNone Edge = iota
	// EdgeRose is a committed low to high transition.
	EdgeRose
	// EdgeFell is a committed high to low transition.
	EdgeFell
)

func (e Edge) String() string {
	switch e {
	case EdgeRose:
		return "ROSE"
	case EdgeFell:
		return "FELL"
	default:
		return "NONE"
	}
}

// DebounceState tracks debounce state for a single input.
type DebounceState struct {
	// Last raw level observed
	Raw bool
	// Current stable (debounced) level
	Stable bool
	// When Raw last changed
	CandidateSince clock.Instant
	// When Stable last changed
	LastTransition clock.Instant
}

// ButtonEvent is what a Button reports for one update.
type ButtonEvent struct {
	Edge     Edge
	HeldLong bool
	// Short is set on release of a press that never reached HeldLong.
	Short bool
}

// Any reports whether the event carries anything worth acting on.
func (e ButtonEvent) Any() bool {
	return e.Edge != EdgeNone || e.HeldLong || e.Short
}
