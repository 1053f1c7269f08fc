package sensor

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNotANumber is returned for NaN or infinite raw values.
	ErrNotANumber = errors.New("sensor: value is not a number")

	// ErrOutOfRange is returned for values outside the configured range.
	ErrOutOfRange = errors.New("sensor: value out of range")

	// ErrNoSamples is returned when every sample in a poll was rejected.
	ErrNoSamples = errors.New("sensor: no valid samples")
)

// Range bounds an acceptable value, inclusive. A zero Range accepts anything finite.
type Range struct {
	Min float64
	Max float64
}

func (r Range) check(f Field, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Wrapf(ErrNotANumber, "%s", f)
	}
	if r.Min == 0 && r.Max == 0 {
		return nil
	}
	if v < r.Min || v > r.Max {
		return errors.Wrapf(ErrOutOfRange, "%s=%g not in [%g, %g]", f, v, r.Min, r.Max)
	}
	return nil
}

// DefaultRange returns the plausible range for a field.
func DefaultRange(f Field) Range {
	switch f {
	case Temperature:
		return Range{Min: -40, Max: 80}
	case Humidity:
		return Range{Min: 0, Max: 100}
	case Light:
		return Range{Min: 0, Max: 4095}
	default:
		return Range{}
	}
}
