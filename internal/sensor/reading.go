// Package sensor polls the node's sensors on independent cadences, validates
// what they return, and keeps the current reading.
package sensor

import (
	"math"

	"github.com/sweeney/sensor-node/internal/clock"
)

// Reading is one logical sample across all sensors. It is a value type: the
// sampler builds a new Reading for every change and never edits one in place.
//
// When Valid is false the numeric fields are zero and carry no meaning.
type Reading struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
	Light       int32   // raw ADC level
	Timestamp   clock.Instant
	Valid       bool
}

// Field names one numeric quantity a probe can produce.
type Field int

const (
	Temperature Field = iota
	Humidity
	Light
	numFields
)

func (f Field) String() string {
	switch f {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Light:
		return "light"
	default:
		return "unknown"
	}
}

type values [numFields]float64

func compose(v values, have [numFields]bool, used [numFields]bool, at clock.Instant) Reading {
	for f := Field(0); f < numFields; f++ {
		if used[f] && !have[f] {
			return Reading{Timestamp: at}
		}
	}
	return Reading{
		Temperature: v[Temperature],
		Humidity:    v[Humidity],
		Light:       int32(math.Round(v[Light])),
		Timestamp:   at,
		Valid:       true,
	}
}
