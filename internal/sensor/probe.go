package sensor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Probe is the hardware collaborator for one physical sensor. Read must not
// block: it returns whatever the device has now, or an error.
// It returns one value per field the sensor was configured with, in order.
type Probe interface {
	Read() ([]float64, error)
}

// SysfsProbe reads values from text attributes such as the Linux IIO files
// under /sys/bus/iio/devices. Each path yields one field; the parsed number is
// multiplied by the matching scale (IIO reports temperature in millidegrees).
type SysfsProbe struct {
	Paths  []string
	Scales []float64
}

// Read reads every configured attribute.
func (p *SysfsProbe) Read() ([]float64, error) {
	out := make([]float64, len(p.Paths))
	for i, path := range p.Paths {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		if i < len(p.Scales) && p.Scales[i] != 0 {
			v *= p.Scales[i]
		}
		out[i] = v
	}
	return out, nil
}

// FakeProbe is a test double that returns scripted results.
type FakeProbe struct {
	// Results contains scripted values; each Read consumes the next entry.
	// Once exhausted the last entry repeats.
	Results [][]float64

	// Errors, if set at the same index as a Read, is returned instead.
	Errors []error

	// Reads counts calls to Read.
	Reads int
}

// NewFakeProbe creates a FakeProbe returning results in order.
func NewFakeProbe(results ...[]float64) *FakeProbe {
	return &FakeProbe{Results: results}
}

// Read returns the next scripted result.
func (f *FakeProbe) Read() ([]float64, error) {
	i := f.Reads
	f.Reads++
	if i < len(f.Errors) && f.Errors[i] != nil {
		return nil, f.Errors[i]
	}
	if len(f.Results) == 0 {
		return nil, errors.New("no results configured")
	}
	if i >= len(f.Results) {
		i = len(f.Results) - 1
	}
	return f.Results[i], nil
}
