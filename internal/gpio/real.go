//go:build linux

package gpio

import (
	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the button from actual hardware using the Linux GPIO
// character device. When an EdgeSink is supplied, every edge the kernel
// reports is forwarded to it as a raw level.
type RealReader struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealReader requests pin on the named chip as an input biased towards
// its idle level: pull-up when activeLow, pull-down otherwise. sink may be
// nil, in which case the line is only polled.
func NewRealReader(chipName string, pin int, activeLow bool, sink EdgeSink) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", chipName)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, idleBias(activeLow)}
	if sink != nil {
		opts = append(opts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			sink.Post(evt.Type == gpiocdev.LineEventRisingEdge)
		}))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, errors.Wrapf(err, "request button pin %d", pin)
	}

	return &RealReader{chip: chip, line: line}, nil
}

// idleBias holds an unpressed button at its idle level.
func idleBias(activeLow bool) gpiocdev.LineBias {
	if activeLow {
		return gpiocdev.WithPullUp
	}
	return gpiocdev.WithPullDown
}

// Read returns the raw line level.
func (r *RealReader) Read() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, errors.Wrap(err, "read button pin")
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// Reconfigures the line to input with pull-down (matching Pi boot defaults)
// before closing so the pin is left in a clean state for reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, errors.Wrap(err, "reconfigure button pin"))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close button pin"))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close chip"))
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("close errors: %v", errs)
	}
	return nil
}
