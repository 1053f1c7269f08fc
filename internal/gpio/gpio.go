// Package gpio provides button input reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the raw level of the button line.
type Reader interface {
	// Read returns the current raw level (true = high).
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// EdgeSink receives raw levels from the line's edge interrupt. Post must not
// block; it runs on the GPIO event goroutine, not the control loop.
type EdgeSink interface {
	Post(level bool) bool
}

// Defaults (BCM numbering)
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)
