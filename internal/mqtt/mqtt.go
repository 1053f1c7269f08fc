// Package mqtt provides the broker link used as the node's network transport
// and the uplink that mirrors telemetry frames and system events to the broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Default topics.
const (
	DefaultTopic       = "sensor-node/telemetry"
	DefaultSystemTopic = "sensor-node/system"
)

// ErrNotConnected is returned when publishing while the link is down.
var ErrNotConnected = errors.New("mqtt: not connected")

// Uplink publishes to the broker. Implementations must not block the caller
// unless a SystemEvent asks for it with Sync.
type Uplink interface {
	// PublishFrame sends one telemetry frame (QoS 0, not retained).
	PublishFrame(frame []byte) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
	Sync       bool   // Wait for the broker to acknowledge (only off the control loop)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (the will) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
