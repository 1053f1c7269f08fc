package status

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for system events.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                   `json:"event,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Link          string                   `json:"link"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	StartTime     string                   `json:"start_time"`
	Timestamp     string                   `json:"timestamp"`
	Sensors       telemetry.SensorsPayload `json:"sensors"`
	HistoryCount  int                      `json:"history_count"`
	Subscribers   int                      `json:"subscriber_count"`
	Network       *NetworkJSON             `json:"network,omitempty"`
	Config        ConfigJSON               `json:"config"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
	RSSI       int32  `json:"rssi"`
}

// ConfigJSON is the JSON representation of node config.
type ConfigJSON struct {
	LoopMs      int64  `json:"loop_ms"`
	BroadcastMs int64  `json:"broadcast_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Link:          snap.Link.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Sensors:       telemetry.Sensors(snap.Current, snap.Uptime()),
		HistoryCount:  len(snap.History),
		Subscribers:   snap.SubscriberCount,
		Config: ConfigJSON{
			LoopMs:      snap.Config.LoopMs,
			BroadcastMs: snap.Config.BroadcastMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
			RSSI:       snap.Network.RSSI,
		}
	}
	return inner
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) ([]byte, error) {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, err := json.Marshal(StatusJSON{Status: inner})
	return data, errors.Wrap(err, "encode status event")
}

// Pull returns the /api/status payload for the snapshot.
func Pull(snap Snapshot) telemetry.StatusPayload {
	p := telemetry.StatusPayload{
		Uptime:          uint64(snap.Uptime() / time.Second),
		Heap:            snap.Heap,
		SubscriberCount: uint32(snap.SubscriberCount),
		SensorValid:     snap.Current.Valid,
		HistoryCount:    uint32(len(snap.History)),
		Link:            snap.Link.String(),
	}
	if snap.Network != nil {
		p.IP = snap.Network.IP
		p.RSSI = snap.Network.RSSI
	}
	return p
}
