// Package telemetry serializes readings for pull queries and fans push frames
// out to a dynamic set of subscribers without ever blocking the caller.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/sensor"
)

// SensorsPayload is the body of GET /api/sensors and of every push frame.
type SensorsPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       int32   `json:"light"`
	Uptime      uint64  `json:"uptime"`
	Valid       bool    `json:"valid"`
}

// StatusPayload is the body of GET /api/status.
type StatusPayload struct {
	Uptime          uint64 `json:"uptime"`
	Heap            uint64 `json:"heap"`
	RSSI            int32  `json:"rssi"`
	IP              string `json:"ip"`
	SubscriberCount uint32 `json:"subscriber_count"`
	SensorValid     bool   `json:"sensor_valid"`
	HistoryCount    uint32 `json:"history_count"`
	Link            string `json:"link,omitempty"`
}

// HistoryEntry is one element of GET /api/history.
//
// Timestamp is the node's millisecond counter when the reading was taken. The
// counter wraps every 2^32 ms (about 49.7 days), so across a wrap a newer
// entry can carry a smaller timestamp. Entry order, not timestamp, is
// authoritative: the list is always newest first.
type HistoryEntry struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       int32   `json:"light"`
	Timestamp   uint64  `json:"timestamp"`
}

// HistoryPayload is the body of GET /api/history.
type HistoryPayload struct {
	History []HistoryEntry `json:"history"`
}

// Sensors builds the current-reading payload. Uptime is in whole seconds.
// An invalid reading reports zeros with valid=false.
func Sensors(r sensor.Reading, uptime time.Duration) SensorsPayload {
	p := SensorsPayload{
		Uptime: uint64(uptime / time.Second),
		Valid:  r.Valid,
	}
	if r.Valid {
		p.Temperature = r.Temperature
		p.Humidity = r.Humidity
		p.Light = r.Light
	}
	return p
}

// FormatSensors returns the JSON frame for the current reading.
func FormatSensors(r sensor.Reading, uptime time.Duration) ([]byte, error) {
	data, err := json.Marshal(Sensors(r, uptime))
	return data, errors.Wrap(err, "encode sensors")
}

// History builds the history payload from newest-first readings, keeping at
// most limit entries. Invalid readings are skipped.
func History(newestFirst []sensor.Reading, limit int) HistoryPayload {
	if limit < 0 || limit > len(newestFirst) {
		limit = len(newestFirst)
	}
	out := HistoryPayload{History: make([]HistoryEntry, 0, limit)}
	for _, r := range newestFirst {
		if len(out.History) == limit {
			break
		}
		if !r.Valid {
			continue
		}
		out.History = append(out.History, HistoryEntry{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Light:       r.Light,
			Timestamp:   uint64(r.Timestamp),
		})
	}
	return out
}

// FormatHistory returns the JSON history body.
func FormatHistory(newestFirst []sensor.Reading, limit int) ([]byte, error) {
	data, err := json.Marshal(History(newestFirst, limit))
	return data, errors.Wrap(err, "encode history")
}

// FormatStatus returns the JSON status body.
func FormatStatus(p StatusPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	return data, errors.Wrap(err, "encode status")
}
