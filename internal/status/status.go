// Package status provides a thread-safe status tracker for the sensor node.
// The control loop writes it; HTTP handlers and MQTT system events read
// value snapshots from it.
package status

import (
	"runtime"
	"sync"
	"time"

	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/sensor"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
	RSSI       int32
}

// Config contains node configuration for display.
type Config struct {
	LoopMs      int64
	BroadcastMs int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of node state.
// It is a value type, safe to use after the lock is released. History is a
// private copy, newest first.
type Snapshot struct {
	Current         sensor.Reading
	History         []sensor.Reading
	HistoryCapacity int
	Link            connectivity.State
	LinkAttempts    int
	SubscriberCount int
	StartTime       time.Time
	Now             time.Time
	Heap            uint64
	Network         *NetworkInfo
	Config          Config
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable node state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
	heap func() uint64
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Link:      connectivity.Idle,
		},
		now:  time.Now,
		heap: heapInUse,
	}
}

// UpdateReadings replaces the current reading and the history copy.
// history must not be modified by the caller afterwards.
func (t *Tracker) UpdateReadings(current sensor.Reading, history []sensor.Reading, capacity int) {
	t.mu.Lock()
	t.snap.Current = current
	t.snap.History = history
	t.snap.HistoryCapacity = capacity
	t.mu.Unlock()
}

// SetCurrent replaces only the current reading.
func (t *Tracker) SetCurrent(current sensor.Reading) {
	t.mu.Lock()
	t.snap.Current = current
	t.mu.Unlock()
}

// SetLink sets the connectivity state.
func (t *Tracker) SetLink(state connectivity.State, attempts int) {
	t.mu.Lock()
	t.snap.Link = state
	t.snap.LinkAttempts = attempts
	t.mu.Unlock()
}

// SetSubscriberCount sets the number of push subscribers.
func (t *Tracker) SetSubscriberCount(n int) {
	t.mu.Lock()
	t.snap.SubscriberCount = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the node state.
// The Now and Heap fields are sampled at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	s.Heap = t.heap()
	return s
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
