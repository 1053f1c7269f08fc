// Package metrics exposes node counters and gauges in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/sensor-node/internal/connectivity"
)

const namespace = "sensor_node"

// Metrics owns a private registry so several nodes (or tests) can coexist.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns     *prometheus.CounterVec
	taskErrors   *prometheus.CounterVec
	taskLatency  *prometheus.HistogramVec
	subscribers  prometheus.Gauge
	subDrops     prometheus.Counter
	linkState    prometheus.Gauge
	transitions  *prometheus.CounterVec
	historyCount prometheus.Gauge
	edgesDropped prometheus.Gauge
	buttons      *prometheus.CounterVec
	frames       prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_dispatches_total",
			Help:      "Scheduler task dispatches.",
		}, []string{"task"}),
		taskErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_errors_total",
			Help:      "Scheduler task dispatches that returned an error.",
		}, []string{"task"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent inside each task callback.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"task"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected push subscribers.",
		}),
		subDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Subscribers removed after a failed send.",
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Connectivity state (0 idle, 1 connecting, 2 connected, 3 disconnected, 4 reconnecting).",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_transitions_total",
			Help:      "Connectivity state transitions by target state.",
		}, []string{"to"}),
		historyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_readings",
			Help:      "Readings held in the history ring.",
		}),
		edgesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_edges_dropped",
			Help:      "Button edge events dropped because the queue was full.",
		}),
		buttons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "button_presses_total",
			Help:      "Button presses by kind (short, long).",
		}, []string{"kind"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_broadcast_total",
			Help:      "Telemetry frames broadcast to subscribers.",
		}),
	}

	m.registry.MustRegister(
		m.taskRuns, m.taskErrors, m.taskLatency,
		m.subscribers, m.subDrops,
		m.linkState, m.transitions,
		m.historyCount, m.edgesDropped, m.buttons, m.frames,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Dispatched records one task run. Its signature matches scheduler.DispatchHook.
func (m *Metrics) Dispatched(task string, took time.Duration, err error) {
	m.taskRuns.WithLabelValues(task).Inc()
	m.taskLatency.WithLabelValues(task).Observe(took.Seconds())
	if err != nil {
		m.taskErrors.WithLabelValues(task).Inc()
	}
}

// Transition records a connectivity state change.
func (m *Metrics) Transition(tr connectivity.Transition) {
	m.linkState.Set(float64(tr.To))
	m.transitions.WithLabelValues(tr.To.String()).Inc()
}

// SetSubscribers sets the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }

// SubscriberDropped counts one dropped subscriber.
func (m *Metrics) SubscriberDropped() { m.subDrops.Inc() }

// SetHistory sets the history size gauge.
func (m *Metrics) SetHistory(n int) { m.historyCount.Set(float64(n)) }

// SetEdgesDropped mirrors the edge queue's drop counter.
func (m *Metrics) SetEdgesDropped(n uint64) { m.edgesDropped.Set(float64(n)) }

// ButtonPress counts a press of the given kind.
func (m *Metrics) ButtonPress(kind string) { m.buttons.WithLabelValues(kind).Inc() }

// FrameBroadcast counts one broadcast frame.
func (m *Metrics) FrameBroadcast() { m.frames.Inc() }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
