// Package app wires the node together and runs its control loop.
//
// Everything except HTTP handlers and the GPIO edge callback runs on the
// goroutine that calls Run. Those two talk to the loop only through bounded
// channels: the edge queue and the subscriber inbox.
package app

import (
	"context"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/config"
	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/gpio"
	"github.com/sweeney/sensor-node/internal/history"
	"github.com/sweeney/sensor-node/internal/input"
	"github.com/sweeney/sensor-node/internal/logging"
	"github.com/sweeney/sensor-node/internal/metrics"
	"github.com/sweeney/sensor-node/internal/mqtt"
	"github.com/sweeney/sensor-node/internal/scheduler"
	"github.com/sweeney/sensor-node/internal/sensor"
	"github.com/sweeney/sensor-node/internal/status"
	"github.com/sweeney/sensor-node/internal/telemetry"
)

// ErrBusy is returned by Join when the inbox is full.
var ErrBusy = errors.New("app: control loop busy")

const inboxSize = 16

// Deps are the collaborators a Node is built from.
type Deps struct {
	Config *config.Config
	Clock  clock.Source
	// Wall supplies timestamps for status output. Defaults to time.Now.
	Wall func() time.Time

	// Button is polled for the raw level. May be nil when only Edges is used.
	Button gpio.Reader
	// Edges carries levels from the GPIO interrupt. May be nil.
	Edges *input.EdgeQueue

	Channels  []sensor.Channel
	Transport connectivity.Transport
	// Uplink mirrors frames and system events to the broker. May be nil.
	Uplink  mqtt.Uplink
	Tracker *status.Tracker
	Metrics *metrics.Metrics
	Log     *logrus.Entry
	// Network reports host network state. Defaults to ReadNetworkInfo.
	Network func() *status.NetworkInfo
}

type inboxEvent struct {
	join  telemetry.Subscriber
	leave string
}

type handles struct {
	button    scheduler.Handle
	link      scheduler.Handle
	sampleNow scheduler.Handle
	broadcast scheduler.Handle
	heartbeat scheduler.Handle
}

// Node is the application context: it owns every piece of mutable state.
type Node struct {
	cfg     *config.Config
	clock   clock.Source
	wall    func() time.Time
	start   time.Time
	log     *logrus.Entry
	network func() *status.NetworkInfo

	sched   *scheduler.Scheduler
	sampler *sensor.Sampler
	ring    *history.Ring[sensor.Reading]
	button  *input.Button
	reader  gpio.Reader
	// lastLevel is the raw level from the most recent edge.
	lastLevel bool
	edges     *input.EdgeQueue
	link      *connectivity.Machine
	pub       *telemetry.Publisher
	uplink    mqtt.Uplink
	tracker   *status.Tracker
	metrics   *metrics.Metrics

	inbox     chan inboxEvent
	tasks     handles
	failing   map[string]bool
	refreshed bool
	announced bool

	seenVersion uint64
	seenPushed  uint64
	seenSubs    int
}

// New builds a Node and registers its tasks.
func New(d Deps) (*Node, error) {
	if d.Config == nil || d.Clock == nil || d.Transport == nil || d.Tracker == nil {
		return nil, errors.New("app: config, clock, transport and tracker are required")
	}
	if d.Wall == nil {
		d.Wall = time.Now
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	if d.Network == nil {
		d.Network = ReadNetworkInfo
	}
	cfg := d.Config

	n := &Node{
		cfg:     cfg,
		clock:   d.Clock,
		wall:    d.Wall,
		start:   d.Wall(),
		log:     d.Log,
		network: d.Network,
		ring:    history.New[sensor.Reading](cfg.History.Capacity),
		reader:  d.Button,
		edges:   d.Edges,
		pub:     telemetry.NewPublisher(cfg.Publisher.MaxSubscribers),
		uplink:  d.Uplink,
		tracker: d.Tracker,
		metrics: d.Metrics,
		inbox:   make(chan inboxEvent, inboxSize),
		failing: make(map[string]bool),
	}

	now := d.Clock.Now()
	n.button = input.NewButton(cfg.Input.Debounce.Duration(), cfg.Input.LongPress.Duration(), cfg.Input.ActiveLow, now)
	n.lastLevel = cfg.Input.ActiveLow

	sampler, err := sensor.NewSampler(d.Clock, n.ring, d.Channels...)
	if err != nil {
		return nil, errors.Wrap(err, "build sampler")
	}
	n.sampler = sampler

	n.link = connectivity.New(cfg.ConnectivityConfig(), d.Transport, d.Clock)
	n.link.OnTransition(n.onTransition)
	n.pub.OnDrop(n.onDrop)

	n.sched = scheduler.New(d.Clock,
		scheduler.WithMaxTasks(cfg.Scheduler.MaxTasks),
		scheduler.WithErrorSink(n.onTaskError),
		scheduler.WithDispatchHook(n.onDispatch),
	)

	if err := n.register(); err != nil {
		return nil, err
	}
	return n, nil
}

// register adds every task. Order matters: tasks due in the same tick run in
// this order, so inputs are read before sensors and sensors before broadcasts.
func (n *Node) register() error {
	var err error
	reg := func(name string, interval time.Duration, enabled bool, fn scheduler.TaskFunc) scheduler.Handle {
		if err != nil {
			return -1
		}
		var h scheduler.Handle
		h, err = n.sched.Register(name, interval, enabled, fn)
		return h
	}

	n.tasks.button = reg("button", n.cfg.LoopPeriod.Duration(), n.reader != nil || n.edges != nil, n.pollButton)
	n.tasks.link = reg("connectivity", n.cfg.Connectivity.Tick.Duration(), true, n.tickLink)
	if err != nil {
		return errors.Wrap(err, "register tasks")
	}
	if _, err = n.sampler.Register(n.sched); err != nil {
		return errors.Wrap(err, "register sensor tasks")
	}
	n.tasks.sampleNow = reg("sample-now", 0, false, n.sampleNow)
	n.tasks.broadcast = reg("broadcast", n.cfg.Publisher.BroadcastInterval.Duration(), true, n.broadcast)
	hb := n.cfg.MQTT.Heartbeat.Duration()
	n.tasks.heartbeat = reg("heartbeat", hb, hb > 0 && n.uplink != nil, n.heartbeat)
	if err != nil {
		return errors.Wrap(err, "register tasks")
	}
	return nil
}

// Join hands a new push subscriber to the control loop. It never blocks; if
// the loop is backed up the subscriber is closed and ErrBusy returned.
func (n *Node) Join(sub telemetry.Subscriber) error {
	select {
	case n.inbox <- inboxEvent{join: sub}:
		return nil
	default:
		sub.Close()
		return ErrBusy
	}
}

// Leave reports a disconnected subscriber. If the inbox is full the event is
// dropped; the next broadcast to the closed subscriber removes it instead.
func (n *Node) Leave(id string) {
	select {
	case n.inbox <- inboxEvent{leave: id}:
	default:
	}
}

// Startup publishes the initial status and, if configured, starts connecting.
func (n *Node) Startup() {
	if info := n.network(); info != nil {
		n.tracker.SetNetwork(info)
	}
	n.refresh()
	if n.cfg.Connectivity.AutoStart {
		n.link.Start()
	}
	n.log.WithFields(logrus.Fields{
		"sensors":   len(n.sampler.Channels()),
		"tasks":     n.sched.Len(),
		"loop":      n.cfg.LoopPeriod.Duration(),
		"broadcast": n.cfg.Publisher.BroadcastInterval.Duration(),
	}).Info("started")
}

// Step runs one control loop iteration.
func (n *Node) Step() {
	n.drainInbox()
	n.sched.Tick()
	n.refresh()
	n.syncSubscribers()
}

// Run calls Startup, then Step on every tick until a signal arrives or ctx is
// cancelled, then Shutdown.
func (n *Node) Run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	n.Startup()
	for {
		select {
		case <-ctx.Done():
			n.Shutdown("CANCELLED")
			return nil
		case s := <-sig:
			n.log.WithField("signal", s).Info("shutting down")
			n.Shutdown(signalName(s))
			return nil
		case <-tick:
			n.Step()
		}
	}
}

// Shutdown closes every subscriber, publishes SHUTDOWN if the link is up and
// stops the link.
func (n *Node) Shutdown(reason string) {
	n.pub.CloseAll()
	n.syncSubscribers()

	if n.uplink != nil && n.link.IsConnected() {
		snap := n.tracker.Snapshot()
		err := n.uplink.PublishSystem(mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "SHUTDOWN",
			Reason:     reason,
			Retained:   true,
			Sync:       true,
			RawPayload: n.statusPayload(snap, "SHUTDOWN", reason),
		})
		if err != nil {
			n.log.WithError(err).Warn("failed to publish shutdown event")
		} else {
			n.log.Info("published shutdown event")
		}
	}
	n.link.Stop()
}

func (n *Node) drainInbox() {
	for {
		select {
		case ev := <-n.inbox:
			if ev.join != nil {
				n.addSubscriber(ev.join)
			} else {
				n.pub.Remove(ev.leave)
			}
		default:
			return
		}
	}
}

func (n *Node) syncSubscribers() {
	count := n.pub.Count()
	if count == n.seenSubs {
		return
	}
	n.seenSubs = count
	n.tracker.SetSubscriberCount(count)
	if n.metrics != nil {
		n.metrics.SetSubscribers(count)
	}
}

func (n *Node) addSubscriber(sub telemetry.Subscriber) {
	log := n.log.WithField("subscriber", sub.ID())
	frame, err := n.frame()
	if err != nil {
		log.WithError(err).Warn("no initial frame")
	}
	if err := n.pub.Add(sub, frame); err != nil {
		log.WithError(err).Warn("subscriber not added")
		return
	}
	log.WithField("count", n.pub.Count()).Debug("subscriber added")
}

// refresh publishes a new tracker snapshot when readings changed.
func (n *Node) refresh() {
	v, p := n.sampler.Version(), n.ring.Pushed()
	if v == n.seenVersion && p == n.seenPushed && n.refreshed {
		return
	}
	n.refreshed = true
	n.seenVersion, n.seenPushed = v, p
	n.tracker.UpdateReadings(n.sampler.Current(), n.ring.Newest(0), n.ring.Capacity())
	if n.metrics != nil {
		n.metrics.SetHistory(n.ring.Count())
	}
}

func (n *Node) frame() ([]byte, error) {
	return telemetry.FormatSensors(n.sampler.Current(), n.uptime())
}

// statusPayload encodes the status JSON for a system event. On failure it
// returns nil, so the uplink falls back to its minimal event payload.
func (n *Node) statusPayload(snap status.Snapshot, event, reason string) []byte {
	data, err := status.FormatStatusEvent(snap, event, reason)
	if err != nil {
		n.log.WithError(err).WithField("event", event).Warn("status payload")
		return nil
	}
	return data
}

func (n *Node) uptime() time.Duration {
	return n.wall().Sub(n.start)
}

// onTaskError logs task failures. Sensor polls fail routinely, so only the
// first failure after a success is logged, at debug.
func (n *Node) onTaskError(name string, err error) {
	log := n.log.WithField("task", name).WithError(err)
	if !strings.HasPrefix(name, sensor.TaskPrefix) {
		log.Warn("task failed")
		return
	}
	if n.failing[name] {
		return
	}
	n.failing[name] = true
	log.Debug("sensor read failed")
}

func (n *Node) onDispatch(name string, took time.Duration, err error) {
	if n.metrics != nil {
		n.metrics.Dispatched(name, took, err)
	}
	if err == nil && n.failing[name] {
		delete(n.failing, name)
		n.log.WithField("task", name).Debug("sensor recovered")
	}
}

func (n *Node) onDrop(id string, err error) {
	n.log.WithField("subscriber", id).WithError(err).Info("subscriber dropped")
	if n.metrics != nil {
		n.metrics.SubscriberDropped()
	}
}

func (n *Node) onTransition(tr connectivity.Transition) {
	n.tracker.SetLink(tr.To, tr.Attempt)
	if n.metrics != nil {
		n.metrics.Transition(tr)
	}

	log := n.log.WithFields(logrus.Fields{"from": tr.From, "to": tr.To, "attempt": tr.Attempt})
	switch tr.To {
	case connectivity.Connected:
		log.Info("link up")
		n.announce()
	case connectivity.Disconnected:
		log.WithError(n.link.Err()).Error("link gave up; long press to retry")
	case connectivity.Reconnecting:
		log.WithField("delay", n.link.BackoffDelay()).Warn("link down, retrying")
	default:
		log.Debug("link state")
	}
}

// announce publishes STARTUP on the first connection and RECONNECTED after.
func (n *Node) announce() {
	if n.uplink == nil {
		return
	}
	event := "RECONNECTED"
	if !n.announced {
		event = "STARTUP"
	}
	snap := n.tracker.Snapshot()
	err := n.uplink.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Retained:   true,
		RawPayload: n.statusPayload(snap, event, ""),
	})
	if err != nil {
		n.log.WithError(err).WithField("event", event).Warn("failed to publish system event")
		return
	}
	n.announced = true
	n.log.WithField("event", event).Info("published system event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
