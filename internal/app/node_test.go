package app

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/config"
	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/gpio"
	"github.com/sweeney/sensor-node/internal/input"
	"github.com/sweeney/sensor-node/internal/logging"
	"github.com/sweeney/sensor-node/internal/metrics"
	"github.com/sweeney/sensor-node/internal/mqtt"
	"github.com/sweeney/sensor-node/internal/sensor"
	"github.com/sweeney/sensor-node/internal/status"
	"github.com/sweeney/sensor-node/internal/telemetry"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	n       *Node
	cfg     *config.Config
	clk     *clock.Fake
	link    *connectivity.FakeTransport
	uplink  *mqtt.FakeUplink
	button  *gpio.FakeReader
	edges   *input.EdgeQueue
	tracker *status.Tracker
	climate *sensor.FakeProbe
	light   *sensor.FakeProbe
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Connectivity.AutoStart = false
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		cfg:     &cfg,
		clk:     clock.NewFake(0),
		link:    &connectivity.FakeTransport{},
		uplink:  mqtt.NewFakeUplink(),
		button:  gpio.NewFakeReader([]bool{true}),
		edges:   input.NewEdgeQueue(8),
		tracker: status.NewTracker(base, status.Config{}),
		climate: sensor.NewFakeProbe([]float64{21.5, 40}),
		light:   sensor.NewFakeProbe([]float64{300}),
	}
	h.button.Sink = h.edges

	chans, err := cfg.Channels(func(s config.SensorConfig) sensor.Probe {
		if s.Kind == string(sensor.KindClimate) {
			return h.climate
		}
		return h.light
	})
	require.NoError(t, err)

	n, err := New(Deps{
		Config:    h.cfg,
		Clock:     h.clk,
		Wall:      func() time.Time { return base.Add(time.Duration(h.clk.Now()) * time.Millisecond) },
		Button:    h.button,
		Edges:     h.edges,
		Channels:  chans,
		Transport: h.link,
		Uplink:    h.uplink,
		Tracker:   h.tracker,
		Metrics:   metrics.New(),
		Network:   func() *status.NetworkInfo { return &status.NetworkInfo{IP: "10.0.0.9", RSSI: -55} },
	})
	require.NoError(t, err)
	h.n = n
	return h
}

// run advances the fake clock in loop-period steps, stepping the node each time.
func (h *harness) run(d time.Duration) {
	step := h.cfg.LoopPeriod.Duration()
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.clk.Advance(step)
		h.n.Step()
	}
}

func (h *harness) setButton(level bool) {
	h.button.Levels = []bool{level}
	h.button.Reset()
}

func (h *harness) events() []string {
	var out []string
	for _, ev := range h.uplink.SystemEvents {
		out = append(out, ev.Event)
	}
	return out
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.n.link.Start()
	h.link.Link = connectivity.LinkUp
	h.run(200 * time.Millisecond)
	require.Equal(t, connectivity.Connected, h.n.link.State())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestNewRejectsTooManyTasks(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.MaxTasks = 3
	_, err := New(Deps{
		Config:    &cfg,
		Clock:     clock.NewFake(0),
		Transport: &connectivity.FakeTransport{},
		Tracker:   status.NewTracker(base, status.Config{}),
	})
	require.Error(t, err)
}

func TestSensorsFeedHistoryAndSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Startup()

	h.run(2 * time.Second)

	snap := h.tracker.Snapshot()
	require.True(t, snap.Current.Valid)
	assert.Equal(t, 21.5, snap.Current.Temperature)
	assert.Equal(t, 40.0, snap.Current.Humidity)
	assert.Equal(t, int32(300), snap.Current.Light)
	assert.NotEmpty(t, snap.History)
	assert.Equal(t, 60, snap.HistoryCapacity)
	for _, r := range snap.History {
		assert.True(t, r.Valid, "only valid readings enter history")
	}
	assert.Equal(t, "10.0.0.9", snap.Network.IP)
}

func TestClimateFailureInvalidatesLightRetains(t *testing.T) {
	h := newHarness(t, nil)
	h.run(2 * time.Second)
	require.True(t, h.tracker.Snapshot().Current.Valid)

	h.climate.Errors = make([]error, h.climate.Reads+10)
	for i := range h.climate.Errors {
		h.climate.Errors[i] = errors.New("checksum")
	}
	h.run(2 * time.Second)

	snap := h.tracker.Snapshot()
	assert.False(t, snap.Current.Valid)
	recorded := len(snap.History)
	lightReads := h.light.Reads

	h.run(time.Second)

	assert.Equal(t, recorded, len(h.tracker.Snapshot().History), "invalid readings are not recorded")
	assert.Greater(t, h.light.Reads, lightReads, "light keeps polling after climate fails")
}

func TestSubscriberReceivesInitialAndPeriodicFrames(t *testing.T) {
	h := newHarness(t, nil)
	sub := &telemetry.FakeSubscriber{Name: "a"}

	require.NoError(t, h.n.Join(sub))
	h.run(10 * time.Millisecond)
	require.Len(t, sub.Frames, 1, "initial frame on join")
	assert.Equal(t, 1, h.tracker.Snapshot().SubscriberCount)

	h.run(2 * time.Second)
	assert.Len(t, sub.Frames, 3)
	assert.Contains(t, string(sub.Frames[2]), `"valid":true`)
}

func TestFailedSubscriberDroppedOthersServed(t *testing.T) {
	h := newHarness(t, nil)
	good := &telemetry.FakeSubscriber{Name: "good"}
	bad := &telemetry.FakeSubscriber{Name: "bad"}

	require.NoError(t, h.n.Join(good))
	require.NoError(t, h.n.Join(bad))
	h.run(10 * time.Millisecond)
	require.Equal(t, 2, h.tracker.Snapshot().SubscriberCount)

	bad.SendErr = telemetry.ErrSubscriberBufferFull
	h.run(time.Second)

	assert.True(t, bad.Closed)
	assert.Len(t, good.Frames, 2)
	assert.Equal(t, 1, h.tracker.Snapshot().SubscriberCount)
}

func TestLeaveRemovesSubscriber(t *testing.T) {
	h := newHarness(t, nil)
	sub := &telemetry.FakeSubscriber{Name: "a"}
	require.NoError(t, h.n.Join(sub))
	h.run(10 * time.Millisecond)

	h.n.Leave("a")
	h.run(10 * time.Millisecond)

	assert.True(t, sub.Closed)
	assert.Equal(t, 0, h.tracker.Snapshot().SubscriberCount)
}

func TestSubscriberCapacity(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Publisher.MaxSubscribers = 1 })
	first := &telemetry.FakeSubscriber{Name: "1"}
	second := &telemetry.FakeSubscriber{Name: "2"}

	require.NoError(t, h.n.Join(first))
	require.NoError(t, h.n.Join(second))
	h.run(10 * time.Millisecond)

	assert.False(t, first.Closed)
	assert.True(t, second.Closed)
	assert.Equal(t, 1, h.tracker.Snapshot().SubscriberCount)
}

func TestJoinBusyWhenInboxFull(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < inboxSize; i++ {
		require.NoError(t, h.n.Join(&telemetry.FakeSubscriber{Name: string(rune('a' + i))}))
	}

	extra := &telemetry.FakeSubscriber{Name: "extra"}
	err := h.n.Join(extra)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, extra.Closed)
}

func TestShortPressSamplesAndBroadcastsNow(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		for i := range c.Sensors {
			c.Sensors[i].Interval = config.Duration(time.Hour)
		}
		c.Publisher.BroadcastInterval = config.Duration(time.Hour)
	})
	sub := &telemetry.FakeSubscriber{Name: "a"}
	require.NoError(t, h.n.Join(sub))
	h.run(100 * time.Millisecond)
	require.Len(t, sub.Frames, 1)
	require.Zero(t, h.climate.Reads)

	h.setButton(false)
	h.run(200 * time.Millisecond)
	h.setButton(true)
	h.run(200 * time.Millisecond)

	assert.Equal(t, 1, h.climate.Reads)
	assert.Equal(t, 4, h.light.Reads, "light averages four samples")
	require.Len(t, sub.Frames, 2)
	assert.Contains(t, string(sub.Frames[1]), `"temperature":21.5`)

	h.run(time.Second)
	assert.Equal(t, 1, h.climate.Reads, "sample-now is one-shot")
}

func TestEdgeQueueDrivesButton(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		for i := range c.Sensors {
			c.Sensors[i].Interval = config.Duration(time.Hour)
		}
	})
	h.n.reader = nil

	h.button.Edge(false)
	h.run(100 * time.Millisecond)
	assert.True(t, h.n.button.Pressed(), "one edge commits after the window")

	h.button.Edge(true)
	h.run(100 * time.Millisecond)
	assert.False(t, h.n.button.Pressed())
	assert.Equal(t, 1, h.climate.Reads, "short press via edges samples now")
}

func TestEdgeQueueLongPress(t *testing.T) {
	h := newHarness(t, nil)
	h.n.reader = nil

	h.button.Edge(false)
	h.run(3200 * time.Millisecond)

	assert.True(t, h.n.button.Pressed())
	assert.Equal(t, connectivity.Connecting, h.n.link.State(), "held edge reports a long press")
	assert.Equal(t, 1, h.link.Connects)
}

func TestSensorFailureLoggedOncePerOutage(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, nil)
	h.n.log = logging.New("debug", &buf).Get("app")

	h.light.Errors = make([]error, h.light.Reads+40)
	for i := range h.light.Errors {
		h.light.Errors[i] = errors.New("adc busy")
	}
	h.run(2 * time.Second)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "sensor read failed"), out)
	assert.Contains(t, out, "level=debug")
	assert.Contains(t, out, "task=\"sensor:ldr\"")
	assert.NotContains(t, out, "level=warning")

	h.light.Errors = nil
	h.run(time.Second)
	assert.Contains(t, buf.String(), "sensor recovered")

	h.light.Errors = make([]error, h.light.Reads+8)
	for i := range h.light.Errors {
		h.light.Errors[i] = errors.New("adc busy")
	}
	h.run(time.Second)
	assert.Equal(t, 2, strings.Count(buf.String(), "sensor read failed"), "a new outage is logged again")
}

func TestNonSensorTaskErrorsWarn(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, nil)
	h.n.log = logging.New("debug", &buf).Get("app")

	h.n.onTaskError("heartbeat", errors.New("broker gone"))
	h.n.onTaskError("heartbeat", errors.New("broker gone"))

	assert.Equal(t, 2, strings.Count(buf.String(), "level=warning"))
}

func TestLongPressStartsLink(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, connectivity.Idle, h.n.link.State())

	h.setButton(false)
	h.run(3 * time.Second)
	assert.Equal(t, connectivity.Idle, h.n.link.State(), "not yet held long enough")

	h.run(200 * time.Millisecond)
	assert.Equal(t, connectivity.Connecting, h.n.link.State())
	assert.Equal(t, 1, h.link.Connects)

	h.setButton(true)
	h.run(200 * time.Millisecond)
	assert.Equal(t, 1, h.link.Connects, "release after long press does nothing")
}

func TestLongPressRecoversFromDisconnected(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Connectivity.AttemptCeiling = 1
		c.Connectivity.ConnectTimeout = config.Duration(time.Second)
	})
	h.n.link.Start()
	h.run(1200 * time.Millisecond)
	require.Equal(t, connectivity.Disconnected, h.n.link.State())
	require.Equal(t, connectivity.Disconnected, h.tracker.Snapshot().Link)

	h.setButton(false)
	h.run(3200 * time.Millisecond)
	assert.Equal(t, connectivity.Connecting, h.n.link.State())
	assert.Equal(t, 2, h.link.Connects)
}

func TestAutoStartConnectsAndAnnounces(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Connectivity.AutoStart = true })
	h.n.Startup()
	require.Equal(t, connectivity.Connecting, h.n.link.State())

	h.link.Link = connectivity.LinkUp
	h.run(200 * time.Millisecond)

	assert.Equal(t, connectivity.Connected, h.tracker.Snapshot().Link)
	assert.Equal(t, []string{"STARTUP"}, h.events())
	assert.True(t, h.uplink.SystemEvents[0].Retained)
	assert.Contains(t, string(h.uplink.SystemPayloads[0]), `"event":"STARTUP"`)
}

func TestFramesMirroredToUplinkOnlyWhenConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.run(time.Second)
	assert.Empty(t, h.uplink.Frames)

	h.connect(t)
	h.run(time.Second)
	assert.NotEmpty(t, h.uplink.Frames)
}

func TestReconnectAnnounces(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.link.Link = connectivity.LinkDown
	h.run(200 * time.Millisecond)
	require.Equal(t, connectivity.Reconnecting, h.n.link.State())

	h.run(1100 * time.Millisecond)
	require.Equal(t, connectivity.Connecting, h.n.link.State())
	h.link.Link = connectivity.LinkUp
	h.run(200 * time.Millisecond)

	assert.Equal(t, []string{"STARTUP", "RECONNECTED"}, h.events())
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MQTT.Heartbeat = config.Duration(time.Second) })
	h.connect(t)

	h.run(time.Second)

	assert.Contains(t, h.events(), "HEARTBEAT")
}

func TestShutdownPublishesAndStops(t *testing.T) {
	h := newHarness(t, nil)
	sub := &telemetry.FakeSubscriber{Name: "a"}
	require.NoError(t, h.n.Join(sub))
	h.connect(t)

	h.n.Shutdown("SIGTERM")

	last := h.uplink.SystemEvents[len(h.uplink.SystemEvents)-1]
	assert.Equal(t, "SHUTDOWN", last.Event)
	assert.Equal(t, "SIGTERM", last.Reason)
	assert.True(t, last.Sync)
	assert.True(t, sub.Closed)
	assert.Equal(t, connectivity.Idle, h.n.link.State())
	assert.Equal(t, 1, h.link.Disconnects)
	assert.Equal(t, 0, h.tracker.Snapshot().SubscriberCount)
}

func TestShutdownWhileOfflineSkipsPublish(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Shutdown("SIGINT")
	assert.Empty(t, h.uplink.SystemEvents)
}

func TestRunStopsOnSignal(t *testing.T) {
	h := newHarness(t, nil)
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() { done <- h.n.Run(context.Background(), tick, sig) }()

	tick <- base
	sig <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.n.Run(ctx, make(chan time.Time), nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, ReadNetworkInfo())

	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.50")
	t.Setenv(envNetworkWifiSSID, "home")
	t.Setenv(envNetworkWifiRSSI, "-67")

	info := ReadNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, "wifi", info.Type)
	assert.Equal(t, "192.168.1.50", info.IP)
	assert.Equal(t, "home", info.SSID)
	assert.Equal(t, int32(-67), info.RSSI)

	t.Setenv(envNetworkWifiRSSI, "n/a")
	assert.Equal(t, int32(0), ReadNetworkInfo().RSSI)
}
