package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/sensor-node/internal/app"
	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/config"
	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/gpio"
	"github.com/sweeney/sensor-node/internal/input"
	"github.com/sweeney/sensor-node/internal/metrics"
	"github.com/sweeney/sensor-node/internal/mqtt"
	"github.com/sweeney/sensor-node/internal/sensor"
	"github.com/sweeney/sensor-node/internal/status"
	"github.com/sweeney/sensor-node/internal/telemetry"
	"github.com/sweeney/sensor-node/internal/web"
)

// brokerTransport reports the link up as soon as a connect is requested.
type brokerTransport struct {
	up       bool
	connects int
}

func (b *brokerTransport) Connect()    { b.connects++; b.up = true }
func (b *brokerTransport) Disconnect() { b.up = false }

func (b *brokerTransport) Status() connectivity.LinkStatus {
	if b.up {
		return connectivity.LinkUp
	}
	return connectivity.LinkDown
}

type node struct {
	n      *app.Node
	uplink *mqtt.FakeUplink
	srv    *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

// startNode wires the control loop to the HTTP server with fake hardware
// and runs the loop on its own goroutine, advancing the fake clock one loop
// period per tick.
func startNode(t *testing.T, transport connectivity.Transport) *node {
	t.Helper()
	cfg := config.Default()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	climate := sensor.NewFakeProbe([]float64{19.5, 55})
	light := sensor.NewFakeProbe([]float64{640})
	chans, err := cfg.Channels(func(s config.SensorConfig) sensor.Probe {
		if s.Kind == string(sensor.KindClimate) {
			return climate
		}
		return light
	})
	if err != nil {
		t.Fatalf("channels: %v", err)
	}

	clk := clock.NewFake(0)
	edges := input.NewEdgeQueue(cfg.Input.QueueSize)
	button := gpio.NewFakeReader([]bool{true})
	button.Sink = edges
	m := metrics.New()
	tracker := status.NewTracker(start, status.Config{
		LoopMs:      cfg.LoopPeriod.Duration().Milliseconds(),
		BroadcastMs: cfg.Publisher.BroadcastInterval.Duration().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
	})
	uplink := mqtt.NewFakeUplink()

	n, err := app.New(app.Deps{
		Config:    &cfg,
		Clock:     clk,
		Wall:      func() time.Time { return start.Add(time.Duration(clk.Now()) * time.Millisecond) },
		Button:    button,
		Edges:     edges,
		Channels:  chans,
		Transport: transport,
		Uplink:    uplink,
		Tracker:   tracker,
		Metrics:   m,
		Network:   func() *status.NetworkInfo { return &status.NetworkInfo{IP: "192.168.1.40", RSSI: -61} },
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	srv := httptest.NewServer(web.New("", web.Options{
		Tracker:    tracker,
		Hub:        n,
		Metrics:    m.Handler(),
		SendBuffer: cfg.Publisher.SendBuffer,
	}).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	go func() {
		for {
			clk.Advance(cfg.LoopPeriod.Duration())
			select {
			case tick <- time.Now():
			case <-ctx.Done():
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	nd := &node{n: n, uplink: uplink, srv: srv, cancel: cancel, done: make(chan error, 1)}
	go func() { nd.done <- n.Run(ctx, tick, make(chan os.Signal)) }()
	t.Cleanup(func() { nd.stop(t) })
	return nd
}

// stop cancels the loop and waits for Run to return. Safe to call twice.
func (nd *node) stop(t *testing.T) {
	t.Helper()
	nd.cancel()
	if nd.done == nil {
		return
	}
	select {
	case err := <-nd.done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	nd.done = nil
}

func (nd *node) get(t *testing.T, path string, v interface{}) {
	t.Helper()
	resp, err := http.Get(nd.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

// eventually polls cond every 10ms until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestIntegrationFullFlow drives sensors through the control loop to the
// pull API, a WebSocket subscriber and the MQTT uplink, then shuts down.
func TestIntegrationFullFlow(t *testing.T) {
	transport := &brokerTransport{}
	nd := startNode(t, transport)

	var sensors telemetry.SensorsPayload
	eventually(t, "valid reading on /api/sensors", func() bool {
		nd.get(t, "/api/sensors", &sensors)
		return sensors.Valid
	})
	if sensors.Temperature != 19.5 || sensors.Humidity != 55 || sensors.Light != 640 {
		t.Errorf("unexpected sensors payload: %+v", sensors)
	}

	wsURL := "ws" + strings.TrimPrefix(nd.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 2; i++ {
		var frame telemetry.SensorsPayload
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !frame.Valid || frame.Light != 640 {
			t.Errorf("frame %d: unexpected payload %+v", i, frame)
		}
	}

	var st telemetry.StatusPayload
	eventually(t, "connected link with one subscriber", func() bool {
		nd.get(t, "/api/status", &st)
		return st.Link == "CONNECTED" && st.SubscriberCount == 1
	})
	if st.IP != "192.168.1.40" || st.RSSI != -61 || !st.SensorValid {
		t.Errorf("unexpected status payload: %+v", st)
	}

	var hist telemetry.HistoryPayload
	nd.get(t, "/api/history?limit=2", &hist)
	if len(hist.History) == 0 || len(hist.History) > 2 {
		t.Errorf("expected 1-2 history entries, got %d", len(hist.History))
	}

	resp, err := http.Get(nd.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "sensor_node_frames_broadcast_total") {
		t.Error("metrics missing frames_broadcast_total")
	}

	nd.stop(t)

	// Shutdown closes subscribers, so the socket sees a close frame
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("expected normal close, got %v", err)
			}
			break
		}
	}
	conn.Close()

	events := nd.uplink.SystemEvents
	if len(events) < 2 {
		t.Fatalf("expected STARTUP and SHUTDOWN, got %+v", events)
	}
	if events[0].Event != "STARTUP" {
		t.Errorf("first system event: got %s, want STARTUP", events[0].Event)
	}
	last := events[len(events)-1]
	if last.Event != "SHUTDOWN" || last.Reason != "CANCELLED" || !last.Retained {
		t.Errorf("last system event: got %+v", last)
	}
	if len(nd.uplink.Frames) == 0 {
		t.Error("expected broadcast frames mirrored to the uplink")
	}
	if transport.connects != 1 {
		t.Errorf("expected one connect, got %d", transport.connects)
	}
}

// TestIntegrationOffline keeps serving readings while the broker never answers.
func TestIntegrationOffline(t *testing.T) {
	nd := startNode(t, &connectivity.FakeTransport{})

	var st telemetry.StatusPayload
	eventually(t, "history while offline", func() bool {
		nd.get(t, "/api/status", &st)
		return st.HistoryCount >= 2
	})
	if st.Link == "CONNECTED" {
		t.Error("link must not connect without a broker")
	}

	nd.stop(t)
	if len(nd.uplink.SystemEvents) != 0 || len(nd.uplink.Frames) != 0 {
		t.Errorf("nothing should reach the uplink offline: %d events, %d frames",
			len(nd.uplink.SystemEvents), len(nd.uplink.Frames))
	}
}
