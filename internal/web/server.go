// Package web serves the sensor node's pull API, push channel and status page.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/sensor-node/internal/logging"
	"github.com/sweeney/sensor-node/internal/status"
	"github.com/sweeney/sensor-node/internal/telemetry"
)

// Hub accepts push subscribers on behalf of the control loop. Both methods
// must return without waiting for the loop.
type Hub interface {
	Join(sub telemetry.Subscriber) error
	Leave(id string)
}

// Options configures a Server.
type Options struct {
	Tracker *status.Tracker
	Hub     Hub
	// Metrics, if set, is served at /metrics.
	Metrics    http.Handler
	SendBuffer int
	Log        *logrus.Entry
}

// Server serves HTTP. Handlers only read tracker snapshots; subscriber
// changes go through the Hub.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	hub        Hub
	sendBuffer int
	upgrader   websocket.Upgrader
	log        *logrus.Entry
}

// New creates a Server listening on addr.
func New(addr string, o Options) *Server {
	if o.Log == nil {
		o.Log = logging.Discard()
	}
	if o.SendBuffer < 1 {
		o.SendBuffer = telemetry.DefaultSendBuffer
	}
	s := &Server{
		tracker:    o.Tracker,
		hub:        o.Hub,
		sendBuffer: o.SendBuffer,
		log:        o.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /api/sensors", cors(s.handleSensors))
	mux.HandleFunc("GET /api/status", cors(s.handleStatus))
	mux.HandleFunc("GET /api/history", cors(s.handleHistory))
	mux.HandleFunc("OPTIONS /api/", preflight)
	if o.Hub != nil {
		mux.HandleFunc("GET /ws", s.handleWS)
	}
	if o.Metrics != nil {
		mux.Handle("GET /metrics", o.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Open push connections are
// hijacked and not tracked by net/http; the control loop closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		h(w, r)
	}
}

func preflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// respond writes an encoded body, or a 500 if encoding failed.
func (s *Server) respond(w http.ResponseWriter, body []byte, err error) {
	if err != nil {
		s.log.WithError(err).Error("encode response")
		writeJSON(w, http.StatusInternalServerError, []byte(`{"error":"encoding failed"}`))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.WithError(err).Warn("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	body, err := status.FormatStatusEvent(snap, "", "")
	s.respond(w, body, err)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	body, err := telemetry.FormatSensors(snap.Current, snap.Uptime())
	s.respond(w, body, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	body, err := telemetry.FormatStatus(status.Pull(snap))
	s.respond(w, body, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	limit := snap.HistoryCapacity
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, []byte(`{"error":"limit must be a non-negative integer"}`))
			return
		}
		if n < limit {
			limit = n
		}
	}
	body, err := telemetry.FormatHistory(snap.History, limit)
	s.respond(w, body, err)
}
