package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/sensor-node/internal/telemetry"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleWS upgrades the connection and bridges it to a buffered subscriber.
// The control loop only ever touches the subscriber; this goroutine owns the
// socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.WithError(err).Debug("websocket upgrade")
		return
	}

	sub := telemetry.NewBufferedSubscriber(s.sendBuffer)
	log := s.log.WithField("subscriber", sub.ID())

	if err := s.hub.Join(sub); err != nil {
		log.WithError(err).Warn("subscriber rejected")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.WithField("remote", r.RemoteAddr).Info("subscriber connected")

	go readPump(conn, sub)
	writePump(conn, sub)

	s.hub.Leave(sub.ID())
	conn.Close()
	log.Info("subscriber disconnected")
}

// readPump discards client messages and closes sub when the peer goes away.
func readPump(conn *websocket.Conn, sub *telemetry.BufferedSubscriber) {
	defer sub.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards queued frames until sub is closed or a write fails.
func writePump(conn *websocket.Conn, sub *telemetry.BufferedSubscriber) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer sub.Close()

	for {
		select {
		case frame := <-sub.Frames():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
