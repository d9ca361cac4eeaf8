package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The websocket endpoint streams bus events ("mission.*" and "health.*") to
// dashboards. Strictly outbound: inbound frames other than control messages
// are discarded.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The query surface is unauthenticated and read-only; origins are not
	// restricted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout      = 10 * time.Second
	wsHeartbeatInterval = 30 * time.Second
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe("*", 128)
	defer sub.Close()

	s.logger.Debug("event stream client connected", zap.String("remote", r.RemoteAddr))

	// Drain inbound frames so pong handling keeps working; any read error
	// ends the session.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(wsHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
