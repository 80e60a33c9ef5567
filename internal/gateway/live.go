package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	liveWriteWait    = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingInterval = (livePongWait * 9) / 10
	liveMaxReadBytes = 4096
)

// handleLive streams a canvas's actions to a viewer. The canvas must exist
// before the connection is upgraded.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.manager.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Subscribe before the handshake completes so the viewer misses nothing
	// published after it sees the upgrade response.
	sub := s.manager.Hub().Subscribe(id)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		s.logger.Debug("websocket upgrade failed", "canvas_id", id, "error", err)
		return
	}
	s.logger.Debug("viewer connected", "canvas_id", id, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		sub.Unsubscribe()
		_ = conn.Close()
		s.logger.Debug("viewer disconnected", "canvas_id", id)
	}()

	go readLoop(conn, cancel)

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait)) //nolint:errcheck
			if !ok {
				// Hub closed or dropped us as a slow receiver.
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
				return
			}
			msg.Origin = ""
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed,
// and cancels the feed when the client goes away.
func readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(liveMaxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
