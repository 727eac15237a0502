package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/picam/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// wsHandler streams frames over a WebSocket, one binary message per frame.
// Delivery follows the same latest-wins rule as the MJPEG stream.
type wsHandler struct {
	server *Server
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := h.server
	c, ok := s.admit(w, r, store.TransportWebSocket)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.release(c, "upgrade failed", err)
		return
	}
	defer conn.Close()

	ctx, cancel := s.streamContext(r)
	defer cancel()

	// The reader only exists to notice the peer going away; anything the
	// client sends is discarded.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last uint64
	for {
		f, gen, err := s.config.Frames.WaitNext(ctx, last)
		if err != nil {
			reason := s.stopReason(err)
			if reason != reasonClientGone {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			s.release(c, reason, nil)
			return
		}

		if timeout := s.config.WriteTimeout; timeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			s.release(c, reasonClientGone, err)
			return
		}

		c.sent(gen, len(f))
		last = gen
	}
}
