package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const statusWriteTimeout = 5 * time.Second

// statusHub fans the user_list envelope out to operator WebSocket
// subscribers on the metrics listener, so the online set can be
// watched live without joining the chat.
type statusHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	subs     map[string]*websocket.Conn
}

func newStatusHub() *statusHub {
	return &statusHub{
		upgrader: websocket.Upgrader{
			// The metrics listener is operator-facing; browser origin
			// checks are not applied here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[string]*websocket.Conn),
	}
}

// serve upgrades the request, sends the current online set, and keeps
// the subscription until the peer disconnects.
func (h *statusHub) serve(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("status upgrade failed", "err", err)
		return
	}

	// The initial frame is written while still holding the hub lock:
	// once the conn is in subs, publish may write to it from another
	// goroutine, and websocket conns do not support concurrent writers.
	id := uuid.NewString()
	h.mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[id] = conn
	h.mu.Unlock()
	slog.Debug("status subscriber connected", "id", id, "remote", r.RemoteAddr)

	// Inbound frames are not part of the feed, but reading is required
	// to notice the close handshake.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(id)
				return
			}
		}
	}()
}

func (h *statusHub) drop(id string) {
	h.mu.Lock()
	if conn, ok := h.subs[id]; ok {
		delete(h.subs, id)
		_ = conn.Close()
	}
	h.mu.Unlock()
}

// publish pushes one envelope to every subscriber, dropping any whose
// write fails.
func (h *statusHub) publish(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.subs {
		_ = conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.subs, id)
			_ = conn.Close()
		}
	}
}

// closeAll disconnects every subscriber, used on shutdown.
func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.subs {
		delete(h.subs, id)
		_ = conn.Close()
	}
}
