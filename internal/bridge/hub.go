// Package bridge provides the minimal plumbing the out-of-scope
// observability HTTP/WebSocket server consumes: a broadcaster that the
// observability server's view-file poller pushes view_update envelopes
// into, and an HTTP handler upgrading incoming connections onto it.
package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Envelope is the wire shape of one broadcast message, matching spec's
// "WebSocket emits view_update envelopes containing the same document."
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans out envelopes to every currently connected observer. There is
// exactly one swarm's worth of state to observe, so unlike a multi-tenant
// message bus there is no per-project or per-agent connection scoping.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Handler upgrades the connection and blocks until the client disconnects,
// discarding anything the client sends (the bridge is observe-only).
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.add(conn)
		defer h.remove(conn)

		ctx := r.Context()
		for {
			var discard any
			if err := wsjson.Read(ctx, conn, &discard); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes env to every connected observer, dropping any connection
// whose write fails or times out.
func (h *Hub) Broadcast(env Envelope) {
	conns := h.snapshot()
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, env)
		cancel()
		if err != nil {
			go func(c *websocket.Conn) {
				c.Close(websocket.StatusGoingAway, "write error")
				h.remove(c)
			}(conn)
		}
	}
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}
