// Package realtimeconn implements a minimal websocket fan-out hub used to
// relay key-broadcast envelopes between peers without the hub itself
// needing to understand their contents.
package realtimeconn

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcall/framecrypt/signaling"
)

// Hub upgrades incoming HTTP requests to websocket connections and
// broadcasts every binary message received from one peer to every other
// peer currently connected. It has no notion of keys or generations; it
// forwards the opaque envelope bytes a signaling.Relay on each end
// produces and consumes.
type Hub struct {
	readLimit int64
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// NewHub constructs a Hub that rejects any websocket message larger than
// readLimit bytes.
func NewHub(readLimit int64) *Hub {
	return &Hub{
		readLimit: readLimit,
		upgrader:  websocket.Upgrader{},
		peers:     make(map[*peer]struct{}),
	}
}

type peer struct {
	transport *signaling.WebSocketBinaryTransport
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/relay" {
		http.NotFound(w, r)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c.SetReadLimit(h.readLimit)
	transport := signaling.NewWebSocketBinaryTransport(c)
	p := &peer{transport: transport}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	slog.Info("peer connected", "remote", r.RemoteAddr)
	h.serve(r.Context(), p)
}

func (h *Hub) serve(ctx context.Context, p *peer) {
	defer h.remove(p)
	for {
		env, err := p.transport.ReadBinary(ctx)
		if err != nil {
			return
		}
		h.broadcast(p, env)
	}
}

func (h *Hub) broadcast(from *peer, envelope []byte) {
	h.mu.Lock()
	recipients := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p != from {
			recipients = append(recipients, p)
		}
	}
	h.mu.Unlock()

	for _, p := range recipients {
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.transport.WriteBinary(writeCtx, envelope); err != nil {
			slog.Warn("relay write failed", "error", err)
		}
		cancel()
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	_ = p.transport.Close()
	slog.Info("peer disconnected")
}

// CloseAll disconnects every currently connected peer.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[*peer]struct{})
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.transport.Close()
	}
}
