// Package statushub exposes deckd telemetry to operations clients over
// WebSocket. The hub is a telemetry.Sink: every exported event is fanned
// out as JSON to the connected clients. Clients that cannot keep up are
// dropped rather than allowed to stall the pipeline.
package statushub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slipmat/deckd/internal/observability/telemetry"
)

// ErrHubClosed is returned for exports after Close.
var ErrHubClosed = errors.New("status hub is closed")

const (
	defaultMaxClients   = 32
	defaultWriteTimeout = time.Second
)

// Config bounds hub behavior.
type Config struct {
	MaxClients   int
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxClients < 1 {
		c.MaxClients = defaultMaxClients
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Hub broadcasts telemetry events to WebSocket subscribers.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// New returns an empty hub.
func New(cfg Config) *Hub {
	return &Hub{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades a subscriber connection and registers it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "status hub is closed", http.StatusServiceUnavailable)
		return
	}
	if len(h.clients) >= h.cfg.MaxClients {
		h.mu.Unlock()
		http.Error(w, "too many status clients", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !h.register(conn) {
		_ = conn.Close()
		return
	}

	// Subscribers are write-only; the read loop just reaps closed
	// connections.
	go h.reap(conn)
}

// register admits an upgraded connection. The pre-upgrade check is only an
// early reject; the hub may have closed or filled while the handshake ran,
// so the admission conditions are re-checked under the same lock that
// records the client.
func (h *Hub) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.cfg.MaxClients {
		return false
	}
	h.clients[conn] = struct{}{}
	return true
}

// Export broadcasts one telemetry event to every subscriber.
func (h *Hub) Export(_ context.Context, event telemetry.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.dropLocked(conn)
		}
	}
	return nil
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects further exports.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for conn := range h.clients {
		h.dropLocked(conn)
	}
	return nil
}

func (h *Hub) reap(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	h.dropLocked(conn)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	_ = conn.Close()
}

// Serve runs the hub on addr until ctx is cancelled. The returned error is
// nil on clean shutdown.
func Serve(ctx context.Context, addr string, hub *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/status/ws", hub)

	server := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	case err := <-errc:
		return fmt.Errorf("status server: %w", err)
	}
}
