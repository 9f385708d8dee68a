// Package ws implements a WebSocket push hub satisfying notify.Notifier.
// Each connected user registers under their user id; Notify fans the event
// out to that user's live connections. Delivery is best-effort: a slow or
// broken connection is dropped, never waited on.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"renex/internal/notify"
)

// HubConfig configures hub connection behavior.
type HubConfig struct {
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before dropping.
	PongTimeout time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// event is the wire shape pushed to clients.
type event struct {
	Kind    string         `json:"kind"`
	Payload notify.Payload `json:"payload"`
	SentAt  int64          `json:"sent_at"`
}

// client serializes writes to one connection; gorilla/websocket allows a
// single concurrent writer per conn.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte, deadline time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(deadline))
	return c.conn.WriteMessage(messageType, data)
}

// Hub is a WebSocket notification hub.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu    sync.RWMutex
	conns map[string]map[*client]struct{} // user id -> live connections
}

// NewHub creates a Hub. A nil logger defaults to stdout.
func NewHub(config *HubConfig, logger *log.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[ws-hub] ", log.LstdFlags)
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		conns:  make(map[string]map[*client]struct{}),
	}
}

var _ notify.Notifier = (*Hub)(nil)

// ServeHTTP upgrades the request and registers the connection under the
// user id given in the "user" query parameter. Identity verification is the
// embedding layer's job; the hub trusts the parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", userID, err)
		return
	}

	c := &client{conn: conn}
	h.register(userID, c)
	go h.readLoop(userID, c)
	go h.pingLoop(userID, c)
}

// Notify pushes the event to every live connection of recipientID. Users
// with no connection are skipped silently; the engine treats notification
// as fire-and-forget either way.
func (h *Hub) Notify(_ context.Context, recipientID, eventKind string, payload notify.Payload) error {
	msg, err := json.Marshal(event{
		Kind:    eventKind,
		Payload: payload,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.conns[recipientID]))
	for c := range h.conns[recipientID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, msg, h.config.WriteTimeout); err != nil {
			h.logger.Printf("drop connection for %s: %v", recipientID, err)
			h.unregister(recipientID, c)
		}
	}

	return nil
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// TotalConnections returns the number of live connections across all users.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.conns {
		total += len(clients)
	}
	return total
}

func (h *Hub) register(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*client]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.conns[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.conn.Close()
			if len(set) == 0 {
				delete(h.conns, userID)
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(userID string, c *client) {
	c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(userID, c)
			return
		}
	}
}

// pingLoop keeps the connection alive until it is unregistered.
func (h *Hub) pingLoop(userID string, c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.write(websocket.PingMessage, nil, h.config.WriteTimeout); err != nil {
			h.unregister(userID, c)
			return
		}
	}
}
