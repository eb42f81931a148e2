// Package handlers provides the HTTP handlers for the optional status and
// live feed endpoints.
package handlers

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// clientBuffer is the per-client queue of pending result lines. Clients
// that fall this far behind are dropped rather than stalling the decode
// loop.
const clientBuffer = 64

// FeedHandler streams decoded result lines to WebSocket clients.
type FeedHandler struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]bool
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan string
}

// NewFeedHandler creates a feed handler with no connected clients.
func NewFeedHandler(logger *logrus.Logger) *FeedHandler {
	return &FeedHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*feedClient]bool),
	}
}

// ServeHTTP upgrades the connection and streams result lines until the
// client disconnects.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &feedClient{
		conn: conn,
		send: make(chan string, clientBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()

	h.logger.WithField("remote", r.RemoteAddr).Info("Feed client connected")

	go h.writePump(c)
	h.readPump(c, r.RemoteAddr)
}

// writePump pumps result lines from the hub to one client connection.
func (h *FeedHandler) writePump(c *feedClient) {
	defer c.conn.Close()
	for line := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound messages; its only job is to notice the
// client going away.
func (h *FeedHandler) readPump(c *feedClient, remote string) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	h.logger.WithField("remote", remote).Info("Feed client disconnected")
}

func (h *FeedHandler) unregister(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish fans a result line out to all connected clients without
// blocking. Slow clients are disconnected.
func (h *FeedHandler) Publish(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- line:
		default:
			h.logger.Warn("Dropping slow feed client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects all clients. Publish after Close is a no-op.
func (h *FeedHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// HealthHandler reports process liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
