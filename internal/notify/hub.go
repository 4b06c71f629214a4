package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/continuumhq/continuum/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Acker marks a notification read. Satisfied by the storage layer through
// Service; split out so the hub does not depend on it directly.
type Acker interface {
	MarkRead(ctx context.Context, userID string, id uuid.UUID) error
}

// conn serializes writes: websocket connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Hub is the per-user registry of live websocket connections.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]map[*conn]bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{users: make(map[string]map[*conn]bool), logger: logger}
}

// ackFrame is the only client-to-server message: {"ack": "<notification id>"}.
type ackFrame struct {
	Ack string `json:"ack"`
}

// Register adds a connection, replays unread notifications oldest-first, and
// runs the read pump until the connection drops. Blocks; call from the
// websocket handler goroutine.
func (h *Hub) Register(ctx context.Context, userID string, ws *websocket.Conn, replay []model.Notification, acker Acker) {
	c := &conn{ws: ws}

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*conn]bool)
	}
	h.users[userID][c] = true
	h.mu.Unlock()
	h.logger.Debug("notify: websocket connected", "user", userID)

	defer func() {
		h.remove(userID, c)
		ws.Close()
		h.logger.Debug("notify: websocket disconnected", "user", userID)
	}()

	for _, n := range replay {
		if err := c.writeJSON(n); err != nil {
			return
		}
	}

	// Keepalive pings; the pong handler extends the read deadline.
	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := ws.WriteMessage(websocket.PingMessage, nil)
				c.mu.Unlock()
				if err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame ackFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Ack == "" {
			continue
		}
		id, err := uuid.Parse(frame.Ack)
		if err != nil {
			continue
		}
		if err := acker.MarkRead(ctx, userID, id); err != nil {
			h.logger.Warn("notify: in-band ack failed",
				"user", userID, "notification", id, "error", err)
		}
	}
}

// Send pushes a notification to every live connection of the user. Failed
// connections are dropped from the registry.
func (h *Hub) Send(userID string, n model.Notification) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(n); err != nil {
			h.logger.Debug("notify: dropping dead connection",
				"user", userID, "error", err)
			h.remove(userID, c)
			c.ws.Close()
		}
	}
}

// ConnectionCount reports live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// CloseAll tears down every connection. Called on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.users {
		for c := range conns {
			c.mu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.mu.Unlock()
			c.ws.Close()
		}
		delete(h.users, userID)
	}
}

func (h *Hub) remove(userID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
}
