// Package realtime provides WebSocket delivery of handoff events between
// requesters, the admin broadcast group and the backend.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub tracks live connections: requester sessions keyed by conversation id
// and the admin broadcast group. Connection state is process-scoped and
// explicitly injected; the store stays the source of truth for request
// status.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*websocket.Conn
	admins map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users:  make(map[string]*websocket.Conn),
		admins: make(map[*websocket.Conn]struct{}),
	}
}

// RegisterUser binds a requester connection to a conversation, replacing any
// previous connection for the same conversation.
func (h *Hub) RegisterUser(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.users[conversationID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.users[conversationID] = conn
	slog.Info("Requester session registered", "conversation_id", conversationID)
}

// UnregisterUser removes a requester connection if it is still the bound one.
func (h *Hub) UnregisterUser(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.users[conversationID]; ok && current == conn {
		delete(h.users, conversationID)
		slog.Info("Requester session unregistered", "conversation_id", conversationID)
	}
}

// RegisterAdmin adds a connection to the admin broadcast group.
func (h *Hub) RegisterAdmin(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.admins[conn] = struct{}{}
	slog.Info("Admin session registered", "admins", len(h.admins))
}

// UnregisterAdmin removes a connection from the admin broadcast group.
func (h *Hub) UnregisterAdmin(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.admins, conn)
	slog.Info("Admin session unregistered", "admins", len(h.admins))
}

// SendToUser delivers a frame to the requester of a conversation. Returns an
// error if no session is connected; senders treat that as a dropped,
// non-fatal delivery.
func (h *Hub) SendToUser(ctx context.Context, conversationID string, frame domain.Frame) error {
	h.mu.RLock()
	conn, ok := h.users[conversationID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no session connected for conversation %s", conversationID)
	}
	if err := writeFrame(ctx, conn, frame); err != nil {
		return fmt.Errorf("write to conversation %s: %w", conversationID, err)
	}
	return nil
}

// BroadcastToAdmins delivers a frame to every connected admin session, best
// effort.
func (h *Hub) BroadcastToAdmins(ctx context.Context, frame domain.Frame) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.admins))
	for conn := range h.admins {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := writeFrame(ctx, conn, frame); err != nil {
			slog.Debug("Admin broadcast write failed", "frame", frame.Type, "error", err)
		}
	}
}

// IsUserOnline reports whether the requester of a conversation is connected.
func (h *Hub) IsUserOnline(conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[conversationID]
	return ok
}

// AdminCount returns the number of connected admin sessions.
func (h *Hub) AdminCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.admins)
}

// CloseAll terminates every connection. Used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.users {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.users, id)
	}
	for conn := range h.admins {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.admins, conn)
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
