package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/admithub/handoff/internal/handoff"
	"github.com/coder/websocket"
)

// WebSocketHandler upgrades connections for requesters and admins and feeds
// their inbound actions into the coordinator.
type WebSocketHandler struct {
	hub           *Hub
	coord         *handoff.Coordinator
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the handoff WebSocket endpoint.
func NewWebSocketHandler(hub *Hub, coord *handoff.Coordinator, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		coord:         coord,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inboundFrame is the client-to-server message structure.
type inboundFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	AdminID   int64  `json:"admin_id,omitempty"`
	AdminName string `json:"admin_name,omitempty"`
	Content   string `json:"content,omitempty"`
	// ConversationID targets a conversation from an admin session; requester
	// sessions are already bound to one.
	ConversationID string `json:"conversation_id,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade. Requesters
// connect with ?conversationId=...; admins with ?role=admin.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conversationID := r.URL.Query().Get("conversationId")
	isAdmin := r.URL.Query().Get("role") == "admin"
	if conversationID == "" && !isAdmin {
		http.Error(w, "conversationId or role=admin required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()

	if isAdmin {
		h.hub.RegisterAdmin(ws)
		defer h.hub.UnregisterAdmin(ws)
		h.pushSnapshot(ctx, ws)
	} else {
		h.hub.RegisterUser(conversationID, ws)
		defer h.hub.UnregisterUser(conversationID, ws)
	}

	slog.Info("Handoff WebSocket connected",
		"conversation_id", conversationID,
		"admin", isAdmin,
		"ip", r.RemoteAddr)

	h.readLoop(ctx, ws, conversationID, isAdmin)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// pushSnapshot sends the current pending list so a freshly connected admin
// dashboard is consistent without waiting for a new event.
func (h *WebSocketHandler) pushSnapshot(ctx context.Context, ws *websocket.Conn) {
	snapshot, err := h.coord.Aggregator().Snapshot(ctx)
	if err != nil {
		slog.Warn("Failed to build pending snapshot", "error", err)
		return
	}
	if err := writeFrame(ctx, ws, domain.Frame{Type: domain.FramePendingSnapshot, Data: snapshot}); err != nil {
		slog.Debug("Failed to push pending snapshot", "error", err)
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conversationID string, isAdmin bool) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "conversation_id", conversationID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(ctx, ws, "malformed frame")
			continue
		}

		h.dispatch(ctx, ws, frame, conversationID, isAdmin)
	}
}

//nolint:gocognit // Frame dispatch fans out to every coordinator operation.
func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, frame inboundFrame, conversationID string, isAdmin bool) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch frame.Type {
	case "ping":
		if err := writeFrame(ctx, ws, domain.Frame{Type: domain.FramePong}); err != nil {
			slog.Debug("Failed to send pong", "error", err)
		}
	case "accept":
		if !isAdmin {
			h.sendError(ctx, ws, "accept requires an admin session")
			return
		}
		if _, err := h.coord.Accept(opCtx, frame.RequestID, frame.AdminID, frame.AdminName); err != nil {
			h.sendError(ctx, ws, err.Error())
		}
	case "decline":
		if !isAdmin {
			h.sendError(ctx, ws, "decline requires an admin session")
			return
		}
		if _, err := h.coord.Decline(opCtx, frame.RequestID, frame.AdminID); err != nil {
			h.sendError(ctx, ws, err.Error())
		}
	case "message":
		target := conversationID
		if isAdmin {
			target = frame.ConversationID
		}
		if target == "" {
			h.sendError(ctx, ws, "conversation_id required")
			return
		}
		ev := domain.MessageSent{
			ConversationID: target,
			Content:        frame.Content,
			IsFromAdmin:    isAdmin,
			AdminID:        frame.AdminID,
			AdminName:      frame.AdminName,
		}
		if _, err := h.coord.SendMessage(opCtx, ev); err != nil {
			h.sendError(ctx, ws, err.Error())
		}
	default:
		h.sendError(ctx, ws, "unknown frame type")
	}
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, reason string) {
	frame := domain.Frame{Type: domain.FrameError, Data: map[string]string{"reason": reason}}
	if err := writeFrame(ctx, ws, frame); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}
