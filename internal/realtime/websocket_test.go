package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/admithub/handoff/internal/handoff"
	"github.com/admithub/handoff/internal/store"
	"github.com/coder/websocket"
)

func newTestEndpoint(t *testing.T) (*httptest.Server, *handoff.Coordinator) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "handoff.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := repo.Close(); closeErr != nil {
			t.Errorf("Failed to close store: %v", closeErr)
		}
	})

	settings, err := repo.GetSettings(context.Background())
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	settings.WorkingDays = []string{}
	if _, err := repo.UpdateSettings(context.Background(), settings); err != nil {
		t.Fatalf("Failed to update settings: %v", err)
	}

	hub := NewHub()
	coord := handoff.NewCoordinator(repo, hub, nil, time.Minute)
	t.Cleanup(coord.Stop)
	t.Cleanup(hub.CloseAll)

	srv := httptest.NewServer(NewWebSocketHandler(hub, coord, "*", true))
	t.Cleanup(srv.Close)
	return srv, coord
}

func dialEndpoint(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", query, err)
	}
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
	})
	return conn
}

func writeInbound(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// readUntil skips frames until one of the wanted type arrives, returning its
// raw payload.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) json.RawMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Connection failed while waiting for %s: %v", frameType, err)
		}
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		if frame.Type == frameType {
			return frame.Data
		}
	}
}

func TestUpgradeRequiresIdentity(t *testing.T) {
	srv, _ := newTestEndpoint(t)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without identity, got %d", resp.StatusCode)
	}
}

func TestPing(t *testing.T) {
	srv, _ := newTestEndpoint(t)
	user := dialEndpoint(t, srv, "conversationId=conv-1")

	writeInbound(t, user, map[string]string{"type": "ping"})
	readUntil(t, user, domain.FramePong)
}

func TestAdminSnapshotOnConnect(t *testing.T) {
	srv, coord := newTestEndpoint(t)

	req, err := coord.Create(context.Background(), domain.CreateRequest{
		ConversationID: "conv-1",
		GuestID:        "guest-1",
		UserMessage:    "Em cần gặp tư vấn viên",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	admin := dialEndpoint(t, srv, "role=admin")

	raw := readUntil(t, admin, domain.FramePendingSnapshot)
	var snapshot domain.PendingSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snapshot.Count != 1 || len(snapshot.Requests) != 1 || snapshot.Requests[0].ID != req.ID {
		t.Errorf("Unexpected snapshot: %+v", snapshot)
	}
}

func TestAcceptAndChatOverWebSocket(t *testing.T) {
	srv, coord := newTestEndpoint(t)

	user := dialEndpoint(t, srv, "conversationId=conv-1")
	admin := dialEndpoint(t, srv, "role=admin")
	readUntil(t, admin, domain.FramePendingSnapshot)

	req, err := coord.Create(context.Background(), domain.CreateRequest{
		ConversationID: "conv-1",
		GuestID:        "guest-1",
		UserMessage:    "Em cần gặp tư vấn viên",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	readUntil(t, admin, domain.FrameHandoffRequested)

	writeInbound(t, admin, map[string]any{
		"type":       "accept",
		"request_id": req.ID,
		"admin_id":   42,
		"admin_name": "Lan",
	})

	raw := readUntil(t, user, domain.FrameHandoffAccepted)
	var accepted domain.AcceptedNotice
	if err := json.Unmarshal(raw, &accepted); err != nil {
		t.Fatalf("Failed to decode accepted notice: %v", err)
	}
	if accepted.AdminName != "Lan" {
		t.Errorf("Expected admin name Lan, got %s", accepted.AdminName)
	}
	readUntil(t, admin, domain.FrameHandoffTaken)

	// Requester chats; the admin group receives the message.
	writeInbound(t, user, map[string]any{
		"type":    "message",
		"content": "Dạ em cảm ơn",
	})
	raw = readUntil(t, admin, domain.FrameHumanMessage)
	var msg domain.HumanMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if msg.Content != "Dạ em cảm ơn" || msg.IsFromAdmin {
		t.Errorf("Unexpected message: %+v", msg)
	}

	// Admin replies; the requester receives it.
	writeInbound(t, admin, map[string]any{
		"type":            "message",
		"conversation_id": "conv-1",
		"content":         "Chào em",
		"admin_id":        42,
		"admin_name":      "Lan",
	})
	raw = readUntil(t, user, domain.FrameHumanMessage)
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if msg.Content != "Chào em" || !msg.IsFromAdmin {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestRequesterCannotAccept(t *testing.T) {
	srv, coord := newTestEndpoint(t)

	user := dialEndpoint(t, srv, "conversationId=conv-1")
	req, err := coord.Create(context.Background(), domain.CreateRequest{
		ConversationID: "conv-1",
		GuestID:        "guest-1",
		UserMessage:    "Em cần gặp tư vấn viên",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	writeInbound(t, user, map[string]any{
		"type":       "accept",
		"request_id": req.ID,
		"admin_id":   42,
	})
	readUntil(t, user, domain.FrameError)
}
