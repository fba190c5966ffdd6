package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/admithub/handoff/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "handoff.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := repo.Close(); closeErr != nil {
			t.Errorf("Failed to close store: %v", closeErr)
		}
	})
	return repo
}

func newRequest(id, conversationID, guestID string, status domain.Status) *domain.HandoffRequest {
	now := time.Now()
	return &domain.HandoffRequest{
		ID:             id,
		ConversationID: conversationID,
		GuestID:        guestID,
		UserMessage:    "Cho em gặp tư vấn viên",
		Status:         status,
		RequestedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetRequest(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	req := newRequest("req-1", "conv-1", "guest-1", domain.StatusRequesting)
	if err := repo.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	got, err := repo.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.ConversationID != "conv-1" || got.GuestID != "guest-1" {
		t.Errorf("Unexpected request: %+v", got)
	}
	if got.Status != domain.StatusRequesting {
		t.Errorf("Expected status requesting, got %s", got.Status)
	}
	if got.ConnectedAt != nil || got.EndedAt != nil {
		t.Errorf("Expected nil lifecycle timestamps, got %+v", got)
	}

	if _, err := repo.GetRequest(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateRequestRejectsSecondActive(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateRequest(ctx, newRequest("req-1", "conv-1", "guest-1", domain.StatusWaiting)); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	// A second active request for the same conversation violates the
	// partial unique index.
	err := repo.CreateRequest(ctx, newRequest("req-2", "conv-1", "guest-2", domain.StatusRequesting))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	// A terminal record does not block a new active one.
	if _, err := repo.UpdateRequest(ctx, "req-1", RequestPatch{Status: domain.StatusDeclined}, domain.StatusWaiting); err != nil {
		t.Fatalf("UpdateRequest failed: %v", err)
	}
	if err := repo.CreateRequest(ctx, newRequest("req-2", "conv-1", "guest-2", domain.StatusRequesting)); err != nil {
		t.Fatalf("CreateRequest after decline failed: %v", err)
	}
}

func TestUpdateRequestOptimisticGuard(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateRequest(ctx, newRequest("req-1", "conv-1", "guest-1", domain.StatusWaiting)); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	connectedAt := time.Now()
	updated, err := repo.UpdateRequest(ctx, "req-1", RequestPatch{
		Status:      domain.StatusConnected,
		AdminID:     42,
		AdminName:   "Lan",
		ConnectedAt: &connectedAt,
	}, domain.StatusWaiting)
	if err != nil {
		t.Fatalf("UpdateRequest failed: %v", err)
	}
	if updated.Status != domain.StatusConnected || updated.AdminID != 42 || updated.AdminName != "Lan" {
		t.Errorf("Unexpected request after update: %+v", updated)
	}
	if updated.ConnectedAt == nil {
		t.Error("Expected connected_at to be set")
	}

	// The expected status no longer matches.
	_, err = repo.UpdateRequest(ctx, "req-1", RequestPatch{Status: domain.StatusTimeout}, domain.StatusWaiting)
	if !errors.Is(err, ErrStaleWrite) {
		t.Errorf("Expected ErrStaleWrite, got %v", err)
	}

	// Unknown ids surface as not-found, not stale.
	_, err = repo.UpdateRequest(ctx, "missing", RequestPatch{Status: domain.StatusTimeout}, domain.StatusWaiting)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListAndCountByStatus(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		req := newRequest(fmt.Sprintf("req-%d", i), fmt.Sprintf("conv-%d", i), fmt.Sprintf("guest-%d", i), domain.StatusWaiting)
		req.RequestedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.CreateRequest(ctx, req); err != nil {
			t.Fatalf("CreateRequest failed: %v", err)
		}
	}
	if err := repo.CreateRequest(ctx, newRequest("req-9", "conv-9", "guest-9", domain.StatusDeclined)); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	waiting, err := repo.ListRequestsByStatus(ctx, domain.StatusWaiting)
	if err != nil {
		t.Fatalf("ListRequestsByStatus failed: %v", err)
	}
	if len(waiting) != 3 {
		t.Fatalf("Expected 3 waiting requests, got %d", len(waiting))
	}
	// Oldest first.
	if waiting[0].ID != "req-0" || waiting[2].ID != "req-2" {
		t.Errorf("Unexpected order: %s, %s", waiting[0].ID, waiting[2].ID)
	}

	count, err := repo.CountRequestsByStatus(ctx, domain.StatusWaiting)
	if err != nil {
		t.Fatalf("CountRequestsByStatus failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}
}

func TestActiveRequestLookups(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	active, err := repo.ActiveRequestForConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ActiveRequestForConversation failed: %v", err)
	}
	if active != nil {
		t.Errorf("Expected nil for empty store, got %+v", active)
	}

	guest := newRequest("req-1", "conv-1", "guest-1", domain.StatusWaiting)
	if err := repo.CreateRequest(ctx, guest); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	user := newRequest("req-2", "conv-2", "", domain.StatusConnected)
	user.UserID = 7
	if err := repo.CreateRequest(ctx, user); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	active, err = repo.ActiveRequestForConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ActiveRequestForConversation failed: %v", err)
	}
	if active == nil || active.ID != "req-1" {
		t.Errorf("Expected req-1, got %+v", active)
	}

	active, err = repo.ActiveRequestForRequester(ctx, 0, "guest-1")
	if err != nil {
		t.Fatalf("ActiveRequestForRequester failed: %v", err)
	}
	if active == nil || active.ID != "req-1" {
		t.Errorf("Expected req-1 for guest, got %+v", active)
	}

	active, err = repo.ActiveRequestForRequester(ctx, 7, "")
	if err != nil {
		t.Fatalf("ActiveRequestForRequester failed: %v", err)
	}
	if active == nil || active.ID != "req-2" {
		t.Errorf("Expected req-2 for user, got %+v", active)
	}

	// Terminal records never count as active.
	if _, err := repo.UpdateRequest(ctx, "req-1", RequestPatch{Status: domain.StatusTimeout}, domain.StatusWaiting); err != nil {
		t.Fatalf("UpdateRequest failed: %v", err)
	}
	active, err = repo.ActiveRequestForRequester(ctx, 0, "guest-1")
	if err != nil {
		t.Fatalf("ActiveRequestForRequester failed: %v", err)
	}
	if active != nil {
		t.Errorf("Expected nil after timeout, got %+v", active)
	}
}

func TestListRecentRequestsPagination(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		req := newRequest(fmt.Sprintf("req-%d", i), fmt.Sprintf("conv-%d", i), fmt.Sprintf("guest-%d", i), domain.StatusDeclined)
		req.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.CreateRequest(ctx, req); err != nil {
			t.Fatalf("CreateRequest failed: %v", err)
		}
	}

	page, total, err := repo.ListRecentRequests(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRecentRequests failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(page) != 2 || page[0].ID != "req-4" || page[1].ID != "req-3" {
		t.Errorf("Unexpected first page: %+v", page)
	}

	page, _, err = repo.ListRecentRequests(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListRecentRequests failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "req-0" {
		t.Errorf("Unexpected last page: %+v", page)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	msgs := []*domain.HumanMessage{
		{ID: "msg-1", ConversationID: "conv-1", Content: "Chào em", IsFromAdmin: true, AdminID: 42, AdminName: "Lan", Timestamp: base},
		{ID: "msg-2", ConversationID: "conv-1", Content: "Dạ vâng", Timestamp: base.Add(time.Second)},
		{ID: "msg-3", ConversationID: "conv-2", Content: "other", Timestamp: base},
	}
	for _, msg := range msgs {
		if err := repo.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	got, err := repo.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "msg-1" || got[1].ID != "msg-2" {
		t.Errorf("Unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].IsFromAdmin || got[0].AdminName != "Lan" {
		t.Errorf("Unexpected admin message: %+v", got[0])
	}
	if got[1].IsFromAdmin {
		t.Errorf("Expected user message, got %+v", got[1])
	}
}

func TestSettingsSeededAndUpdated(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	settings, err := repo.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	defaults := domain.DefaultSettings()
	if settings.AgentAlias != defaults.AgentAlias || settings.TimeoutSeconds != defaults.TimeoutSeconds {
		t.Errorf("Unexpected seeded settings: %+v", settings)
	}
	if !settings.IsEnabled {
		t.Error("Expected seeded settings to be enabled")
	}

	settings.AgentAlias = "Cô Mai"
	settings.TriggerPattern = "tư vấn,gặp người thật"
	settings.TimeoutSeconds = 120
	settings.WorkingDays = []string{"monday", "tuesday"}
	settings.WorkingHours = map[string]domain.HourRange{
		"monday": {Start: "08:00", End: "17:30"},
	}

	updated, err := repo.UpdateSettings(ctx, settings)
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if updated.AgentAlias != "Cô Mai" || updated.TimeoutSeconds != 120 {
		t.Errorf("Unexpected settings after update: %+v", updated)
	}
	if len(updated.WorkingDays) != 2 {
		t.Errorf("Expected 2 working days, got %v", updated.WorkingDays)
	}
	if hours := updated.WorkingHours["monday"]; hours.End != "17:30" {
		t.Errorf("Unexpected working hours: %+v", updated.WorkingHours)
	}
	if updated.Timeout() != 2*time.Minute {
		t.Errorf("Expected 2m timeout, got %s", updated.Timeout())
	}
}
