// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/admithub/handoff/internal/domain"
)

// RequestPatch describes the mutable fields of a handoff request. Status is
// required; the remaining fields are applied only when set.
type RequestPatch struct {
	Status      domain.Status
	AdminID     int64
	AdminName   string
	ConnectedAt *time.Time
	EndedAt     *time.Time
}

// Repository defines the interface for persisting handoff state. The store
// exclusively owns HandoffRequest records; all other components treat it as
// the arbiter of truth.
type Repository interface {
	// CreateRequest inserts a new handoff request. Returns ErrConflict if an
	// active request already exists for the conversation.
	CreateRequest(ctx context.Context, req *domain.HandoffRequest) error

	// GetRequest retrieves a request by id. Returns ErrNotFound if absent.
	GetRequest(ctx context.Context, id string) (*domain.HandoffRequest, error)

	// UpdateRequest applies patch and bumps updated_at. The update only
	// happens if the current status matches expected (optimistic
	// concurrency); otherwise ErrStaleWrite is returned. Returns ErrNotFound
	// for unknown ids.
	UpdateRequest(ctx context.Context, id string, patch RequestPatch, expected domain.Status) (*domain.HandoffRequest, error)

	// ListRequestsByStatus returns all requests in the given status, oldest
	// first.
	ListRequestsByStatus(ctx context.Context, status domain.Status) ([]*domain.HandoffRequest, error)

	// CountRequestsByStatus returns the number of requests in the given
	// status.
	CountRequestsByStatus(ctx context.Context, status domain.Status) (int, error)

	// ActiveRequestForConversation returns the zero-or-one non-terminal
	// request for a conversation, or nil if none exists.
	ActiveRequestForConversation(ctx context.Context, conversationID string) (*domain.HandoffRequest, error)

	// ActiveRequestForRequester returns the zero-or-one non-terminal request
	// opened by the given requester across all conversations.
	ActiveRequestForRequester(ctx context.Context, userID int64, guestID string) (*domain.HandoffRequest, error)

	// ListRecentRequests returns a page of requests, newest first, together
	// with the total count.
	ListRecentRequests(ctx context.Context, limit, offset int) ([]*domain.HandoffRequest, int, error)

	// AppendMessage persists a human message. Messages are never mutated.
	AppendMessage(ctx context.Context, msg *domain.HumanMessage) error

	// ListMessages returns the human messages of a conversation in send
	// order.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.HumanMessage, error)

	// GetSettings returns the handoff settings record.
	GetSettings(ctx context.Context) (*domain.HandoffSetting, error)

	// UpdateSettings replaces the handoff settings record.
	UpdateSettings(ctx context.Context, s *domain.HandoffSetting) (*domain.HandoffSetting, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
