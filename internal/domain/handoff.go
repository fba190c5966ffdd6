// Package domain contains core domain types for the handoff service.
package domain

import (
	"time"
)

// Status is the lifecycle state of a HandoffRequest.
type Status string

const (
	StatusNone       Status = "none"
	StatusRequesting Status = "requesting"
	StatusWaiting    Status = "waiting"
	StatusConnected  Status = "connected"
	StatusDeclined   Status = "declined"
	StatusTimeout    Status = "timeout"
)

// IsActive reports whether the status counts against the one-active-request-per-
// conversation invariant. Declined and timed-out requests do not.
func (s Status) IsActive() bool {
	switch s {
	case StatusRequesting, StatusWaiting, StatusConnected:
		return true
	}
	return false
}

// IsValid reports whether s is a known persistable status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRequesting, StatusWaiting, StatusConnected, StatusDeclined, StatusTimeout:
		return true
	}
	return false
}

// HandoffRequest represents one escalation attempt from bot to human agent.
type HandoffRequest struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	UserID         int64      `json:"user_id,omitempty"`
	GuestID        string     `json:"guest_id,omitempty"`
	UserMessage    string     `json:"user_message"`
	Status         Status     `json:"status"`
	AdminID        int64      `json:"admin_id,omitempty"`
	AdminName      string     `json:"admin_name,omitempty"`
	RequestedAt    time.Time  `json:"requested_at"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsActive reports whether the request still occupies its conversation.
func (r *HandoffRequest) IsActive() bool {
	return r.Status.IsActive()
}

// HasRequester reports whether exactly one of UserID/GuestID is set.
func (r *HandoffRequest) HasRequester() bool {
	return (r.UserID != 0) != (r.GuestID != "")
}

// TimeoutRemaining returns how long the request may stay WAITING before it
// expires. Returns 0 if the deadline has passed or the request is not waiting.
func (r *HandoffRequest) TimeoutRemaining(timeout time.Duration) time.Duration {
	if r.Status != StatusWaiting {
		return 0
	}
	remaining := time.Until(r.RequestedAt.Add(timeout))
	if remaining < 0 {
		return 0
	}
	return remaining
}
