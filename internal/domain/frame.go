package domain

import (
	"time"
)

// Frame is the wire format for realtime events. Type discriminates the
// payload so clients can dispatch without inspecting Data.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Frame types delivered over the realtime channel.
const (
	FrameHandoffRequested = "handoff-requested"
	FrameHandoffAccepted  = "handoff-accepted"
	FrameHandoffDeclined  = "handoff-declined"
	FrameHandoffTimeout   = "handoff-timeout"
	FrameHandoffTaken     = "handoff-taken"
	FrameHumanMessage     = "human-message"
	FramePendingCount     = "pending-count"
	FramePendingSnapshot  = "pending-snapshot"
	FramePong             = "pong"
	FrameError            = "error"
)

// RequestNotice is broadcast to admins when a new request appears.
type RequestNotice struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id"`
	UserMessage    string    `json:"user_message"`
	RequestedAt    time.Time `json:"requested_at"`
	Status         Status    `json:"status"`
}

// AcceptedNotice tells the requester an agent picked up their request.
type AcceptedNotice struct {
	RequestID string `json:"request_id"`
	AdminName string `json:"admin_name"`
}

// ResolvedNotice tells the requester their request was declined or timed out,
// and tells other admins a request left the pending list.
type ResolvedNotice struct {
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`
}

// TakenNotice tells the remaining admins a request was claimed.
type TakenNotice struct {
	RequestID string `json:"request_id"`
	AdminID   int64  `json:"admin_id"`
	AdminName string `json:"admin_name"`
}

// PendingCount carries the admin badge counter.
type PendingCount struct {
	Count int `json:"count"`
}

// PendingSnapshot is pushed to an admin on connect so the dashboard is
// consistent without waiting for the next event.
type PendingSnapshot struct {
	Requests []*HandoffRequest `json:"requests"`
	Count    int               `json:"count"`
}
