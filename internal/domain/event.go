package domain

import (
	"time"
)

// Event is a tagged variant fed into the handoff state machine. Representing
// each action as its own type keeps the transition table exhaustively
// checkable in a single switch.
type Event interface {
	isEvent()
}

// CreateRequest asks for a new escalation of a conversation. Exactly one of
// UserID/GuestID identifies the requester.
type CreateRequest struct {
	ConversationID string
	UserID         int64
	GuestID        string
	UserMessage    string
}

// BroadcastAcked records that the new request reached the admin broadcast
// group, moving it from REQUESTING to WAITING.
type BroadcastAcked struct {
	RequestID string
}

// AdminAccept is an admin claiming a waiting request.
type AdminAccept struct {
	RequestID string
	AdminID   int64
	AdminName string
}

// AdminDecline is an admin rejecting a waiting request.
type AdminDecline struct {
	RequestID string
	AdminID   int64
}

// TimeoutFired is injected by the scheduler when a waiting request was not
// actioned before its deadline.
type TimeoutFired struct {
	RequestID string
}

// MessageSent is a chat message from either party of a connected handoff.
type MessageSent struct {
	ConversationID string
	Content        string
	IsFromAdmin    bool
	AdminID        int64
	AdminName      string
}

func (CreateRequest) isEvent()  {}
func (BroadcastAcked) isEvent() {}
func (AdminAccept) isEvent()    {}
func (AdminDecline) isEvent()   {}
func (TimeoutFired) isEvent()   {}
func (MessageSent) isEvent()    {}

// Effect is a descriptive side effect returned by the state machine. The
// machine never performs I/O itself; the coordinator executes effects against
// the realtime hub, the timeout scheduler, the store and the event publisher.
type Effect interface {
	isEffect()
}

// EmitToUser delivers a frame to the requester's session, best effort.
type EmitToUser struct {
	ConversationID string
	Frame          Frame
}

// EmitToAdmins broadcasts a frame to every connected admin session.
type EmitToAdmins struct {
	Frame Frame
}

// ScheduleTimeout arms the one-shot waiting deadline for a request.
type ScheduleTimeout struct {
	RequestID string
	Duration  time.Duration
}

// CancelTimeout disarms a pending deadline; no-op if already fired.
type CancelTimeout struct {
	RequestID string
}

// AppendMessage persists a human message to conversation history.
type AppendMessage struct {
	Message *HumanMessage
}

// PublishEvent forwards a lifecycle event to the external event bus.
type PublishEvent struct {
	RoutingKey string
	Data       any
}

func (EmitToUser) isEffect()      {}
func (EmitToAdmins) isEffect()    {}
func (ScheduleTimeout) isEffect() {}
func (CancelTimeout) isEffect()   {}
func (AppendMessage) isEffect()   {}
func (PublishEvent) isEffect()    {}
