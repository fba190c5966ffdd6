// Package handoff implements the escalation state machine and its
// surrounding coordination: timeout scheduling, effect execution and
// admin notification aggregation.
package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when an event is not valid for the
// request's current status, e.g. accepting a request that already timed out.
var ErrInvalidTransition = errors.New("event not valid for current handoff status")

// Machine holds the pure transition logic. Given the current request and an
// event it produces the updated request plus a list of effects; it performs
// no I/O itself. Clock and ID generation are injected so transitions stay
// deterministic under test.
type Machine struct {
	Timeout time.Duration
	Now     func() time.Time
	NewID   func() string
}

// NewMachine creates a machine with the real clock and UUID generation.
func NewMachine(timeout time.Duration) *Machine {
	return &Machine{
		Timeout: timeout,
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

// Transition applies ev to cur. cur must be nil for CreateRequest and
// non-nil for every other event. The returned request is a copy; the caller
// persists it and executes the effects in order.
func (m *Machine) Transition(cur *domain.HandoffRequest, ev domain.Event) (*domain.HandoffRequest, []domain.Effect, error) {
	switch e := ev.(type) {
	case domain.CreateRequest:
		if cur != nil {
			return nil, nil, fmt.Errorf("%w: conversation %s already has an active request", ErrInvalidTransition, e.ConversationID)
		}
		return m.create(e)
	case domain.BroadcastAcked:
		return m.broadcastAcked(cur)
	case domain.AdminAccept:
		return m.accept(cur, e)
	case domain.AdminDecline:
		return m.decline(cur, e)
	case domain.TimeoutFired:
		return m.timeout(cur)
	case domain.MessageSent:
		return m.message(cur, e)
	default:
		return nil, nil, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
}

func (m *Machine) create(e domain.CreateRequest) (*domain.HandoffRequest, []domain.Effect, error) {
	if (e.UserID != 0) == (e.GuestID != "") {
		return nil, nil, fmt.Errorf("exactly one of user id and guest id must be set")
	}

	now := m.Now()
	req := &domain.HandoffRequest{
		ID:             m.NewID(),
		ConversationID: e.ConversationID,
		UserID:         e.UserID,
		GuestID:        e.GuestID,
		UserMessage:    e.UserMessage,
		Status:         domain.StatusRequesting,
		RequestedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	notice := domain.RequestNotice{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		UserMessage:    req.UserMessage,
		RequestedAt:    req.RequestedAt,
		Status:         req.Status,
	}
	effects := []domain.Effect{
		domain.EmitToAdmins{Frame: domain.Frame{Type: domain.FrameHandoffRequested, Data: notice}},
		domain.PublishEvent{RoutingKey: "handoff.requested", Data: notice},
	}
	return req, effects, nil
}

func (m *Machine) broadcastAcked(cur *domain.HandoffRequest) (*domain.HandoffRequest, []domain.Effect, error) {
	if cur.Status != domain.StatusRequesting {
		return nil, nil, fmt.Errorf("%w: broadcast ack in status %s", ErrInvalidTransition, cur.Status)
	}

	next := *cur
	next.Status = domain.StatusWaiting
	next.UpdatedAt = m.Now()

	effects := []domain.Effect{
		domain.ScheduleTimeout{RequestID: next.ID, Duration: m.Timeout},
	}
	return &next, effects, nil
}

func (m *Machine) accept(cur *domain.HandoffRequest, e domain.AdminAccept) (*domain.HandoffRequest, []domain.Effect, error) {
	if cur.Status != domain.StatusWaiting {
		return nil, nil, fmt.Errorf("%w: accept in status %s", ErrInvalidTransition, cur.Status)
	}

	now := m.Now()
	next := *cur
	next.Status = domain.StatusConnected
	next.AdminID = e.AdminID
	next.AdminName = e.AdminName
	next.ConnectedAt = &now
	next.UpdatedAt = now

	effects := []domain.Effect{
		domain.CancelTimeout{RequestID: next.ID},
		domain.EmitToUser{
			ConversationID: next.ConversationID,
			Frame: domain.Frame{Type: domain.FrameHandoffAccepted, Data: domain.AcceptedNotice{
				RequestID: next.ID,
				AdminName: next.AdminName,
			}},
		},
		domain.EmitToAdmins{
			Frame: domain.Frame{Type: domain.FrameHandoffTaken, Data: domain.TakenNotice{
				RequestID: next.ID,
				AdminID:   next.AdminID,
				AdminName: next.AdminName,
			}},
		},
		domain.PublishEvent{RoutingKey: "handoff.accepted", Data: &next},
	}
	return &next, effects, nil
}

func (m *Machine) decline(cur *domain.HandoffRequest, e domain.AdminDecline) (*domain.HandoffRequest, []domain.Effect, error) {
	if cur.Status != domain.StatusWaiting {
		return nil, nil, fmt.Errorf("%w: decline in status %s", ErrInvalidTransition, cur.Status)
	}

	now := m.Now()
	next := *cur
	next.Status = domain.StatusDeclined
	next.AdminID = e.AdminID
	next.EndedAt = &now
	next.UpdatedAt = now

	effects := []domain.Effect{
		domain.CancelTimeout{RequestID: next.ID},
		domain.EmitToUser{
			ConversationID: next.ConversationID,
			Frame: domain.Frame{Type: domain.FrameHandoffDeclined, Data: domain.ResolvedNotice{
				RequestID: next.ID,
				Status:    next.Status,
			}},
		},
		domain.PublishEvent{RoutingKey: "handoff.declined", Data: &next},
	}
	return &next, effects, nil
}

func (m *Machine) timeout(cur *domain.HandoffRequest) (*domain.HandoffRequest, []domain.Effect, error) {
	if cur.Status != domain.StatusWaiting {
		// A timer that raced with an accept or decline loses here.
		return nil, nil, fmt.Errorf("%w: timeout in status %s", ErrInvalidTransition, cur.Status)
	}

	now := m.Now()
	next := *cur
	next.Status = domain.StatusTimeout
	next.EndedAt = &now
	next.UpdatedAt = now

	resolved := domain.ResolvedNotice{RequestID: next.ID, Status: next.Status}
	effects := []domain.Effect{
		domain.EmitToUser{
			ConversationID: next.ConversationID,
			Frame:          domain.Frame{Type: domain.FrameHandoffTimeout, Data: resolved},
		},
		domain.EmitToAdmins{
			Frame: domain.Frame{Type: domain.FrameHandoffTimeout, Data: resolved},
		},
		domain.PublishEvent{RoutingKey: "handoff.timeout", Data: &next},
	}
	return &next, effects, nil
}

func (m *Machine) message(cur *domain.HandoffRequest, e domain.MessageSent) (*domain.HandoffRequest, []domain.Effect, error) {
	if cur.Status != domain.StatusConnected {
		return nil, nil, fmt.Errorf("%w: message in status %s", ErrInvalidTransition, cur.Status)
	}

	msg := &domain.HumanMessage{
		ID:             m.NewID(),
		ConversationID: e.ConversationID,
		Content:        e.Content,
		IsFromAdmin:    e.IsFromAdmin,
		AdminID:        e.AdminID,
		AdminName:      e.AdminName,
		Timestamp:      m.Now(),
	}

	frame := domain.Frame{Type: domain.FrameHumanMessage, Data: msg}
	effects := []domain.Effect{
		domain.AppendMessage{Message: msg},
	}
	// Deliver to the counterpart of the sender.
	if e.IsFromAdmin {
		effects = append(effects, domain.EmitToUser{ConversationID: e.ConversationID, Frame: frame})
	} else {
		effects = append(effects, domain.EmitToAdmins{Frame: frame})
	}
	effects = append(effects, domain.PublishEvent{RoutingKey: "handoff.message", Data: msg})

	// The request itself does not change; status stays CONNECTED.
	return cur, effects, nil
}
