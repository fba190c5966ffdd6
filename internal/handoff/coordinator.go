package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/admithub/handoff/internal/domain"
	"github.com/admithub/handoff/internal/store"
)

// ErrUnavailable is returned when escalation is disabled or outside the
// configured working hours.
var ErrUnavailable = errors.New("human support is currently unavailable")

// Notifier delivers realtime frames. Delivery is best effort; the store
// remains the source of truth and reconnecting clients re-sync via snapshot.
type Notifier interface {
	SendToUser(ctx context.Context, conversationID string, frame domain.Frame) error
	BroadcastToAdmins(ctx context.Context, frame domain.Frame)
}

// Publisher forwards lifecycle events to an external event bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// StatusView is the polling view of a conversation's escalation state.
type StatusView struct {
	IsWaiting        bool   `json:"is_waiting"`
	IsConnected      bool   `json:"is_connected"`
	AdminName        string `json:"admin_name,omitempty"`
	TimeoutRemaining int64  `json:"timeout_remaining_ms,omitempty"`
}

// Coordinator drives the state machine: it serializes events per request,
// persists transitions through the store's optimistic guard and executes the
// machine's effects against the notifier, scheduler and publisher.
type Coordinator struct {
	repo      store.Repository
	notifier  Notifier
	publisher Publisher // nil when no event bus is configured
	machine   *Machine
	agg       *Aggregator
	scheduler *Scheduler

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires a coordinator over the given dependencies. publisher
// may be nil.
func NewCoordinator(repo store.Repository, notifier Notifier, publisher Publisher, defaultTimeout time.Duration) *Coordinator {
	c := &Coordinator{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		machine:   NewMachine(defaultTimeout),
		agg:       NewAggregator(repo),
		locks:     make(map[string]*sync.Mutex),
	}
	c.scheduler = NewScheduler(c.handleTimeout)
	return c
}

// Aggregator exposes the notification aggregator for read-side consumers.
func (c *Coordinator) Aggregator() *Aggregator {
	return c.agg
}

// Stop disarms all pending timers. Used during shutdown.
func (c *Coordinator) Stop() {
	c.scheduler.Stop()
}

// lockFor returns the serialization mutex for a request id. Events for the
// same request never execute concurrently; different requests proceed in
// parallel.
func (c *Coordinator) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mu, ok := c.locks[id]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	c.locks[id] = mu
	return mu
}

func (c *Coordinator) releaseLock(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
}

// Create escalates a conversation to a human agent: persists the request as
// REQUESTING, broadcasts it to admins and, once the broadcast is
// acknowledged, moves it to WAITING with the timeout armed.
func (c *Coordinator) Create(ctx context.Context, ev domain.CreateRequest) (*domain.HandoffRequest, error) {
	settings, err := c.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load handoff settings: %w", err)
	}
	available, err := Available(time.Now(), settings)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrUnavailable
	}

	if active, err := c.repo.ActiveRequestForConversation(ctx, ev.ConversationID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, fmt.Errorf("conversation %s: %w", ev.ConversationID, store.ErrConflict)
	}
	if active, err := c.repo.ActiveRequestForRequester(ctx, ev.UserID, ev.GuestID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, fmt.Errorf("requester already has an active session: %w", store.ErrConflict)
	}

	// The settings timeout overrides the configured default.
	machine := *c.machine
	machine.Timeout = settings.Timeout()

	req, effects, err := machine.Transition(nil, ev)
	if err != nil {
		return nil, err
	}
	if err := c.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	c.execute(ctx, effects)

	// Broadcast reached the admin group; arm the waiting deadline.
	next, effects, err := machine.Transition(req, domain.BroadcastAcked{RequestID: req.ID})
	if err != nil {
		return nil, err
	}
	updated, err := c.repo.UpdateRequest(ctx, req.ID, store.RequestPatch{Status: next.Status}, req.Status)
	if err != nil {
		return nil, err
	}
	c.execute(ctx, effects)
	c.broadcastPendingCount(ctx)

	slog.Info("Handoff request created",
		"request_id", updated.ID,
		"conversation_id", updated.ConversationID,
		"timeout", settings.Timeout())
	return updated, nil
}

// Accept connects a waiting request to an admin. Exactly one of two racing
// accepts succeeds; the loser receives ErrStaleWrite.
func (c *Coordinator) Accept(ctx context.Context, requestID string, adminID int64, adminName string) (*domain.HandoffRequest, error) {
	return c.transition(ctx, requestID, domain.AdminAccept{
		RequestID: requestID,
		AdminID:   adminID,
		AdminName: adminName,
	})
}

// Decline rejects a waiting request. The conversation may escalate again
// afterwards.
func (c *Coordinator) Decline(ctx context.Context, requestID string, adminID int64) (*domain.HandoffRequest, error) {
	return c.transition(ctx, requestID, domain.AdminDecline{
		RequestID: requestID,
		AdminID:   adminID,
	})
}

func (c *Coordinator) transition(ctx context.Context, requestID string, ev domain.Event) (*domain.HandoffRequest, error) {
	mu := c.lockFor(requestID)
	mu.Lock()
	defer mu.Unlock()

	cur, err := c.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	next, effects, err := c.machine.Transition(cur, ev)
	if err != nil {
		return nil, err
	}

	patch := store.RequestPatch{
		Status:      next.Status,
		AdminID:     next.AdminID,
		AdminName:   next.AdminName,
		ConnectedAt: next.ConnectedAt,
		EndedAt:     next.EndedAt,
	}
	updated, err := c.repo.UpdateRequest(ctx, requestID, patch, cur.Status)
	if err != nil {
		return nil, err
	}

	c.execute(ctx, effects)
	c.broadcastPendingCount(ctx)

	if !updated.IsActive() {
		c.releaseLock(requestID)
	}
	slog.Info("Handoff request transitioned",
		"request_id", requestID,
		"from", cur.Status,
		"to", updated.Status)
	return updated, nil
}

// handleTimeout is the scheduler's fire callback. A timer racing a
// concurrent accept loses through the optimistic guard and is dropped.
func (c *Coordinator) handleTimeout(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.transition(ctx, requestID, domain.TimeoutFired{RequestID: requestID})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, store.ErrStaleWrite) || errors.Is(err, store.ErrNotFound) {
			slog.Debug("Late handoff timeout dropped", "request_id", requestID, "reason", err)
			return
		}
		slog.Error("Handoff timeout processing failed", "request_id", requestID, "error", err)
	}
}

// SendMessage relays a chat message between the parties of a connected
// handoff and appends it to conversation history.
func (c *Coordinator) SendMessage(ctx context.Context, ev domain.MessageSent) (*domain.HumanMessage, error) {
	cur, err := c.repo.ActiveRequestForConversation(ctx, ev.ConversationID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("conversation %s has no active handoff: %w", ev.ConversationID, store.ErrNotFound)
	}

	mu := c.lockFor(cur.ID)
	mu.Lock()
	defer mu.Unlock()

	_, effects, err := c.machine.Transition(cur, ev)
	if err != nil {
		return nil, err
	}
	c.execute(ctx, effects)

	for _, eff := range effects {
		if appended, ok := eff.(domain.AppendMessage); ok {
			return appended.Message, nil
		}
	}
	return nil, fmt.Errorf("message effect missing from transition")
}

// Status returns the polling view for a conversation. An overdue WAITING
// request is timed out on read, matching the scheduler's behavior when the
// process restarted and lost its in-memory timers.
func (c *Coordinator) Status(ctx context.Context, conversationID string) (*StatusView, error) {
	cur, err := c.repo.ActiveRequestForConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return &StatusView{}, nil
	}

	settings, err := c.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load handoff settings: %w", err)
	}

	if cur.Status == domain.StatusWaiting {
		remaining := cur.TimeoutRemaining(settings.Timeout())
		if remaining == 0 {
			c.handleTimeout(cur.ID)
			return &StatusView{}, nil
		}
		return &StatusView{
			IsWaiting:        true,
			TimeoutRemaining: remaining.Milliseconds(),
		}, nil
	}

	if cur.Status == domain.StatusConnected {
		return &StatusView{
			IsConnected: true,
			AdminName:   cur.AdminName,
		}, nil
	}
	return &StatusView{}, nil
}

func (c *Coordinator) execute(ctx context.Context, effects []domain.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case domain.EmitToUser:
			if err := c.notifier.SendToUser(ctx, e.ConversationID, e.Frame); err != nil {
				// Non-fatal: the client re-syncs from the store on reconnect.
				slog.Warn("Dropped user notification",
					"conversation_id", e.ConversationID,
					"frame", e.Frame.Type,
					"error", err)
			}
		case domain.EmitToAdmins:
			c.notifier.BroadcastToAdmins(ctx, e.Frame)
		case domain.ScheduleTimeout:
			c.scheduler.Schedule(e.RequestID, e.Duration)
		case domain.CancelTimeout:
			c.scheduler.Cancel(e.RequestID)
		case domain.AppendMessage:
			if err := c.repo.AppendMessage(ctx, e.Message); err != nil {
				slog.Error("Failed to persist human message",
					"conversation_id", e.Message.ConversationID,
					"error", err)
			}
		case domain.PublishEvent:
			if c.publisher == nil {
				continue
			}
			if err := c.publisher.Publish(ctx, e.RoutingKey, e.Data); err != nil {
				slog.Warn("Failed to publish handoff event",
					"routing_key", e.RoutingKey,
					"error", err)
			}
		}
	}
}

func (c *Coordinator) broadcastPendingCount(ctx context.Context) {
	count, err := c.agg.PendingCount(ctx)
	if err != nil {
		slog.Warn("Failed to recompute pending count", "error", err)
		return
	}
	c.notifier.BroadcastToAdmins(ctx, domain.Frame{
		Type: domain.FramePendingCount,
		Data: domain.PendingCount{Count: count},
	})
}
