package handoff

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler tracks one-shot waiting deadlines per request. Firing hands the
// request id to the fire callback, which injects a TimeoutFired event into
// the coordinator. Cancel is idempotent: a timer that already fired or was
// never armed is a no-op, and a late fire is rejected by the state machine's
// optimistic guard.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(requestID string)

	// afterFunc is replaced in tests to fire timers deterministically.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewScheduler creates a scheduler delivering expirations to fire.
func NewScheduler(fire func(requestID string)) *Scheduler {
	return &Scheduler{
		timers:    make(map[string]*time.Timer),
		fire:      fire,
		afterFunc: time.AfterFunc,
	}
}

// Schedule arms the deadline for a request, replacing any existing one.
func (s *Scheduler) Schedule(requestID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[requestID]; ok {
		existing.Stop()
	}

	s.timers[requestID] = s.afterFunc(d, func() {
		s.expire(requestID)
	})
	slog.Debug("Handoff timeout scheduled", "request_id", requestID, "deadline", d)
}

func (s *Scheduler) expire(requestID string) {
	s.mu.Lock()
	_, armed := s.timers[requestID]
	delete(s.timers, requestID)
	s.mu.Unlock()

	// A cancel that raced the firing goroutine wins; drop the expiration.
	if !armed {
		return
	}
	s.fire(requestID)
}

// Cancel disarms the deadline for a request if present.
func (s *Scheduler) Cancel(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[requestID]; ok {
		timer.Stop()
		delete(s.timers, requestID)
		slog.Debug("Handoff timeout cancelled", "request_id", requestID)
	}
}

// Pending reports whether a deadline is currently armed for a request.
func (s *Scheduler) Pending(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[requestID]
	return ok
}

// Stop disarms all pending deadlines. Used during shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
