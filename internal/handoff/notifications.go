package handoff

import (
	"context"
	"fmt"

	"github.com/admithub/handoff/internal/domain"
	"github.com/admithub/handoff/internal/store"
)

// Aggregator derives admin-facing notification views from the store. The
// store stays the source of truth; nothing here is cached, recomputation is
// O(active requests) on every status-changing event.
type Aggregator struct {
	repo store.Repository
}

// NewAggregator creates an aggregator over the given repository.
func NewAggregator(repo store.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// PendingCount returns the number of requests waiting for an admin, for the
// dashboard badge.
func (a *Aggregator) PendingCount(ctx context.Context) (int, error) {
	count, err := a.repo.CountRequestsByStatus(ctx, domain.StatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("count waiting requests: %w", err)
	}
	return count, nil
}

// PendingRequests returns the waiting requests, oldest first, for the admin
// pending list.
func (a *Aggregator) PendingRequests(ctx context.Context) ([]*domain.HandoffRequest, error) {
	requests, err := a.repo.ListRequestsByStatus(ctx, domain.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("list waiting requests: %w", err)
	}
	return requests, nil
}

// Snapshot returns the pending list and count together, pushed to admins on
// connect so the dashboard is consistent without waiting for a new event.
func (a *Aggregator) Snapshot(ctx context.Context) (*domain.PendingSnapshot, error) {
	requests, err := a.PendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.PendingSnapshot{Requests: requests, Count: len(requests)}, nil
}
