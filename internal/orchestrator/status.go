package orchestrator

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/store"
)

// tracker owns the current snapshot of one goal execution and persists
// every patch applied to it. Persistence is best-effort.
type tracker struct {
	mu      sync.Mutex
	current goal.GoalEvent
	store   store.Store
	logger  *log.Logger
	metrics *metrics.Metrics
}

func (t *tracker) snapshot() goal.GoalEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// apply patches the snapshot and stores the result. A patch refused by the
// snapshot leaves it unchanged.
func (t *tracker) apply(ctx context.Context, patch goal.StatusPatch) goal.GoalEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, err := t.current.Apply(patch)
	if err != nil {
		t.logger.Warn("refusing status update", "error", err, "state", patch.State)
		return t.current
	}
	t.current = next

	if t.store == nil {
		return next
	}
	if err := t.store.Update(ctx, next); err != nil {
		t.metrics.RecordStatusUpdate(string(next.State), false)
		t.logger.WithError(err).Warn("failed to persist goal status", "state", next.State, "phase", next.Phase)
		return next
	}
	t.metrics.RecordStatusUpdate(string(next.State), true)
	return next
}
