// Package store persists goal status snapshots.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// ErrNotFound is returned by Get for an unknown goal
var ErrNotFound = stderrors.New("goal not found")

// Store keeps the latest snapshot of every goal by GoalEvent.Key.
// Update refuses to move a terminal goal into another state; the error
// matches goal.ErrTerminalState.
type Store interface {
	Get(ctx context.Context, key string) (goal.GoalEvent, error)
	Update(ctx context.Context, event goal.GoalEvent) error
	Close() error
}

// Config selects and configures a store
type Config struct {
	// Driver is memory, sqlite or postgres
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// Open creates the store named by cfg.Driver
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite", "postgres":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN)
	default:
		return nil, errors.New(errors.ErrCodeStoreOpen, fmt.Sprintf("unknown store driver %q", cfg.Driver)).
			WithSuggestion("Use one of: memory, sqlite, postgres")
	}
}

// checkTransition refuses any change to a terminal snapshot. Rewriting the
// stored snapshot unchanged is allowed.
func checkTransition(stored, next goal.GoalEvent) error {
	if !stored.State.IsTerminal() || next.SameStatus(stored) {
		return nil
	}
	if next.State != stored.State {
		return errors.NewStateRegressionError(next.Key(),
			fmt.Errorf("%w: %s is %s, refusing %s", goal.ErrTerminalState, next.Key(), stored.State, next.State))
	}
	return errors.NewStateRegressionError(next.Key(),
		fmt.Errorf("%w: %s is %s, refusing a changed snapshot", goal.ErrTerminalState, next.Key(), stored.State))
}

// MemoryStore keeps snapshots in memory
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]goal.GoalEvent
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]goal.GoalEvent)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (goal.GoalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[key]
	if !ok {
		return goal.GoalEvent{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return event, nil
}

func (m *MemoryStore) Update(ctx context.Context, event goal.GoalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.events[event.Key()]; ok {
		if err := checkTransition(stored, event); err != nil {
			return err
		}
	}
	m.events[event.Key()] = event
	return nil
}

func (m *MemoryStore) Close() error { return nil }
