package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/goalrun/internal/log"
)

// Registry holds execution listeners by event type
type Registry struct {
	mu sync.RWMutex

	listeners    map[EventType][]Listener
	factories    map[string]ListenerFactory
	failureModes map[string]string

	executor *Executor
	logger   *log.Logger
}

// NewRegistry creates a listener registry notifying through executor
func NewRegistry(executor *Executor, logger *log.Logger) *Registry {
	if executor == nil {
		executor = NewExecutor(nil)
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Registry{
		listeners:    make(map[EventType][]Listener),
		factories:    make(map[string]ListenerFactory),
		failureModes: make(map[string]string),
		executor:     executor,
		logger:       logger.With("component", "listeners"),
	}
}

// RegisterFactory registers a listener factory for a type name
func (r *Registry) RegisterFactory(listenerType string, factory ListenerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[listenerType] = factory
}

// Register adds a listener for each event it handles. Disabled listeners
// are ignored.
func (r *Registry) Register(l Listener) error {
	if l == nil {
		return fmt.Errorf("listener cannot be nil")
	}
	if !l.Enabled() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eventType := range l.EventTypes() {
		r.listeners[eventType] = append(r.listeners[eventType], l)
	}
	return nil
}

// RegisterFromConfig builds a listener with its type's factory and registers it
func (r *Registry) RegisterFromConfig(config *ListenerConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if !config.Enabled {
		return nil
	}
	if config.FailureMode != "" && !IsValidFailureMode(config.FailureMode) {
		return fmt.Errorf("invalid failure mode %q for listener %s", config.FailureMode, config.Name)
	}

	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown listener type: %s", config.Type)
	}

	l, err := factory(config)
	if err != nil {
		return fmt.Errorf("failed to create listener %s: %w", config.Name, err)
	}

	r.mu.Lock()
	r.failureModes[config.Name] = config.FailureMode
	r.mu.Unlock()
	return r.Register(l)
}

// Trigger notifies every listener registered for the event type. Failures
// are logged per listener failure mode; an error is returned only for
// listeners configured to fail.
func (r *Registry) Trigger(ctx context.Context, event *Event) error {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners[event.Type]...)
	modes := make(map[string]string, len(r.failureModes))
	for name, mode := range r.failureModes {
		modes[name] = mode
	}
	r.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	byMode := map[string][]NotifyResult{}
	for _, result := range r.executor.NotifyAll(ctx, listeners, event) {
		mode := modes[result.Listener]
		if mode == "" {
			mode = "warn"
		}
		byMode[mode] = append(byMode[mode], result)
	}

	var failErr error
	for _, mode := range ValidFailureModes {
		if err := HandleResults(byMode[mode], mode, r.logger); err != nil {
			failErr = err
		}
	}
	return failErr
}
