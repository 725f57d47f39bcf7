// Package hooks runs the optional pre and post goal scripts of a project and
// notifies execution listeners of goal state transitions.
package hooks

import (
	"context"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// EventType is the goal transition a listener is notified about
type EventType string

const (
	EventInProcess EventType = "in_process"
	EventSuccess   EventType = "success"
	EventFailure   EventType = "failure"
)

// AllEvents lists every transition listeners can subscribe to
var AllEvents = []EventType{EventInProcess, EventSuccess, EventFailure}

// Event is sent to execution listeners
type Event struct {
	Type      EventType             `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Goal      goal.GoalEvent        `json:"goal"`
	Context   goal.Context          `json:"context"`
	Result    *goal.ExecutionResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// NewEvent creates a listener event for the goal of inv
func NewEvent(eventType EventType, inv goal.Invocation, result *goal.ExecutionResult, err error) *Event {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Goal:      inv.Goal,
		Context:   inv.Context,
		Result:    result,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

// Listener is notified of goal transitions
type Listener interface {
	Name() string
	EventTypes() []EventType
	Notify(ctx context.Context, event *Event) error
	Enabled() bool
}

// ListenerConfig configures a listener built by a factory
type ListenerConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"`
	Events  []EventType    `yaml:"events" json:"events"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Config  map[string]any `yaml:"config" json:"config"`
	Timeout time.Duration  `yaml:"timeout" json:"timeout"`

	// FailureMode determines what happens if the listener fails
	// "ignore" - log at debug and continue
	// "warn" - log a warning and continue
	// "fail" - report the failure to the caller
	FailureMode string `yaml:"failureMode" json:"failureMode"`
}

// events defaults to every transition
func (c *ListenerConfig) events() []EventType {
	if len(c.Events) == 0 {
		return AllEvents
	}
	return c.Events
}

// NotifyResult is the outcome of notifying one listener
type NotifyResult struct {
	Listener  string        `json:"listener"`
	EventType EventType     `json:"eventType"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// ListenerFactory creates listeners from configuration
type ListenerFactory func(config *ListenerConfig) (Listener, error)

// DefaultTimeout is the default listener notification timeout
const DefaultTimeout = 30 * time.Second

// ValidFailureModes defines valid failure modes
var ValidFailureModes = []string{"ignore", "warn", "fail"}

// IsValidFailureMode checks if a failure mode is valid
func IsValidFailureMode(mode string) bool {
	for _, valid := range ValidFailureModes {
		if mode == valid {
			return true
		}
	}
	return false
}

// ListenerFunc adapts a function to Listener. It is enabled and handles the
// given events, or every event when none are given.
func ListenerFunc(name string, fn func(ctx context.Context, event *Event) error, events ...EventType) Listener {
	if len(events) == 0 {
		events = AllEvents
	}
	return &funcListener{name: name, fn: fn, events: events}
}

type funcListener struct {
	name   string
	fn     func(ctx context.Context, event *Event) error
	events []EventType
}

func (l *funcListener) Name() string            { return l.name }
func (l *funcListener) EventTypes() []EventType { return l.events }
func (l *funcListener) Enabled() bool           { return true }

func (l *funcListener) Notify(ctx context.Context, event *Event) error {
	return l.fn(ctx, event)
}

// timeouter is implemented by listeners with their own timeout
type timeouter interface {
	Timeout() time.Duration
}
