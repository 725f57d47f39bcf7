package goal

import "context"

// ProjectEvent is the point around a goal's executor at which project
// listeners run
type ProjectEvent string

const (
	ProjectBefore ProjectEvent = "before"
	ProjectAfter  ProjectEvent = "after"
)

// ProjectListener works on the goal's project before or after the executor,
// for example restoring and storing caches. Result is nil before the
// executor runs.
type ProjectListener struct {
	Name   string
	Events []ProjectEvent
	Listen func(ctx context.Context, inv Invocation, event ProjectEvent, result *ExecutionResult) error
}

// Handles reports whether the listener runs at event
func (l ProjectListener) Handles(event ProjectEvent) bool {
	for _, e := range l.Events {
		if e == event {
			return true
		}
	}
	return false
}
