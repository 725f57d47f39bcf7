// Package health checks the dependencies goal execution relies on: the
// container builder, git, the remote log service, the status store and the
// cache backend.
//
//	manager := health.NewManager()
//	manager.AddChecker(health.NewDockerChecker("docker"))
//	manager.AddChecker(health.NewGitChecker())
//	report := manager.Check(ctx)
package health

import (
	"context"
	"time"
)

// Checker verifies one dependency. Check must respect the context deadline.
type Checker interface {
	// Name is lowercase with hyphens, e.g. "docker-daemon"
	Name() string
	Check(ctx context.Context) *Result
}

// Status of a dependency
type Status string

const (
	StatusHealthy Status = "healthy"
	// StatusDegraded means goals can run with reduced functionality
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

// Result of one check
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// NewResult creates a result with empty details
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail adds a detail and returns the result for chaining
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}

// CheckFunc adapts a function to Checker
func CheckFunc(name string, fn func(ctx context.Context) *Result) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) *Result
}

func (c funcChecker) Name() string                      { return c.name }
func (c funcChecker) Check(ctx context.Context) *Result { return c.fn(ctx) }
