package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each check
const DefaultTimeout = 5 * time.Second

// Manager runs checks in parallel, each under its own timeout
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewManager creates a manager with DefaultTimeout
func NewManager() *Manager {
	return &Manager{timeout: DefaultTimeout}
}

// WithTimeout sets the per-check timeout
func (m *Manager) WithTimeout(timeout time.Duration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return m
}

// AddChecker registers a checker. Reports list checks in this order.
func (m *Manager) AddChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Entry is one named result of a report
type Entry struct {
	Name string `json:"name"`
	*Result
}

// Report is the outcome of running every check
type Report struct {
	Status  Status  `json:"status"`
	Entries []Entry `json:"checks"`
}

// Check runs every checker. A checker returning nil or panicking is
// reported unhealthy.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	timeout := m.timeout
	m.mu.RUnlock()

	entries := make([]Entry, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		i, c := i, c
		g.Go(func() error {
			entries[i] = Entry{Name: c.Name(), Result: run(ctx, c, timeout)}
			return nil
		})
	}
	_ = g.Wait()

	return &Report{Status: OverallStatus(entries), Entries: entries}
}

func run(ctx context.Context, c Checker, timeout time.Duration) (result *Result) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Unhealthy("check panicked").WithDetail("panic", r)
		}
		if result.Latency == 0 {
			result.Latency = time.Since(start)
		}
	}()

	result = c.Check(checkCtx)
	if result == nil {
		result = Unhealthy("check returned no result")
	}
	return result
}

// OverallStatus is the worst status among entries. No entries is healthy.
func OverallStatus(entries []Entry) Status {
	status := StatusHealthy
	for _, e := range entries {
		switch e.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
