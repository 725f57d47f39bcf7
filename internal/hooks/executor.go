package hooks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
)

// Executor notifies listeners with bounded concurrency
type Executor struct {
	maxConcurrency int
	defaultTimeout time.Duration
	metrics        *metrics.Metrics
}

// NewExecutor creates a new listener executor
func NewExecutor(m *metrics.Metrics) *Executor {
	return &Executor{
		maxConcurrency: 10,
		defaultTimeout: DefaultTimeout,
		metrics:        m,
	}
}

// NotifyAll notifies every listener and returns results in listener order
func (e *Executor) NotifyAll(ctx context.Context, listeners []Listener, event *Event) []NotifyResult {
	if len(listeners) == 0 {
		return nil
	}

	results := make([]NotifyResult, len(listeners))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i, l := range listeners {
		i, l := i, l
		g.Go(func() error {
			results[i] = e.Notify(ctx, l, event)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Notify notifies a single listener under its timeout. A panicking
// listener is reported as failed.
func (e *Executor) Notify(ctx context.Context, l Listener, event *Event) (result NotifyResult) {
	result = NotifyResult{
		Listener:  l.Name(),
		EventType: event.Type,
		Timestamp: time.Now(),
	}

	timeout := e.defaultTimeout
	if t, ok := l.(timeouter); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}
	notifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("listener panicked: %v", r)
		}
		result.Duration = time.Since(start)
		e.metrics.RecordListener(result.Listener, string(result.EventType), result.Success)
	}()

	if err := l.Notify(notifyCtx, event); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// HandleResults logs failed notifications according to failureMode and
// returns an error only in "fail" mode
func HandleResults(results []NotifyResult, failureMode string, logger *log.Logger) error {
	var failures []NotifyResult
	for _, result := range results {
		if !result.Success {
			failures = append(failures, result)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}

	for _, failure := range failures {
		args := []any{
			"listener", failure.Listener,
			"event", failure.EventType,
			"error", failure.Error,
			"duration", failure.Duration,
		}
		switch failureMode {
		case "fail":
			logger.Error("listener failed", args...)
		case "warn":
			logger.Warn("listener failed", args...)
		default:
			logger.Debug("listener failed", args...)
		}
	}

	if failureMode == "fail" {
		return fmt.Errorf("%d listener(s) failed, first: %s: %s", len(failures), failures[0].Listener, failures[0].Error)
	}
	return nil
}
