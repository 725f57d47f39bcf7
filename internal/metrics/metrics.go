package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for goalrun
type Metrics struct {
	// Goal execution metrics
	GoalExecutions *prometheus.CounterVec
	GoalDuration   *prometheus.HistogramVec

	// Hook metrics
	HookRuns *prometheus.CounterVec

	// Listener metrics
	ListenerNotifications *prometheus.CounterVec

	// Container fulfillment metrics
	ContainerLaunches *prometheus.CounterVec
	ContainerDuration *prometheus.HistogramVec
	ImagePulls        *prometheus.CounterVec

	// Progress log metrics
	LogFlushes      *prometheus.CounterVec
	LogPendingBytes *prometheus.GaugeVec

	// Cache bridge metrics
	CacheOperations *prometheus.CounterVec

	// Status store metrics
	StatusUpdates *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		GoalExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_goal_executions_total",
				Help: "Total number of goal executions by terminal state",
			},
			[]string{"goal", "state"},
		),
		GoalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goalrun_goal_duration_seconds",
				Help:    "Goal execution duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"goal"},
		),
		HookRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_hook_runs_total",
				Help: "Total number of hook runs by stage and result",
			},
			[]string{"stage", "result"},
		),
		ListenerNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_listener_notifications_total",
				Help: "Total number of execution listener notifications",
			},
			[]string{"listener", "event", "result"},
		),
		ContainerLaunches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_container_launches_total",
				Help: "Total number of container launches by role and result",
			},
			[]string{"role", "result"},
		),
		ContainerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goalrun_container_job_duration_seconds",
				Help:    "Container job duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"registration"},
		),
		ImagePulls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_image_pulls_total",
				Help: "Total number of container image pulls",
			},
			[]string{"result"},
		),
		LogFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_log_flushes_total",
				Help: "Total number of progress log flushes by sink and result",
			},
			[]string{"sink", "result"},
		),
		LogPendingBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "goalrun_log_pending_bytes",
				Help: "Bytes buffered in progress logs awaiting shipment",
			},
			[]string{"sink"},
		),
		CacheOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_cache_operations_total",
				Help: "Total number of cache operations by backend, operation and result",
			},
			[]string{"backend", "operation", "result"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_status_updates_total",
				Help: "Total number of goal status persistence attempts",
			},
			[]string{"state", "result"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalrun_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// All Record methods are no-ops on a nil *Metrics.

// RecordGoal records a finished goal execution
func (m *Metrics) RecordGoal(goal, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GoalExecutions.WithLabelValues(goal, state).Inc()
	m.GoalDuration.WithLabelValues(goal).Observe(duration.Seconds())
}

// RecordHook records a hook run; result is success, failure, skipped, disabled or error
func (m *Metrics) RecordHook(stage, result string) {
	if m == nil {
		return
	}
	m.HookRuns.WithLabelValues(stage, result).Inc()
}

// RecordListener records a listener notification
func (m *Metrics) RecordListener(listener, event string, ok bool) {
	if m == nil {
		return
	}
	m.ListenerNotifications.WithLabelValues(listener, event, resultLabel(ok)).Inc()
}

// RecordContainerLaunch records a container launch; role is primary or sidecar
func (m *Metrics) RecordContainerLaunch(role string, ok bool) {
	if m == nil {
		return
	}
	m.ContainerLaunches.WithLabelValues(role, resultLabel(ok)).Inc()
}

// RecordContainerJob records the duration of a container job
func (m *Metrics) RecordContainerJob(registration string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ContainerDuration.WithLabelValues(registration).Observe(duration.Seconds())
}

// RecordImagePull records an image pull
func (m *Metrics) RecordImagePull(ok bool) {
	if m == nil {
		return
	}
	m.ImagePulls.WithLabelValues(resultLabel(ok)).Inc()
}

// RecordLogFlush records a progress log flush and the bytes still pending
func (m *Metrics) RecordLogFlush(sink string, ok bool, pendingBytes int) {
	if m == nil {
		return
	}
	m.LogFlushes.WithLabelValues(sink, resultLabel(ok)).Inc()
	m.LogPendingBytes.WithLabelValues(sink).Set(float64(pendingBytes))
}

// RecordCache records a cache operation; result is hit, miss, success or failure
func (m *Metrics) RecordCache(backend, operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperations.WithLabelValues(backend, operation, result).Inc()
}

// RecordStatusUpdate records a status persistence attempt
func (m *Metrics) RecordStatusUpdate(state string, ok bool) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(state, resultLabel(ok)).Inc()
}

// RecordError records an error by code
func (m *Metrics) RecordError(code string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code).Inc()
}
