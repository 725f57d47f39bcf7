package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
)

func testEvent(eventType EventType) *Event {
	inv := goal.Invocation{
		Goal: goal.GoalEvent{
			Name:       "build",
			UniqueName: "build#1",
			SHA:        "0123456789abcdef",
			State:      goal.StateInProcess,
			Repo:       goal.Repo{Owner: "acme", Name: "api"},
		},
		Context: goal.Context{WorkspaceID: "W1", CorrelationID: "c-1"},
	}
	return NewEvent(eventType, inv, &goal.ExecutionResult{Code: 0, Message: "ok"}, nil)
}

func TestNewEventCarriesError(t *testing.T) {
	inv := goal.Invocation{Goal: goal.GoalEvent{Name: "build"}}
	event := NewEvent(EventFailure, inv, nil, errors.New("boom"))
	assert.Equal(t, "boom", event.Error)
	assert.Nil(t, event.Result)
	assert.False(t, event.Timestamp.IsZero())
}

func TestIsValidFailureMode(t *testing.T) {
	for _, mode := range ValidFailureModes {
		assert.True(t, IsValidFailureMode(mode), mode)
	}
	assert.False(t, IsValidFailureMode("explode"))
	assert.False(t, IsValidFailureMode(""))
}

func TestExecutorNotifyAllPreservesOrder(t *testing.T) {
	executor := NewExecutor(nil)

	var listeners []Listener
	for _, name := range []string{"a", "b", "c", "d"} {
		name := name
		listeners = append(listeners, ListenerFunc(name, func(ctx context.Context, event *Event) error {
			if name == "c" {
				return errors.New("c failed")
			}
			return nil
		}))
	}

	results := executor.NotifyAll(context.Background(), listeners, testEvent(EventSuccess))
	require.Len(t, results, 4)
	for i, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, name, results[i].Listener)
		assert.Equal(t, EventSuccess, results[i].EventType)
	}
	assert.False(t, results[2].Success)
	assert.Equal(t, "c failed", results[2].Error)
	assert.True(t, results[3].Success)
}

func TestExecutorRecoversPanics(t *testing.T) {
	executor := NewExecutor(nil)
	l := ListenerFunc("panicky", func(ctx context.Context, event *Event) error {
		panic("kaboom")
	})

	result := executor.Notify(context.Background(), l, testEvent(EventInProcess))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "kaboom")
}

type slowListener struct {
	Listener
	timeout time.Duration
}

func (l slowListener) Timeout() time.Duration { return l.timeout }

func TestExecutorTimeout(t *testing.T) {
	executor := NewExecutor(nil)
	l := slowListener{
		Listener: ListenerFunc("slow", func(ctx context.Context, event *Event) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		timeout: 20 * time.Millisecond,
	}

	start := time.Now()
	result := executor.Notify(context.Background(), l, testEvent(EventSuccess))
	assert.Less(t, time.Since(start), DefaultTimeout)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "deadline exceeded")
}

func TestExecutorRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	executor := NewExecutor(m)
	executor.Notify(context.Background(), ListenerFunc("ok", func(ctx context.Context, event *Event) error { return nil }), testEvent(EventSuccess))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerNotifications.WithLabelValues("ok", "success", "success")))
}

func TestHandleResults(t *testing.T) {
	failed := []NotifyResult{{Listener: "a", Success: true}, {Listener: "b", Error: "nope"}}

	assert.NoError(t, HandleResults(nil, "fail", log.Nop()))
	assert.NoError(t, HandleResults(failed, "ignore", log.Nop()))
	assert.NoError(t, HandleResults(failed, "warn", log.Nop()))

	err := HandleResults(failed, "fail", log.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: nope")
}

func TestRegistryTrigger(t *testing.T) {
	registry := NewRegistry(nil, log.Nop())

	var successCalls, failureCalls int32
	require.NoError(t, registry.Register(ListenerFunc("on-success", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&successCalls, 1)
		return nil
	}, EventSuccess)))
	require.NoError(t, registry.Register(ListenerFunc("on-all", func(ctx context.Context, event *Event) error {
		if event.Type == EventFailure {
			atomic.AddInt32(&failureCalls, 1)
		}
		return nil
	})))

	require.NoError(t, registry.Trigger(context.Background(), testEvent(EventSuccess)))
	require.NoError(t, registry.Trigger(context.Background(), testEvent(EventFailure)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&successCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&failureCalls))

	require.NoError(t, registry.Trigger(context.Background(), testEvent(EventInProcess)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&successCalls))
}

func TestRegistryFailureModes(t *testing.T) {
	registry := NewRegistry(nil, log.Nop())
	registry.RegisterFactory("broken", func(config *ListenerConfig) (Listener, error) {
		return ListenerFunc(config.Name, func(ctx context.Context, event *Event) error {
			return errors.New("unreachable")
		}), nil
	})

	require.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "soft", Type: "broken", Enabled: true, FailureMode: "warn"}))
	assert.NoError(t, registry.Trigger(context.Background(), testEvent(EventSuccess)))

	require.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "hard", Type: "broken", Enabled: true, FailureMode: "fail"}))
	err := registry.Trigger(context.Background(), testEvent(EventSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard")
}

func TestRegistryFromConfigErrors(t *testing.T) {
	registry := NewRegistry(nil, log.Nop())

	assert.Error(t, registry.RegisterFromConfig(nil))
	assert.Error(t, registry.RegisterFromConfig(&ListenerConfig{Name: "x", Type: "missing", Enabled: true}))
	assert.Error(t, registry.RegisterFromConfig(&ListenerConfig{Name: "x", Type: "missing", Enabled: true, FailureMode: "explode"}))
	assert.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "off", Type: "missing", Enabled: false}))
	assert.NoError(t, registry.Trigger(context.Background(), testEvent(EventSuccess)))
}

func TestWebhookListener(t *testing.T) {
	var received Event
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("X-Token")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	l, err := NewWebhookListener(&ListenerConfig{
		Name:    "hook",
		Enabled: true,
		Config:  map[string]any{"url": server.URL, "headers": map[string]any{"X-Token": "secret"}},
	})
	require.NoError(t, err)
	assert.Equal(t, AllEvents, l.EventTypes())

	require.NoError(t, l.Notify(context.Background(), testEvent(EventSuccess)))
	assert.Equal(t, "secret", auth)
	assert.Equal(t, EventSuccess, received.Type)
	assert.Equal(t, "build#1", received.Goal.UniqueName)
	assert.Equal(t, "W1", received.Context.WorkspaceID)
}

func TestWebhookListenerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	l, err := NewWebhookListener(&ListenerConfig{Name: "hook", Config: map[string]any{"url": server.URL}})
	require.NoError(t, err)

	err = l.Notify(context.Background(), testEvent(EventFailure))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBuiltinConfigValidation(t *testing.T) {
	_, err := NewWebhookListener(&ListenerConfig{Name: "w"})
	assert.Error(t, err)
	_, err = NewSlackListener(&ListenerConfig{Name: "s"})
	assert.Error(t, err)
	_, err = NewScriptListener(&ListenerConfig{Name: "x"}, nil)
	assert.Error(t, err)
}

func TestSlackListener(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
	}))
	defer server.Close()

	l, err := NewSlackListener(&ListenerConfig{
		Name:   "slack",
		Events: []EventType{EventFailure},
		Config: map[string]any{"webhookUrl": server.URL, "channel": "#builds"},
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventFailure}, l.EventTypes())

	event := testEvent(EventFailure)
	event.Error = "compile error"
	require.NoError(t, l.Notify(context.Background(), event))

	text := payload["text"].(string)
	assert.Contains(t, text, ":x:")
	assert.Contains(t, text, "*build* failed")
	assert.Contains(t, text, "acme/api")
	assert.Contains(t, text, "0123456")
	assert.Contains(t, text, "compile error")
	assert.Equal(t, "#builds", payload["channel"])
}

func TestRegisterBuiltins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	registry := NewRegistry(nil, log.Nop())
	RegisterBuiltins(registry, nil)

	require.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "w", Type: "webhook", Enabled: true, Config: map[string]any{"url": server.URL}}))
	require.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "s", Type: "slack", Enabled: true, Config: map[string]any{"webhookUrl": server.URL}}))
	require.NoError(t, registry.RegisterFromConfig(&ListenerConfig{Name: "x", Type: "script", Enabled: true, Config: map[string]any{"command": "true"}}))
	assert.NoError(t, registry.Trigger(context.Background(), testEvent(EventSuccess)))
}
