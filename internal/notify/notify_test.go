package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
)

func testNotice() Notice {
	return Notice{
		Goal: goal.GoalEvent{
			UniqueName: "build#1",
			SHA:        "abc123",
			Repo:       goal.Repo{Owner: "acme", Name: "api"},
		},
		Title:        "Failure executing goal build",
		Message:      "Undefined symbol",
		RelevantPart: "main.go:1: undefined",
		LogURL:       "https://logs.example.com/x",
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: log.LevelDebug, Format: log.FormatJSON, Output: log.NewOutput(&buf)})

	require.NoError(t, NewLogNotifier(logger).Notify(context.Background(), testNotice()))

	out := buf.String()
	assert.Contains(t, out, "Failure executing goal build")
	assert.Contains(t, out, `"log_url":"https://logs.example.com/x"`)
	assert.Contains(t, out, `"goal":"build#1"`)
}

func TestSlackNotifier(t *testing.T) {
	var msg slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &msg)
	}))
	defer server.Close()

	require.NoError(t, NewSlackNotifier(server.URL, "#ci").Notify(context.Background(), testNotice()))

	require.Len(t, msg.Attachments, 1)
	a := msg.Attachments[0]
	assert.Equal(t, "#ci", msg.Channel)
	assert.Equal(t, "Failure executing goal build", a.Title)
	assert.Equal(t, "https://logs.example.com/x", a.TitleLink)
	assert.Contains(t, a.Text, "main.go:1: undefined")
	assert.Equal(t, "acme/api abc123", a.Footer)
}

func TestSlackNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL, "").Notify(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(ctx context.Context, notice Notice) error {
	f.calls++
	return errors.New("down")
}

func TestMulti(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	err := Multi(a, NewLogNotifier(log.Nop()), b).Notify(context.Background(), testNotice())
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
