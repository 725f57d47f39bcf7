//go:build unix

package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

func TestScriptListener(t *testing.T) {
	out := filepath.Join(t.TempDir(), "event.txt")
	l, err := NewScriptListener(&ListenerConfig{
		Name:    "script",
		Enabled: true,
		Config: map[string]any{
			"command": "/bin/sh",
			"args":    []any{"-c", `echo "$GOALRUN_EVENT $GOALRUN_GOAL $GOALRUN_RESULT_CODE" > ` + out},
		},
	}, process.NewRunner(0, log.Nop()))
	require.NoError(t, err)

	require.NoError(t, l.Notify(context.Background(), testEvent(EventSuccess)))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "success build 0\n", string(data))
}

func TestScriptListenerFailure(t *testing.T) {
	l, err := NewScriptListener(&ListenerConfig{
		Name:   "script",
		Config: map[string]any{"command": "/bin/sh", "args": []any{"-c", "echo nope; exit 2"}},
	}, process.NewRunner(0, log.Nop()))
	require.NoError(t, err)

	err = l.Notify(context.Background(), testEvent(EventFailure))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 2")
	assert.Contains(t, err.Error(), "nope")
}
