package container

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantState goal.State
		wantMsg   string
		wantData  string
	}{
		{
			name:     "flat success",
			input:    `{"code": 0, "message": "done"}`,
			wantCode: 0,
			wantMsg:  "done",
		},
		{
			name:      "failure state implies code",
			input:     `{"state": "failure", "description": "tests failed"}`,
			wantCode:  1,
			wantState: goal.StateFailure,
		},
		{
			name:      "explicit code wins",
			input:     `{"state": "failure", "code": 4}`,
			wantCode:  4,
			wantState: goal.StateFailure,
		},
		{
			name:     "string data kept",
			input:    `{"data": "plain text"}`,
			wantData: "plain text",
		},
		{
			name:     "object data compacted",
			input:    `{"data": {"coverage": 87.5,  "tests": 120}}`,
			wantData: `{"coverage":87.5,"tests":120}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, side, err := ParseResult([]byte(tt.input))
			require.NoError(t, err)
			assert.True(t, side.Empty())
			assert.Equal(t, tt.wantCode, res.Code)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Equal(t, tt.wantData, res.Data)
		})
	}
}

func TestParseResultRejectsUnknownState(t *testing.T) {
	_, _, err := ParseResult([]byte(`{"state": "exploded"}`))
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerResult))
}

func TestParseResultMergesSideChannel(t *testing.T) {
	input := `{
		"data": {"version": "keep-me", "report": "ok"},
		"push": {
			"builds": [{"buildId": "42", "status": "passed"}],
			"after": {"images": [{"imageName": "ghcr.io/acme/widget:2"}], "version": "2.0.0"}
		}
	}`

	res, side, err := ParseResult([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", side.Version)
	require.Len(t, side.Builds, 1)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Data), &data))
	assert.Equal(t, "keep-me", data["version"])
	assert.Equal(t, "ok", data["report"])
	assert.Len(t, data["images"], 1)
	assert.Len(t, data["builds"], 1)
}

func TestParseResultKeepsNonObjectDataWithSideChannel(t *testing.T) {
	res, side, err := ParseResult([]byte(`{"data": "text", "push": {"after": {"version": "1.0.0"}}}`))
	require.NoError(t, err)
	assert.False(t, side.Empty())
	assert.Equal(t, "text", res.Data)
}

func TestReadResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ResultFile)

	res, _, ok, err := ReadResult(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, res)

	require.NoError(t, os.WriteFile(path, []byte(`{"message": "ok"}`), 0644))
	res, _, ok, err = ReadResult(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ok", res.Message)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0644))
	_, _, ok, err = ReadResult(path)
	assert.Error(t, err)
	assert.False(t, ok)
}
