package container

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveManifest(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(t.TempDir(), GoalFile)
	require.NoError(t, os.WriteFile(input, []byte(`{"name":"build"}`), 0644))

	m := &RunManifest{
		Timestamp: time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC),
		GoalSetID: "set-1",
		Goal:      "build#goalrun",
		Container: "maven",
		Role:      "primary",
		Image:     "maven:3",
		ExitCode:  0,
		Duration:  "1m2s",
	}
	require.NoError(t, m.AddInputHash(GoalFile, input))
	assert.Len(t, m.InputHashes[GoalFile], 64)
	assert.Error(t, m.AddOutputHash(ResultFile, filepath.Join(dir, "missing.json")))
	assert.Nil(t, m.OutputHashes)

	path, err := SaveManifest(m, filepath.Join(dir, "manifests"))
	require.NoError(t, err)
	assert.Equal(t, "20260504_123000_set-1_maven.json", filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded RunManifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m.InputHashes, decoded.InputHashes)
	assert.Equal(t, "primary", decoded.Role)
}

func TestHashFileIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0644))
	h3, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
