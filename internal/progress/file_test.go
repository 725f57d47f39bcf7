package progress

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLog(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFileLog(dir, "set-1", "build#goals.ts:12")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "set-1", "build_goals.ts_12.log"), f.Path())
	assert.True(t, strings.HasPrefix(f.URL(), "file://"))
	assert.True(t, f.IsAvailable(context.Background()))

	Println(f, "compiling")
	require.NoError(t, f.Flush(context.Background()))
	assert.Equal(t, "compiling\n", f.Contents())

	require.NoError(t, f.Close(context.Background()))
	assert.False(t, f.IsAvailable(context.Background()))

	// dropped after close
	Println(f, "late")
	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, "compiling\n", string(data))
}

func TestSanitizeSegment(t *testing.T) {
	for in, want := range map[string]string{
		"":               "_",
		".":              "_",
		"..":             "_",
		"../etc":         ".._etc",
		"set-1":          "set-1",
		"build#a.ts:3":   "build_a.ts_3",
		`c:\windows\tmp`: "c__windows_tmp",
	} {
		assert.Equal(t, want, sanitizeSegment(in), in)
	}
}

func TestFileLogStaysInsideDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	f, err := NewFileLog(dir, "..", "..")
	require.NoError(t, err)
	defer f.Close(context.Background())

	rel, err := filepath.Rel(dir, f.Path())
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."), rel)
	assert.Equal(t, filepath.Join("_", "_.log"), rel)
}
