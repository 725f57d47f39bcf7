package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuild(t *testing.T, version, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.4.0", "abc123def456", "2026-05-04T12:00:00Z")

	info := GetInfo()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "abc123def456", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "abc123de", info.ShortCommit())
	assert.Contains(t, info.String(), "goalrun 1.4.0 (abc123de) built 2026-05-04T12:00:00Z")
	assert.Equal(t, "goalrun/1.4.0 ("+info.Platform+")", info.UserAgent())
}

func TestSemver(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
		release bool
	}{
		{"1.4.0", true, true},
		{"v2.0.1", true, true},
		{"1.5.0-rc.1", true, false},
		{"dev", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			info := Info{Version: tt.version}
			v, ok := info.Semver()
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				require.NotNil(t, v)
			}
			assert.Equal(t, tt.release, info.Release())
		})
	}
}

func TestShortCommitKeepsShortValues(t *testing.T) {
	assert.Equal(t, "unknown", Info{Commit: "unknown"}.ShortCommit())
}
