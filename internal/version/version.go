package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set by ldflags during release builds
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build information of the running binary
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("goalrun %s (%s) built %s with %s for %s",
		i.Version, i.ShortCommit(), i.Date, i.GoVersion, i.Platform)
}

// ShortCommit is the first 8 characters of the commit
func (i Info) ShortCommit() string {
	if len(i.Commit) > 8 {
		return i.Commit[:8]
	}
	return i.Commit
}

// Semver parses the version. Development builds have none.
func (i Info) Semver() (*semver.Version, bool) {
	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Release reports whether the binary is a tagged, non-prerelease build
func (i Info) Release() bool {
	v, ok := i.Semver()
	return ok && v.Prerelease() == ""
}

// UserAgent identifies goalrun to remote services
func (i Info) UserAgent() string {
	return fmt.Sprintf("goalrun/%s (%s)", i.Version, i.Platform)
}
