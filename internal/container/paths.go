package container

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// Paths inside every container
const (
	ContainerProjectDir = "/goalrun/project"
	ContainerInputDir   = "/goalrun/input"
	ContainerOutputDir  = "/goalrun/output"
)

// GoalFile is the goal descriptor written to the input directory
const GoalFile = "goal.json"

// Paths are the host resources of one container job. Names are derived
// from the goal so they are recognizable, plus a random suffix so that
// concurrent jobs never collide.
type Paths struct {
	Root    string
	Project string
	Input   string
	Output  string
	Network string

	id string
}

// NewPaths derives the job's directories under
// <tempDir>/goalrun/<goalSetId>/<hash>-<id>
func NewPaths(tempDir string, g goal.GoalEvent) Paths {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	sum := blake3.Sum256([]byte(g.GoalSetID + "\x00" + g.UniqueName))
	hash := hex.EncodeToString(sum[:])[:12]
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	root := filepath.Join(tempDir, "goalrun", pathSegment(g.GoalSetID), hash+"-"+id)
	return Paths{
		Root:    root,
		Project: filepath.Join(root, "project"),
		Input:   filepath.Join(root, "input"),
		Output:  filepath.Join(root, "output"),
		Network: "goalrun-" + hash + "-" + id,
		id:      id,
	}
}

// ContainerName returns the host-unique name of a spec container
func (p Paths) ContainerName(name string) string {
	return "goalrun-" + p.id + "-" + name
}

func pathSegment(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
