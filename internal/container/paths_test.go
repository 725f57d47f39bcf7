package container

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/goalrun/internal/goal"
)

func TestNewPaths(t *testing.T) {
	g := goal.GoalEvent{GoalSetID: "set/1", UniqueName: "build#goalrun"}

	a := NewPaths("/tmp/jobs", g)
	b := NewPaths("/tmp/jobs", g)

	assert.Equal(t, filepath.Join("/tmp/jobs", "goalrun", "set_1"), filepath.Dir(a.Root))
	assert.Equal(t, filepath.Join(a.Root, "project"), a.Project)
	assert.Equal(t, filepath.Join(a.Root, "input"), a.Input)
	assert.Equal(t, filepath.Join(a.Root, "output"), a.Output)

	assert.NotEqual(t, a.Root, b.Root, "concurrent jobs of one goal must not share directories")
	assert.NotEqual(t, a.Network, b.Network)

	hashA := strings.Split(filepath.Base(a.Root), "-")[0]
	hashB := strings.Split(filepath.Base(b.Root), "-")[0]
	assert.Equal(t, hashA, hashB)
	assert.True(t, strings.HasPrefix(a.Network, "goalrun-"+hashA+"-"))
}

func TestContainerName(t *testing.T) {
	p := NewPaths("", goal.GoalEvent{UniqueName: "x"})
	name := p.ContainerName("db")
	assert.True(t, strings.HasPrefix(name, "goalrun-"))
	assert.True(t, strings.HasSuffix(name, "-db"))
	assert.NotEqual(t, name, NewPaths("", goal.GoalEvent{UniqueName: "x"}).ContainerName("db"))
}

func TestPathSegment(t *testing.T) {
	assert.Equal(t, "default", pathSegment(""))
	assert.Equal(t, "abc-1.2_x", pathSegment("abc-1.2_x"))
	assert.Equal(t, "a_b_c", pathSegment("a/b c"))
}
