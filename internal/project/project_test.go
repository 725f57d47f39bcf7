package project

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestMirrorMemFs(t *testing.T) {
	src, dst := afero.NewMemMapFs(), afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(src, "keep.txt", []byte("same"), 0644))
	require.NoError(t, afero.WriteFile(src, "change.txt", []byte("new"), 0644))
	require.NoError(t, afero.WriteFile(src, "dir/added.txt", []byte("added"), 0644))

	require.NoError(t, afero.WriteFile(dst, "keep.txt", []byte("same"), 0644))
	require.NoError(t, afero.WriteFile(dst, "change.txt", []byte("old"), 0644))
	require.NoError(t, afero.WriteFile(dst, "gone/deleted.txt", []byte("bye"), 0644))

	stats, err := Mirror(src, dst)
	require.NoError(t, err)
	assert.True(t, stats.Changed())
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Removed)

	data, err := afero.ReadFile(dst, "change.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	exists, _ := afero.Exists(dst, "dir/added.txt")
	assert.True(t, exists)
	exists, _ = afero.Exists(dst, "gone")
	assert.False(t, exists)

	again, err := Mirror(src, dst)
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestSyncFromReflectsAddsChangesDeletes(t *testing.T) {
	scratch, original := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(original, "README.md"), "v1")
	writeFile(t, filepath.Join(original, "obsolete.txt"), "x")
	writeFile(t, filepath.Join(scratch, "README.md"), "v2")
	writeFile(t, filepath.Join(scratch, "target", "app.jar"), "binary")
	require.NoError(t, os.Symlink("README.md", filepath.Join(scratch, "LINK")))

	p := New(original, Ref{Owner: "acme", Repo: "api"})
	stats, err := p.SyncFrom(scratch)
	require.NoError(t, err)
	assert.True(t, stats.Changed())

	data, err := p.ReadFile("README.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.True(t, p.HasFile("target/app.jar"))
	assert.False(t, p.HasFile("obsolete.txt"))

	target, err := os.Readlink(filepath.Join(original, "LINK"))
	require.NoError(t, err)
	assert.Equal(t, "README.md", target)
}

func TestReadOnlyProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".goalrun", "hooks", "pre-testing-build"), "#!/bin/sh\n")

	p, err := LocalLoader{Source: dir}.Load(context.Background(), Ref{}, LoadOptions{ReadOnly: true, Detached: true})
	require.NoError(t, err)
	assert.Equal(t, dir, p.BaseDir)
	assert.True(t, p.HasFile(".goalrun/hooks/pre-testing-build"))
	assert.False(t, p.HasFile(".goalrun/hooks"))

	assert.Error(t, afero.WriteFile(p.FS(), "new.txt", []byte("x"), 0644))
	_, err = p.SyncFrom(t.TempDir())
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestLocalLoaderCopies(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "pom.xml"), "<project/>")

	_, err := LocalLoader{Source: src}.Load(context.Background(), Ref{}, LoadOptions{})
	require.Error(t, err)

	dst := filepath.Join(t.TempDir(), "clone")
	p, err := LocalLoader{Source: src}.Load(context.Background(), Ref{SHA: "abc"}, LoadOptions{Dir: dst})
	require.NoError(t, err)
	assert.Equal(t, dst, p.BaseDir)
	assert.True(t, p.HasFile("pom.xml"))

	// copy is independent of the source
	writeFile(t, p.Path("pom.xml"), "changed")
	data, _ := os.ReadFile(filepath.Join(src, "pom.xml"))
	assert.Equal(t, "<project/>", string(data))
}

func TestGitLoaderDetachedShallowClone(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	upstream := t.TempDir()
	gitEnv := []string{"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com"}
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = upstream
		cmd.Env = append(os.Environ(), gitEnv...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		return string(out)
	}
	run("init", "--quiet")
	writeFile(t, filepath.Join(upstream, "main.go"), "package main\n")
	run("add", ".")
	run("commit", "--quiet", "-m", "initial")
	sha := run("rev-parse", "HEAD")
	sha = sha[:len(sha)-1]

	loader := GitLoader{Runner: process.NewRunner(0, log.Nop())}
	p, err := loader.Load(context.Background(), Ref{SHA: sha, CloneURL: upstream}, LoadOptions{
		Dir:      filepath.Join(t.TempDir(), "clone"),
		Detached: true,
		Depth:    1,
	})
	require.NoError(t, err)
	assert.True(t, p.HasFile("main.go"))
	assert.True(t, p.Detached)
}

func TestGitLoaderCloneURL(t *testing.T) {
	g := GitLoader{URLTemplate: "git@example.com:{owner}/{repo}.git"}
	assert.Equal(t, "git@example.com:acme/api.git", g.cloneURL(Ref{Owner: "acme", Repo: "api"}))
	assert.Equal(t, "https://github.com/acme/api.git", GitLoader{}.cloneURL(Ref{Owner: "acme", Repo: "api"}))
	assert.Equal(t, "/tmp/repo", g.cloneURL(Ref{CloneURL: "/tmp/repo"}))
}
