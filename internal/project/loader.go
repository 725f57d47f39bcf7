package project

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

// LocalLoader serves projects from a directory already on disk
type LocalLoader struct {
	Source string
}

// Load copies Source into opts.Dir. With no Dir the source tree itself is
// returned, which is only allowed read-only.
func (l LocalLoader) Load(ctx context.Context, ref Ref, opts LoadOptions) (*Project, error) {
	if opts.Dir == "" {
		if !opts.ReadOnly {
			return nil, errors.New(errors.ErrCodeProjectLoad, "a target directory is required for a writable copy")
		}
		return &Project{BaseDir: l.Source, Ref: ref, ReadOnly: true, Detached: opts.Detached}, nil
	}

	if err := os.MkdirAll(opts.Dir, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create project directory", err)
	}
	osFs := afero.NewOsFs()
	if _, err := Mirror(afero.NewBasePathFs(osFs, l.Source), afero.NewBasePathFs(osFs, opts.Dir)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProjectLoad, fmt.Sprintf("failed to copy project from %s", l.Source), err)
	}
	return &Project{BaseDir: opts.Dir, Ref: ref, ReadOnly: opts.ReadOnly, Detached: opts.Detached}, nil
}

// GitLoader clones the repository with git
type GitLoader struct {
	Runner *process.Runner
	// URLTemplate builds the clone URL when the ref carries none;
	// {owner} and {repo} are substituted
	URLTemplate string
	// TempDir roots clones when LoadOptions.Dir is empty
	TempDir string
}

func (g GitLoader) cloneURL(ref Ref) string {
	if ref.CloneURL != "" {
		return ref.CloneURL
	}
	tmpl := g.URLTemplate
	if tmpl == "" {
		tmpl = "https://github.com/{owner}/{repo}.git"
	}
	return strings.NewReplacer("{owner}", ref.Owner, "{repo}", ref.Repo).Replace(tmpl)
}

// Load fetches exactly the ref's commit, shallow when Depth is set, and
// checks it out detached or on the ref's branch
func (g GitLoader) Load(ctx context.Context, ref Ref, opts LoadOptions) (*Project, error) {
	dir := opts.Dir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp(g.TempDir, "goalrun-project-")
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create project directory", err)
		}
	} else if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create project directory", err)
	}

	revision := ref.SHA
	if revision == "" {
		revision = ref.Branch
	}
	fetch := []string{"fetch", "--no-tags"}
	if opts.Depth > 0 {
		fetch = append(fetch, "--depth", strconv.Itoa(opts.Depth))
	}
	fetch = append(fetch, "origin", revision)

	checkout := []string{"checkout", "--quiet", "--detach", "FETCH_HEAD"}
	if !opts.Detached && ref.Branch != "" {
		checkout = []string{"checkout", "--quiet", "-B", ref.Branch, "FETCH_HEAD"}
	}

	steps := [][]string{
		{"init", "--quiet"},
		{"remote", "add", "origin", g.cloneURL(ref)},
		fetch,
		checkout,
	}
	for _, args := range steps {
		var out bytes.Buffer
		res := g.Runner.Spawn(ctx, process.Command{Name: "git", Args: args}, process.Options{Dir: dir, Log: &out})
		if res.Failed {
			return nil, errors.Wrap(errors.ErrCodeProjectLoad,
				fmt.Sprintf("git %s failed for %s/%s", args[0], ref.Owner, ref.Repo),
				fmt.Errorf("%s: %s", res.Message, strings.TrimSpace(out.String())))
		}
	}

	return &Project{BaseDir: dir, Ref: ref, ReadOnly: opts.ReadOnly, Detached: opts.Detached}, nil
}
