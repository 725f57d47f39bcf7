// Package project materializes the repository a goal runs against and
// keeps scratch copies in sync with it.
package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Ref identifies a commit of a repository
type Ref struct {
	Owner    string
	Repo     string
	SHA      string
	Branch   string
	CloneURL string
}

// Project is a checked-out working tree on the local filesystem
type Project struct {
	BaseDir  string
	Ref      Ref
	ReadOnly bool
	Detached bool
}

// New describes an existing working tree
func New(baseDir string, ref Ref) *Project {
	return &Project{BaseDir: baseDir, Ref: ref}
}

// FS returns the working tree as a filesystem rooted at BaseDir. Writes
// fail with EPERM on a read-only project.
func (p *Project) FS() afero.Fs {
	fs := afero.NewBasePathFs(afero.NewOsFs(), p.BaseDir)
	if p.ReadOnly {
		return afero.NewReadOnlyFs(fs)
	}
	return fs
}

// Path returns the absolute path of rel inside the project
func (p *Project) Path(rel string) string {
	return filepath.Join(p.BaseDir, filepath.FromSlash(rel))
}

// HasFile reports whether rel exists and is a regular file
func (p *Project) HasFile(rel string) bool {
	info, err := p.FS().Stat(filepath.FromSlash(rel))
	return err == nil && info.Mode().IsRegular()
}

// ReadFile returns the content of rel
func (p *Project) ReadFile(rel string) ([]byte, error) {
	return afero.ReadFile(p.FS(), filepath.FromSlash(rel))
}

// LoadOptions control how a project is materialized
type LoadOptions struct {
	// Dir receives the working tree; empty lets the loader choose
	Dir      string
	ReadOnly bool
	// Detached checks out the commit without a branch
	Detached bool
	// Depth limits clone history; zero means full history
	Depth int
}

// Loader materializes a project for a ref
type Loader interface {
	Load(ctx context.Context, ref Ref, opts LoadOptions) (*Project, error)
}

// ErrReadOnly is returned when mirroring into a read-only project
var ErrReadOnly = errors.New("project is read-only")

// SyncFrom mirrors the tree at srcDir onto the project
func (p *Project) SyncFrom(srcDir string) (MirrorStats, error) {
	if p.ReadOnly {
		return MirrorStats{}, ErrReadOnly
	}
	if _, err := os.Stat(srcDir); err != nil {
		return MirrorStats{}, err
	}
	osFs := afero.NewOsFs()
	return Mirror(afero.NewBasePathFs(osFs, srcDir), afero.NewBasePathFs(osFs, p.BaseDir))
}
