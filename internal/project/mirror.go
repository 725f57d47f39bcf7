package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// MirrorStats counts the entries Mirror touched
type MirrorStats struct {
	Added   int
	Updated int
	Removed int
}

// Changed reports whether Mirror modified the destination
func (s MirrorStats) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}

// Mirror makes dst an exact copy of src: missing entries are added,
// differing files and modes are rewritten, and entries absent from src are
// removed. Symlinks are recreated when both filesystems support them.
func Mirror(src, dst afero.Fs) (MirrorStats, error) {
	var stats MirrorStats
	seen := map[string]bool{}

	err := afero.Walk(src, string(filepath.Separator), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, string(filepath.Separator))
		if rel == "" {
			return nil
		}
		seen[rel] = true

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			return mirrorSymlink(src, dst, rel, &stats)
		case info.IsDir():
			return mirrorDir(dst, rel, info, &stats)
		case info.Mode().IsRegular():
			return mirrorFile(src, dst, rel, info, &stats)
		default:
			return nil
		}
	})
	if err != nil {
		return stats, fmt.Errorf("failed to mirror project: %w", err)
	}

	var stale []string
	err = afero.Walk(dst, string(filepath.Separator), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, string(filepath.Separator))
		if rel == "" || seen[rel] {
			return nil
		}
		stale = append(stale, rel)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to scan mirror destination: %w", err)
	}

	sort.Strings(stale)
	for _, rel := range stale {
		if err := dst.RemoveAll(rel); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", rel, err)
		}
		stats.Removed++
	}
	return stats, nil
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}

func mirrorDir(dst afero.Fs, rel string, info os.FileInfo, stats *MirrorStats) error {
	existing, err := lstat(dst, rel)
	if err == nil && existing.IsDir() {
		if existing.Mode().Perm() != info.Mode().Perm() {
			return dst.Chmod(rel, info.Mode().Perm())
		}
		return nil
	}
	if err == nil {
		if err := dst.RemoveAll(rel); err != nil {
			return err
		}
	}
	stats.Added++
	if err := dst.MkdirAll(rel, info.Mode().Perm()); err != nil {
		return err
	}
	return dst.Chmod(rel, info.Mode().Perm())
}

func mirrorFile(src, dst afero.Fs, rel string, info os.FileInfo, stats *MirrorStats) error {
	data, err := afero.ReadFile(src, rel)
	if err != nil {
		return err
	}

	existing, err := lstat(dst, rel)
	switch {
	case err != nil:
		stats.Added++
	case !existing.Mode().IsRegular():
		if err := dst.RemoveAll(rel); err != nil {
			return err
		}
		stats.Updated++
	default:
		current, err := afero.ReadFile(dst, rel)
		if err != nil {
			return err
		}
		if bytes.Equal(current, data) {
			if existing.Mode().Perm() != info.Mode().Perm() {
				stats.Updated++
				return dst.Chmod(rel, info.Mode().Perm())
			}
			return nil
		}
		stats.Updated++
	}

	if err := afero.WriteFile(dst, rel, data, info.Mode().Perm()); err != nil {
		return err
	}
	return dst.Chmod(rel, info.Mode().Perm())
}

// mirrorSymlink recreates a link verbatim. Only filesystems backed by a real
// directory can carry symlinks; elsewhere links are skipped.
func mirrorSymlink(src, dst afero.Fs, rel string, stats *MirrorStats) error {
	srcBase, ok := src.(*afero.BasePathFs)
	if !ok {
		return nil
	}
	dstBase, ok := dst.(*afero.BasePathFs)
	if !ok {
		return nil
	}
	srcPath, err := srcBase.RealPath(rel)
	if err != nil {
		return err
	}
	dstPath, err := dstBase.RealPath(rel)
	if err != nil {
		return err
	}

	target, err := os.Readlink(srcPath)
	if err != nil {
		return err
	}
	if current, err := os.Readlink(dstPath); err == nil && current == target {
		return nil
	}
	if _, err := os.Lstat(dstPath); err == nil {
		if err := os.RemoveAll(dstPath); err != nil {
			return err
		}
		stats.Updated++
	} else {
		stats.Added++
	}
	return os.Symlink(target, dstPath)
}
