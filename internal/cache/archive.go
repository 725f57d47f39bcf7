package cache

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// Match reports whether the slash-separated relative path rel is selected
// by pattern. A pattern ending in "/" or "/**" selects a whole directory;
// other patterns use path.Match against rel and its parent directories, and
// a pattern without a slash also against the file name.
func Match(pattern, rel string) bool {
	pattern = strings.TrimPrefix(pattern, "./")
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		pattern = dir + "/"
	}
	if dir, ok := strings.CutSuffix(pattern, "/"); ok {
		return rel == dir || strings.HasPrefix(rel, dir+"/")
	}
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

// Archive packs the regular files below root selected by patterns into a
// zstd-compressed tar. It returns the archive and the number of files.
func Archive(root string, patterns []string) ([]byte, int, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeCacheArchive, "failed to create compressor", err)
	}
	tw := tar.NewWriter(zw)

	count := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() && rel == ".git" {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() || !matchAny(patterns, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeCacheArchive, fmt.Sprintf("failed to archive %s", root), err)
	}
	if err := tw.Close(); err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeCacheArchive, "failed to finish archive", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, errors.Wrap(errors.ErrCodeCacheArchive, "failed to finish compression", err)
	}
	return buf.Bytes(), count, nil
}

// Extract unpacks an archive made by Archive below root, returning the
// number of files written. Entries escaping root are rejected.
func Extract(root string, data []byte) (int, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeCacheArchive, "failed to open archive", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrap(errors.ErrCodeCacheArchive, "failed to read archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		clean := path.Clean(hdr.Name)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return count, errors.New(errors.ErrCodeCacheArchive, fmt.Sprintf("archive entry %q escapes the project", hdr.Name))
		}
		target := filepath.Join(root, filepath.FromSlash(clean))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return count, errors.Wrap(errors.ErrCodeCacheArchive, "failed to create directory", err)
		}
		if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return count, errors.Wrap(errors.ErrCodeCacheArchive, fmt.Sprintf("failed to write %s", clean), err)
		}
		count++
	}
}

func writeEntry(target string, r io.Reader, perm fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
