package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps entries as files below a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, backendErr("file", "init", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if len(key) < 3 || filepath.Base(key) != key {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(s.dir, key[:2], key+".tar.zst"), nil
}

// Put writes the entry atomically
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return backendErr("file", "put", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return backendErr("file", "put", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return backendErr("file", "put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return backendErr("file", "put", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return backendErr("file", "put", key, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, miss(key)
	}
	if err != nil {
		return nil, backendErr("file", "get", key, err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, backendErr("file", "stat", key, err)
	}
	return true, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return backendErr("file", "delete", key, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
