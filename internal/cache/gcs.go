//go:build gcp

package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps entries as objects in a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed cache store using application default
// credentials
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + key + ".tar.zst")
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = "application/zstd"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return backendErr("gcs", "put", key, err)
	}
	if err := w.Close(); err != nil {
		return backendErr("gcs", "put", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.object(key).NewReader(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return nil, miss(key)
	}
	if err != nil {
		return nil, backendErr("gcs", "get", key, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, backendErr("gcs", "get", key, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if stderrors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, backendErr("gcs", "attrs", key, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !stderrors.Is(err, storage.ErrObjectNotExist) {
		return backendErr("gcs", "delete", key, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
