// Package cache stores and restores named project directories between goal
// executions.
package cache

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// ErrMiss is returned by Get when no entry exists for a key
var ErrMiss = stderrors.New("cache miss")

func miss(key string) error {
	return errors.Wrap(errors.ErrCodeCacheMiss, fmt.Sprintf("no cache entry %s", key), ErrMiss)
}

func backendErr(backend, op, key string, err error) error {
	return errors.Wrap(errors.ErrCodeCacheBackend, fmt.Sprintf("%s %s failed for %s", backend, op, key), err)
}

// Store is a blob store keyed by cache keys
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key derives the cache key of a classifier for a repository in a workspace
func Key(workspaceID, repoSlug, classifier string) string {
	h := blake3.New()
	for _, part := range []string{workspaceID, repoSlug, classifier} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Config selects and configures a cache backend
type Config struct {
	// Backend is file, s3, gcs, redis or none
	Backend       string        `yaml:"backend" json:"backend"`
	Dir           string        `yaml:"dir" json:"dir"`
	Bucket        string        `yaml:"bucket" json:"bucket"`
	Region        string        `yaml:"region" json:"region"`
	Endpoint      string        `yaml:"endpoint" json:"endpoint"`
	Prefix        string        `yaml:"prefix" json:"prefix"`
	RedisAddr     string        `yaml:"redisAddr" json:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword" json:"redisPassword"`
	RedisDB       int           `yaml:"redisDB" json:"redisDB"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
}

// NewStore creates the backend named by cfg.Backend. The none backend
// returns (nil, nil).
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "file":
		if cfg.Dir == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "cache.dir is required for the file cache")
		}
		return NewFileStore(cfg.Dir)
	case "s3":
		if cfg.Bucket == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "cache.bucket is required for the s3 cache")
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case "gcs":
		if cfg.Bucket == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "cache.bucket is required for the gcs cache")
		}
		return newGCSStore(ctx, cfg)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "cache.redisAddr is required for the redis cache")
		}
		return NewRedisStore(RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Prefix: cfg.Prefix, TTL: cfg.TTL}), nil
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("unsupported cache backend: %s", cfg.Backend))
	}
}
