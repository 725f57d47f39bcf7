package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/goalrun/internal/clock"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
)

// ImageState tracks when an image was last pulled and used
type ImageState struct {
	Image    string    `json:"image"`
	CachedAt time.Time `json:"cached_at"`
	LastUsed time.Time `json:"last_used"`
	PullTime int64     `json:"pull_time_ms"`
}

// CacheManifest stores metadata about pulled images
type CacheManifest struct {
	Version   string                 `json:"version"`
	Images    map[string]*ImageState `json:"images"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ImageCache pulls images at most once per MaxAge. State is kept in
// <dir>/manifest.json when a directory is configured.
type ImageCache struct {
	dir     string
	maxAge  time.Duration
	runtime ImageRuntime
	clock   clock.Clock
	logger  *log.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	states map[string]*ImageState
}

// NewImageCache creates an image cache over rt
func NewImageCache(dir string, maxAge time.Duration, rt ImageRuntime, logger *log.Logger, m *metrics.Metrics) *ImageCache {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &ImageCache{
		dir:     dir,
		maxAge:  maxAge,
		runtime: rt,
		clock:   clock.Real(),
		logger:  logger.With("component", "image-cache"),
		metrics: m,
		states:  make(map[string]*ImageState),
	}
}

// LoadManifest loads the cache manifest from disk. A missing manifest
// starts an empty cache.
func (c *ImageCache) LoadManifest() error {
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(c.dir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			c.states = make(map[string]*ImageState)
			return nil
		}
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest CacheManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Images == nil {
		manifest.Images = make(map[string]*ImageState)
	}
	c.states = manifest.Images
	return nil
}

// SaveManifest writes the cache manifest to disk
func (c *ImageCache) SaveManifest() error {
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(CacheManifest{
		Version:   "1.0",
		Images:    c.states,
		UpdatedAt: c.clock.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(c.dir, "manifest.json"), data, 0600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// State returns the cached state of image, if any
func (c *ImageCache) State(image string) (ImageState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[image]
	if !ok {
		return ImageState{}, false
	}
	return *s, true
}

// EnsureImage makes image available locally, pulling it when it is missing
// or its cache entry is older than MaxAge
func (c *ImageCache) EnsureImage(ctx context.Context, image string) error {
	now := c.clock.Now()

	c.mu.Lock()
	state, cached := c.states[image]
	fresh := cached && now.Sub(state.CachedAt) < c.maxAge
	c.mu.Unlock()

	if fresh {
		exists, err := c.runtime.ImageExists(ctx, image)
		if err != nil {
			return fmt.Errorf("check image exists: %w", err)
		}
		if exists {
			c.mu.Lock()
			state.LastUsed = now
			c.mu.Unlock()
			c.logger.Debug("using cached image", "image", image, "age", now.Sub(state.CachedAt))
			c.save()
			return nil
		}
	}

	c.logger.Debug("pulling image", "image", image)
	started := c.clock.Now()
	if err := c.runtime.Pull(ctx, image); err != nil {
		c.metrics.RecordImagePull(false)
		return fmt.Errorf("pull image: %w", err)
	}
	c.metrics.RecordImagePull(true)
	pulled := c.clock.Now()

	c.mu.Lock()
	c.states[image] = &ImageState{
		Image:    image,
		CachedAt: pulled,
		LastUsed: pulled,
		PullTime: pulled.Sub(started).Milliseconds(),
	}
	c.mu.Unlock()
	c.save()
	return nil
}

func (c *ImageCache) save() {
	if err := c.SaveManifest(); err != nil {
		c.logger.Warn("failed to save image cache manifest", "error", err)
	}
}

// Prewarm ensures every distinct image concurrently and returns the error
// per image that could not be made available
func (c *ImageCache) Prewarm(ctx context.Context, images []string, concurrency int) map[string]error {
	if concurrency <= 0 {
		concurrency = 4
	}
	seen := make(map[string]bool)
	var mu sync.Mutex
	failures := make(map[string]error)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, image := range images {
		image := image
		if seen[image] {
			continue
		}
		seen[image] = true
		g.Go(func() error {
			if err := c.EnsureImage(ctx, image); err != nil {
				mu.Lock()
				failures[image] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// Prune forgets images unused for longer than maxAge and returns them
func (c *ImageCache) Prune(maxAge time.Duration) []string {
	now := c.clock.Now()
	c.mu.Lock()
	var pruned []string
	for image, state := range c.states {
		if now.Sub(state.LastUsed) > maxAge {
			delete(c.states, image)
			pruned = append(pruned, image)
		}
	}
	c.mu.Unlock()
	if len(pruned) > 0 {
		c.save()
	}
	return pruned
}
