package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/progress"
)

// Entry declares one cached set of project paths
type Entry struct {
	Classifier string   `json:"classifier"`
	Patterns   []string `json:"patterns"`
}

type goalData struct {
	Cache struct {
		Entries []Entry `json:"entries"`
	} `json:"cache"`
}

// Entries reads the cache entries a goal declares in its data as
// {"cache":{"entries":[...]}}. Data that is not such JSON declares none.
func Entries(data string) []Entry {
	if data == "" {
		return nil
	}
	var d goalData
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil
	}
	var entries []Entry
	for _, e := range d.Cache.Entries {
		if e.Classifier != "" && len(e.Patterns) > 0 {
			entries = append(entries, e)
		}
	}
	return entries
}

// Bridge connects a cache store to goal executions
type Bridge struct {
	store   Store
	backend string
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewBridge creates a bridge for store; backend labels metrics
func NewBridge(store Store, backend string, logger *log.Logger, m *metrics.Metrics) *Bridge {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Bridge{store: store, backend: backend, logger: logger.With("component", "cache"), metrics: m}
}

// Listeners returns the restore and put project listeners
func (b *Bridge) Listeners() []goal.ProjectListener {
	return []goal.ProjectListener{b.RestoreListener(), b.PutListener()}
}

// RestoreListener restores declared entries into the project before the
// executor runs. Misses and failures are reported and never fail the goal.
func (b *Bridge) RestoreListener() goal.ProjectListener {
	return goal.ProjectListener{
		Name:   "cache restore",
		Events: []goal.ProjectEvent{goal.ProjectBefore},
		Listen: func(ctx context.Context, inv goal.Invocation, event goal.ProjectEvent, result *goal.ExecutionResult) error {
			if inv.Project == nil {
				return nil
			}
			for _, e := range Entries(inv.Goal.Data) {
				b.restore(ctx, inv, e)
			}
			return nil
		},
	}
}

// PutListener stores declared entries after a successful executor
func (b *Bridge) PutListener() goal.ProjectListener {
	return goal.ProjectListener{
		Name:   "cache put",
		Events: []goal.ProjectEvent{goal.ProjectAfter},
		Listen: func(ctx context.Context, inv goal.Invocation, event goal.ProjectEvent, result *goal.ExecutionResult) error {
			if inv.Project == nil || result.IsFailure() {
				return nil
			}
			for _, e := range Entries(inv.Goal.Data) {
				b.put(ctx, inv, e)
			}
			return nil
		},
	}
}

func (b *Bridge) key(inv goal.Invocation, e Entry) string {
	return Key(inv.Context.WorkspaceID, inv.Goal.Repo.Slug(), e.Classifier)
}

func (b *Bridge) restore(ctx context.Context, inv goal.Invocation, e Entry) {
	out := inv.Log()
	key := b.key(inv, e)
	start := time.Now()

	data, err := b.store.Get(ctx, key)
	if stderrors.Is(err, ErrMiss) {
		b.metrics.RecordCache(b.backend, "restore", "miss")
		progress.Printf(out, "Cache miss for '%s'\n", e.Classifier)
		return
	}
	if err != nil {
		b.fail(out, "restore", e, err)
		return
	}

	n, err := Extract(inv.Project.BaseDir, data)
	if err != nil {
		b.fail(out, "restore", e, err)
		return
	}
	b.metrics.RecordCache(b.backend, "restore", "hit")
	progress.Printf(out, "Restored %d file(s) from cache '%s' in %s\n", n, e.Classifier, time.Since(start).Round(time.Millisecond))
}

func (b *Bridge) put(ctx context.Context, inv goal.Invocation, e Entry) {
	out := inv.Log()
	data, n, err := Archive(inv.Project.BaseDir, e.Patterns)
	if err != nil {
		b.fail(out, "put", e, err)
		return
	}
	if n == 0 {
		b.metrics.RecordCache(b.backend, "put", "empty")
		progress.Printf(out, "Nothing to cache for '%s'\n", e.Classifier)
		return
	}
	if err := b.store.Put(ctx, b.key(inv, e), data); err != nil {
		b.fail(out, "put", e, err)
		return
	}
	b.metrics.RecordCache(b.backend, "put", "success")
	progress.Printf(out, "Cached %d file(s) as '%s'\n", n, e.Classifier)
}

func (b *Bridge) fail(out progress.Log, op string, e Entry, err error) {
	b.metrics.RecordCache(b.backend, op, "error")
	b.logger.WithError(err).Warn("cache operation failed", "operation", op, "classifier", e.Classifier)
	progress.Printf(out, "Cache %s failed for '%s': %v\n", op, e.Classifier, err)
}
