package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/goalrun/internal/clock"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
)

const (
	DefaultBufferBytes   = 10240
	DefaultFlushInterval = time.Second
)

// Target identifies the goal execution a remote log belongs to
type Target struct {
	WorkspaceID   string
	Owner         string
	Repo          string
	SHA           string
	Environment   string
	UniqueName    string
	GoalSetID     string
	CorrelationID string
}

func (t Target) segments() []string {
	return []string{t.WorkspaceID, t.Owner, t.Repo, t.SHA, t.Environment, t.UniqueName, t.GoalSetID, t.CorrelationID}
}

func (t Target) path() string {
	parts := t.segments()
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// RemoteConfig configures a RemoteLog
type RemoteConfig struct {
	BaseURL string
	Token   string
	Target  Target

	// BufferBytes of queued entries trigger an early flush
	BufferBytes int
	// FlushInterval between timer-driven flushes
	FlushInterval time.Duration
	// MaxFlushRate caps size-triggered flushes per second; zero means no cap
	MaxFlushRate float64

	Host    string
	Client  *http.Client
	Clock   clock.Clock
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

type remoteEntry struct {
	Level           string `json:"level"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
	TimestampMillis int64  `json:"timestampMillis"`
}

type remotePayload struct {
	Host    string        `json:"host"`
	Content []remoteEntry `json:"content"`
}

// RemoteLog buffers timestamped lines and ships them to a log service.
// Every write is taken as whole lines; wrap it in a DelimitedLog when
// writers emit partial lines. Batches that fail to post are re-queued ahead
// of newer lines. Transport errors are logged and never returned.
type RemoteLog struct {
	cfg     RemoteConfig
	logger  *log.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	queue       []remoteEntry
	queuedBytes int
	closed      bool
	timer       *clock.Timer

	// failing is set while the last post failed; size-triggered flushes
	// then wait for the timer to retry
	failing bool

	// flushMu serializes posts so batches leave in order
	flushMu sync.Mutex

	// scheduled is set while a size-triggered flush is pending
	scheduled atomic.Bool
	async     sync.WaitGroup
}

// NewRemoteLog creates the shipper and arms its flush timer
func NewRemoteLog(cfg RemoteConfig) *RemoteLog {
	if cfg.BufferBytes <= 0 {
		cfg.BufferBytes = DefaultBufferBytes
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	if cfg.MaxFlushRate > 0 {
		limit = rate.Limit(cfg.MaxFlushRate)
	}

	r := &RemoteLog{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "remote-log", "goal", cfg.Target.UniqueName),
		limiter: rate.NewLimiter(limit, 1),
	}
	r.mu.Lock()
	r.armLocked()
	r.mu.Unlock()
	return r
}

func (r *RemoteLog) armLocked() {
	r.timer = r.cfg.Clock.AfterFunc(r.cfg.FlushInterval, r.tick)
}

func (r *RemoteLog) tick() {
	r.flush(context.Background(), false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.armLocked()
	}
}

func (r *RemoteLog) Write(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return len(p), nil
	}

	for _, line := range SplitLines(p) {
		r.enqueueLocked(line)
	}

	if r.queuedBytes > r.cfg.BufferBytes && !r.failing && r.scheduled.CompareAndSwap(false, true) {
		if r.limiter.Allow() {
			r.async.Add(1)
			go func() {
				defer r.async.Done()
				defer r.scheduled.Store(false)
				r.flush(context.Background(), false)
			}()
		} else {
			r.scheduled.Store(false)
		}
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *RemoteLog) enqueueLocked(message string) {
	now := r.cfg.Clock.Now()
	entry := remoteEntry{
		Level:           "info",
		Message:         message,
		Timestamp:       now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		TimestampMillis: now.UnixMilli(),
	}
	r.queue = append(r.queue, entry)
	r.queuedBytes += len(message)
}

// Pending returns the number of entries waiting to be shipped
func (r *RemoteLog) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *RemoteLog) Name() string { return "remote" }

// URL is where the log can be viewed once shipped
func (r *RemoteLog) URL() string {
	return r.cfg.BaseURL + "/logs/" + r.cfg.Target.path()
}

func (r *RemoteLog) Contents() string { return "" }

// Flush ships everything queued. It always returns nil; a failed batch
// stays queued for the next attempt.
func (r *RemoteLog) Flush(ctx context.Context) error {
	r.flush(ctx, false)
	return nil
}

// Close stops the timer and makes a final flush marked as closing, even if
// earlier flushes failed. Writes after Close are dropped.
func (r *RemoteLog) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	r.async.Wait()
	r.flush(ctx, true)
	return nil
}

// Stop disarms the flush timer and drops queued lines without shipping
// them, for a sink that ends up unused. Writes after Stop are dropped.
func (r *RemoteLog) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.queue = nil
	r.queuedBytes = 0
}

func (r *RemoteLog) flush(ctx context.Context, closing bool) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.queuedBytes = 0
	r.mu.Unlock()

	if len(batch) == 0 && !closing {
		return
	}

	err := r.post(ctx, batch, closing)

	r.mu.Lock()
	r.failing = err != nil
	if err != nil {
		r.queue = append(batch, r.queue...)
		r.queuedBytes = 0
		for _, e := range r.queue {
			r.queuedBytes += len(e.Message)
		}
	}
	pending := r.queuedBytes
	r.mu.Unlock()

	r.cfg.Metrics.RecordLogFlush(r.Name(), err == nil, pending)
	if err != nil {
		r.logger.Debug("failed to ship progress log", "error", err, "entries", len(batch), "closing", closing)
	}
}

func (r *RemoteLog) post(ctx context.Context, batch []remoteEntry, closing bool) error {
	if batch == nil {
		batch = []remoteEntry{}
	}
	body, err := json.Marshal(remotePayload{Host: r.cfg.Host, Content: batch})
	if err != nil {
		return fmt.Errorf("failed to encode log batch: %w", err)
	}

	endpoint := r.cfg.BaseURL + "/api/logs/" + r.cfg.Target.path()
	if closing {
		endpoint += "?closed=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post log batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("log service returned status %d", resp.StatusCode)
	}
	return nil
}

// IsAvailable checks the log service with HEAD <base>/api/logs
func (r *RemoteLog) IsAvailable(ctx context.Context) bool {
	return CheckRemote(ctx, r.cfg.Client, r.cfg.BaseURL, r.cfg.Token) == nil
}

// CheckRemote checks that a log service answers at baseURL
func CheckRemote(ctx context.Context, client *http.Client, baseURL, token string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimRight(baseURL, "/")+"/api/logs", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("log service unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("log service returned status %d", resp.StatusCode)
	}
	return nil
}
