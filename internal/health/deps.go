package health

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/felixgeelhaar/goalrun/internal/cache"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/store"
)

// sentinelKey is looked up to exercise a backend. It is never written.
const sentinelKey = "goalrun-health-sentinel"

// NewRemoteLogChecker checks that the remote log service accepts requests.
// Without a base URL the check is degraded: progress logs stay local.
func NewRemoteLogChecker(baseURL, token string, client *http.Client) Checker {
	return CheckFunc("remote-log", func(ctx context.Context) *Result {
		if baseURL == "" {
			return Degraded("no remote log service configured").
				WithDetail("suggestion", "Set log.remoteURL to ship progress logs")
		}
		if err := progress.CheckRemote(ctx, client, baseURL, token); err != nil {
			return Unhealthy("remote log service unavailable").
				WithDetail("url", baseURL).
				WithDetail("error", err.Error())
		}
		return Healthy("remote log service reachable").WithDetail("url", baseURL)
	})
}

// NewStoreChecker checks that the status store answers lookups
func NewStoreChecker(driver string, s store.Store) Checker {
	return CheckFunc("status-store", func(ctx context.Context) *Result {
		_, err := s.Get(ctx, sentinelKey)
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return Unhealthy("status store unavailable").
				WithDetail("driver", driver).
				WithDetail("error", err.Error())
		}
		return Healthy("status store reachable").WithDetail("driver", driver)
	})
}

// NewCacheChecker checks that the cache backend answers lookups. A nil
// store means caching is disabled.
func NewCacheChecker(backend string, s cache.Store) Checker {
	return CheckFunc("cache-backend", func(ctx context.Context) *Result {
		if s == nil {
			return Healthy("cache disabled").WithDetail("backend", "none")
		}
		if _, err := s.Exists(ctx, sentinelKey); err != nil {
			return Unhealthy("cache backend unavailable").
				WithDetail("backend", backend).
				WithDetail("error", err.Error())
		}
		return Healthy("cache backend reachable").WithDetail("backend", backend)
	})
}
