//go:build !gcp

package cache

import (
	"context"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	return nil, errors.New(errors.ErrCodeCacheBackend, "GCS cache is not enabled in this build").
		WithSuggestion("Rebuild with -tags gcp")
}
