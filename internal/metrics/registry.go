package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultMetrics *Metrics
	defaultMu      sync.Mutex
)

// Default returns the process-wide metrics registered on the default
// Prometheus registerer, creating them on first use
func Default() *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMetrics == nil {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return defaultMetrics
}

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer, opts promhttp.HandlerOpts) http.Handler {
	return promhttp.HandlerFor(reg, opts)
}

// Serve exposes /metrics for gatherer on addr until ctx is done
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
