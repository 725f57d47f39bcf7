package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	providerMu sync.RWMutex
	current    trace.TracerProvider = noop.NewTracerProvider()
)

func setTracerProvider(tp trace.TracerProvider) {
	providerMu.Lock()
	current = tp
	providerMu.Unlock()
	otel.SetTracerProvider(tp)
}

func tracer(name string) trace.Tracer {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return current.Tracer(name)
}

// Provider owns the tracer provider of one goalrun process. Spans leave in
// batches, so a goal's spans are only exported after ForceFlush or Shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

func createResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
}

// exporterOptions bounds export retries to exportRetryWindow
func exporterOptions(endpoint string) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		otlptracehttp.WithTimeout(exportTimeout),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsedTime:  exportRetryWindow,
		}),
	}
	if strings.Contains(endpoint, "://") {
		return append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	return append(opts, otlptracehttp.WithEndpoint(endpoint))
}

const (
	exportTimeout     = 5 * time.Second
	exportRetryWindow = 10 * time.Second
)

// InitProvider installs the process tracer provider. With tracing disabled
// the noop provider is installed and the returned Provider does nothing.
// Without an endpoint spans are recorded but never exported.
func InitProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		setTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	res, err := createResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg.Endpoint)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	setTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// ForceFlush exports every ended span
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown exports pending spans, stops the provider and reinstalls the
// noop provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	err := p.tp.Shutdown(ctx)
	setTracerProvider(noop.NewTracerProvider())
	return err
}
