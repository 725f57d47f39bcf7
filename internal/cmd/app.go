package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/cache"
	"github.com/felixgeelhaar/goalrun/internal/config"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/hooks"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/notify"
	"github.com/felixgeelhaar/goalrun/internal/process"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
	"github.com/felixgeelhaar/goalrun/internal/secret"
	"github.com/felixgeelhaar/goalrun/internal/store"
	"github.com/felixgeelhaar/goalrun/internal/telemetry"
	"github.com/felixgeelhaar/goalrun/internal/version"
)

// SecretEnvPrefix prefixes environment variables resolvable as secrets
const SecretEnvPrefix = "GOALRUN_SECRET_"

const (
	flushTimeout = 5 * time.Second

	// availabilityTimeout bounds the availability check of the remote log service
	availabilityTimeout = 2 * time.Second
)

// app wires the components a goal execution needs from the configuration
type app struct {
	cc     *CommandContext
	cfg    *config.Config
	out    io.Writer
	logger *log.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	processes *process.Runner
	store     store.Store
	cache     cache.Store
	loader    project.Loader
	listeners *hooks.Registry
	hooks     *hooks.Runner
	notifier  notify.Notifier
	tracing   *telemetry.Provider
	vault     *secret.VaultProvider
	secrets   secret.Resolver

	closers []func(context.Context) error
}

// newApp loads the configuration and starts observability, then opens the
// store and cache. Close releases everything newApp started.
func newApp(ctx context.Context, cmd *cobra.Command) (a *app, err error) {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := cc.LoadConfig()
	if err != nil {
		return nil, err
	}

	a = &app{cc: cc, cfg: cfg, out: cmd.OutOrStdout()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	info := version.GetInfo()
	a.setupLogging(cmd.ErrOrStderr(), info.Version)
	a.setupTelemetry(ctx, info.Version)
	a.setupMetrics(ctx)

	a.processes = process.NewRunner(cfg.Process.Timeout, a.logger)

	if a.store, err = store.Open(ctx, cfg.Store); err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.store.Close() })

	if a.cache, err = cache.NewStore(ctx, cfg.Cache); err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.onClose(func(context.Context) error { return a.cache.Close() })
	}

	a.loader = project.GitLoader{
		Runner:      a.processes,
		URLTemplate: cfg.Project.CloneURLTemplate,
		TempDir:     cfg.Container.TempDir,
	}

	a.listeners = hooks.NewRegistry(hooks.NewExecutor(a.metrics), a.logger)
	hooks.RegisterBuiltins(a.listeners, a.processes)
	for i := range cfg.Listeners {
		if err := a.listeners.RegisterFromConfig(&cfg.Listeners[i]); err != nil {
			return nil, fmt.Errorf("failed to register listener %q: %w", cfg.Listeners[i].Name, err)
		}
	}
	a.hooks = hooks.NewRunner(cfg.Hooks, a.loader, a.processes, a.logger, a.metrics)

	notifiers := []notify.Notifier{notify.NewLogNotifier(a.logger)}
	if cfg.Notify.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL, cfg.Notify.Channel))
	}
	a.notifier = notify.Multi(notifiers...)

	var providers []secret.Provider
	if cfg.Secrets.Vault.Address != "" {
		if a.vault, err = secret.NewVaultProvider(cfg.Secrets.Vault, nil); err != nil {
			return nil, err
		}
		providers = append(providers, a.vault)
	}
	if cfg.Secrets.AgeFile != "" {
		providers = append(providers, secret.NewAgeProvider(cfg.Secrets.AgeIdentityFile, cfg.Secrets.AgeFile))
	}
	providers = append(providers, secret.EnvProvider{Prefix: SecretEnvPrefix})
	a.secrets = secret.Resolver{Provider: secret.Chain(providers...)}

	return a, nil
}

func (a *app) setupLogging(w io.Writer, serviceVersion string) {
	logCfg := a.cfg.LoggerConfig(serviceVersion)
	logCfg.Output = log.NewOutput(w)
	a.logger = log.New(logCfg)
	log.SetDefaultLogger(a.logger)
}

// setupTelemetry starts tracing. A failing exporter never prevents goal
// execution.
func (a *app) setupTelemetry(ctx context.Context, serviceVersion string) {
	tracing, err := telemetry.InitProvider(ctx, a.cfg.TracingConfig(serviceVersion))
	if err != nil {
		a.logger.WithError(err).Warn("tracing disabled")
		return
	}
	a.tracing = tracing
	a.onClose(tracing.Shutdown)
}

// flushTraces exports the spans of a finished goal
func (a *app) flushTraces(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := a.tracing.ForceFlush(ctx); err != nil {
		a.logger.WithError(err).Warn("failed to export traces")
	}
}

func (a *app) setupMetrics(ctx context.Context) {
	a.registry, a.metrics = metrics.NewRegistry()
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := metrics.Serve(serveCtx, addr, a.registry); err != nil {
			a.logger.WithError(err).Warn("metrics endpoint stopped", "addr", addr)
		}
	}()
	a.logger.Debug("serving metrics", "addr", addr)
	a.onClose(func(context.Context) error {
		cancel()
		<-done
		return nil
	})
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// progressLog builds the goal's progress log. The in-memory log comes first
// so its contents feed the log interpreter; the remote log, when configured
// and reachable, provides the log URL. Line-oriented sinks sit behind a
// newline DelimitedLog.
func (a *app) progressLog(ctx context.Context, inv goal.Invocation) (progress.Log, error) {
	logs := []progress.Log{
		progress.NewMemoryLog(inv.Goal.UniqueName),
		progress.NewDelimitedLog(progress.NewLoggerLog(a.logger.ForGoal(inv.Goal.GoalSetID, inv.Goal.UniqueName, inv.Context.CorrelationID)), "\n"),
	}

	if a.cfg.Log.RemoteURL != "" {
		remote := progress.NewRemoteLog(progress.RemoteConfig{
			BaseURL:       a.cfg.Log.RemoteURL,
			Token:         a.cfg.Log.RemoteToken,
			Target:        inv.Target(),
			BufferBytes:   a.cfg.Log.BufferBytes,
			FlushInterval: a.cfg.Log.FlushInterval,
			MaxFlushRate:  a.cfg.Log.MaxFlushRate,
			Logger:        a.logger,
			Metrics:       a.metrics,
		})
		checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
		available := remote.IsAvailable(checkCtx)
		cancel()
		if available {
			logs = append(logs, progress.NewDelimitedLog(remote, "\n"))
		} else {
			a.logger.Warn("remote log service unavailable, not shipping progress", "url", a.cfg.Log.RemoteURL)
			remote.Stop()
		}
	}

	if a.cfg.Log.Dir != "" {
		f, err := progress.NewFileLog(a.cfg.Log.Dir, inv.Goal.GoalSetID, inv.Goal.UniqueName)
		if err != nil {
			return nil, err
		}
		logs = append(logs, f)
	}

	return progress.Combine(logs...), nil
}
