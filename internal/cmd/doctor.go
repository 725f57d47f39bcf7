package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/health"
	"github.com/felixgeelhaar/goalrun/internal/version"
)

func newDoctorCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that goals can run on this host",
		Long: `Check the container builder, git, the remote log service, the status store,
the cache backend and Vault when configured. Exits non-zero when a check is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", health.DefaultTimeout, "timeout of each check")
	return cmd
}

func runDoctor(cmd *cobra.Command, timeout time.Duration) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.WithError(err).Warn("shutdown incomplete")
		}
	}()

	client := &http.Client{
		Timeout:   timeout,
		Transport: userAgentTransport{agent: version.GetInfo().UserAgent(), next: http.DefaultTransport},
	}

	manager := health.NewManager().WithTimeout(timeout)
	manager.AddChecker(health.NewDockerChecker(a.cfg.Container.Builder))
	manager.AddChecker(health.NewGitChecker())
	manager.AddChecker(health.NewRemoteLogChecker(a.cfg.Log.RemoteURL, a.cfg.Log.RemoteToken, client))
	manager.AddChecker(health.NewStoreChecker(a.cfg.Store.Driver, a.store))
	manager.AddChecker(health.NewCacheChecker(a.cfg.Cache.Backend, a.cache))
	if a.vault != nil {
		manager.AddChecker(health.CheckFunc("vault", func(ctx context.Context) *health.Result {
			if err := a.vault.Health(ctx); err != nil {
				return health.Unhealthy("vault unavailable").WithDetail("error", err.Error())
			}
			return health.Healthy("vault reachable").WithDetail("address", a.cfg.Secrets.Vault.Address)
		}))
	}

	report := manager.Check(ctx)
	if err := outputReport(a.out, a.cc.JSON(), report); err != nil {
		return err
	}
	return unhealthyError(report)
}
