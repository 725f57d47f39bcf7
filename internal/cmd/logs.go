package cmd

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/health"
	"github.com/felixgeelhaar/goalrun/internal/version"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect progress log shipping",
	}
	cmd.AddCommand(newLogsCheckCmd())
	return cmd
}

func newLogsCheckCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the remote log service accepts requests",
		Long: `Check the configured remote log service. Without log.remoteURL progress logs
stay local and the check reports degraded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := cc.LoadConfig()
			if err != nil {
				return err
			}

			client := &http.Client{
				Timeout:   timeout,
				Transport: userAgentTransport{agent: version.GetInfo().UserAgent(), next: http.DefaultTransport},
			}
			manager := health.NewManager().WithTimeout(timeout)
			manager.AddChecker(health.NewRemoteLogChecker(cfg.Log.RemoteURL, cfg.Log.RemoteToken, client))

			report := manager.Check(cmd.Context())
			if err := outputReport(cmd.OutOrStdout(), cc.JSON(), report); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return errors.New(errors.ErrCodeLogUnavailable, "remote log service unavailable").
					WithSuggestion("Check log.remoteURL and log.remoteToken in the goalrun configuration")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "availability check timeout")
	return cmd
}

// userAgentTransport identifies goalrun to the services it checks
type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}
