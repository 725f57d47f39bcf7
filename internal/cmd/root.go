package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the goalrun command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "goalrun",
		Short: "Execute delivery pipeline goals",
		Long: `goalrun executes a single goal of a delivery pipeline for one commit.
It runs the repository's pre and post hooks around the goal's implementation,
streams the goal's progress log, persists every status change and notifies
the configured listeners.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default $GOALRUN_CONFIG or <user config dir>/goalrun/config.yaml)")
	flags.String("log-level", "", "override log.level (debug, info, warn, error)")
	flags.String("log-format", "", "override log.format (json, text)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.String("format", "text", "output format (text, json)")

	root.AddCommand(
		newExecuteCmd(),
		newHookCmd(),
		newLogsCmd(),
		newDoctorCmd(),
		newImagesCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// ExecuteContext runs the root command with ctx; canceling ctx stops the
// running goal
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
