package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/hooks"
)

// HookFailure is a hook script that ran and failed
type HookFailure struct {
	Stage  hooks.Stage
	Result *goal.ExecutionResult
}

func (e *HookFailure) Error() string {
	if e.Result.Message != "" {
		return e.Result.Message
	}
	return fmt.Sprintf("%s hook failed with code %d", e.Stage, e.Result.Code)
}

// Code is the hook script's exit code
func (e *HookFailure) Code() int {
	return e.Result.Code
}

func newHookCmd() *cobra.Command {
	var flags invocationFlags
	cmd := &cobra.Command{
		Use:       "hook pre|post",
		Short:     "Run a goal's pre or post hook",
		Long:      `Run the project's pre or post hook script for a goal without executing the goal itself.`,
		Example:   `  goalrun hook pre --goal goal.json --project .`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(hooks.StagePre), string(hooks.StagePost)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, hooks.Stage(args[0]), flags)
		},
	}

	cmd.Flags().StringVar(&flags.goalPath, "goal", "", "goal event file (JSON)")
	cmd.Flags().StringVar(&flags.projectDir, "project", "", "checked-out working tree holding the hooks")
	cmd.Flags().StringVar(&flags.workspaceID, "workspace-id", "", "workspace the goal belongs to (default workspaceID from config)")
	cmd.Flags().StringVar(&flags.correlationID, "correlation-id", "", "correlation id of the dispatch (default a new UUID)")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runHook(cmd *cobra.Command, stage hooks.Stage, flags invocationFlags) error {
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

	inv, err := a.newInvocation(flags)
	if err != nil {
		return err
	}
	p, cleanup, err := a.resolveProject(ctx, flags.projectDir, inv)
	if err != nil {
		return err
	}
	defer cleanup()
	inv.Project = p

	out, err := a.progressLog(ctx, inv)
	if err != nil {
		return err
	}
	inv.Progress = out
	defer func() {
		if err := out.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.WithError(err).Warn("failed to close progress log")
		}
	}()

	res, err := a.hooks.RunHook(ctx, stage, inv)
	if err != nil {
		return err
	}
	if res.IsFailure() {
		return &HookFailure{Stage: stage, Result: res}
	}
	if res.State == goal.StateSkipped {
		_, err = fmt.Fprintln(a.out, res.Message)
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s hook for %s succeeded\n", stage, inv.Goal.UniqueName)
	return err
}
