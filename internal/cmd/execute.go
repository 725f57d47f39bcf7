package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/cache"
	"github.com/felixgeelhaar/goalrun/internal/container"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/interpret"
	"github.com/felixgeelhaar/goalrun/internal/orchestrator"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

// PhaseMarker prefixes progress log lines that set the goal's phase
const PhaseMarker = "::phase::"

type executeFlags struct {
	invocationFlags
	containers []string
	script     string
}

func newExecuteCmd() *cobra.Command {
	var flags executeFlags
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a goal",
		Long: `Execute a goal for one commit. The goal runs either as containers described by
a container spec (--containers) or as a shell script (--script), surrounded by
the project's pre and post hooks.

A failed goal exits with the goal's own exit code.`,
		Example: `  goalrun execute --goal goal.json --containers build.yaml
  goalrun execute --goal goal.json --project . --script 'make test'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.goalPath, "goal", "", "goal event file (JSON)")
	cmd.Flags().StringArrayVar(&flags.containers, "containers", nil, "container spec file; repeatable, registered under the file name without extension")
	cmd.Flags().StringVar(&flags.script, "script", "", "shell command implementing the goal")
	cmd.Flags().StringVar(&flags.projectDir, "project", "", "use this checked-out working tree instead of cloning")
	cmd.Flags().StringVar(&flags.workspaceID, "workspace-id", "", "workspace the goal belongs to (default workspaceID from config)")
	cmd.Flags().StringVar(&flags.correlationID, "correlation-id", "", "correlation id of the dispatch (default a new UUID)")
	cmd.Flags().StringVar(&flags.credentialsPath, "credentials", "", "YAML file mapping secret names to values; consulted before the configured secret providers")
	_ = cmd.MarkFlagRequired("goal")
	cmd.MarkFlagsMutuallyExclusive("containers", "script")
	cmd.MarkFlagsOneRequired("containers", "script")
	return cmd
}

func runExecute(cmd *cobra.Command, flags executeFlags) error {
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

	inv, err := a.newInvocation(flags.invocationFlags)
	if err != nil {
		return err
	}

	impl, err := a.implementation(flags, inv)
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

	orch := orchestrator.New(orchestrator.Config{
		HooksEnabled: a.cfg.Hooks.Enabled,
		LazyProject:  a.cfg.Project.Lazy,
		ProjectDepth: a.cfg.Project.Depth,
	}, orchestrator.Services{
		Hooks:     a.hooks,
		Listeners: a.listeners,
		Store:     a.store,
		Notifier:  a.notifier,
		Loader:    a.loader,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})

	res, execErr := orch.Execute(ctx, impl, inv)
	if err := out.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.WithError(err).Warn("failed to close progress log")
	}
	a.flushTraces(ctx)

	final := inv.Goal
	if stored, err := a.store.Get(ctx, inv.Goal.Key()); err == nil {
		final = stored
	}
	if err := printOutcome(a.out, a.cc.JSON(), final, res, execErr); err != nil {
		return err
	}
	return execErr
}

// implementation selects the goal's implementation from the flags
func (a *app) implementation(flags executeFlags, inv goal.Invocation) (orchestrator.Implementation, error) {
	impl := orchestrator.Implementation{
		Name:             inv.Goal.Name,
		LogInterpreter:   defaultInterpreter(),
		ProgressReporter: phaseMarker,
	}
	if a.cache != nil {
		impl.ProjectListeners = cache.NewBridge(a.cache, a.cfg.Cache.Backend, a.logger, a.metrics).Listeners()
	}

	if flags.script != "" {
		impl.Execute = scriptExecutor(a.processes, flags.script)
		return impl, nil
	}

	registry := container.NewRegistry()
	for _, path := range flags.containers {
		reg, err := loadRegistration(path)
		if err != nil {
			return impl, err
		}
		if err := registry.Register(reg); err != nil {
			return impl, err
		}
	}
	reg, err := selectRegistration(registry, inv.Goal.Fulfillment)
	if err != nil {
		return impl, err
	}

	rt := container.NewDockerRuntime(a.processes, a.cfg.Process.Timeout, a.logger)
	executor := container.NewExecutor(a.cfg.ExecutorConfig(), rt, a.loader, a.secrets, a.logger, a.metrics)
	fulfill := executor.Fulfill(reg)
	impl.Name = reg.Name
	impl.Execute = func(ctx context.Context, inv goal.Invocation) (*goal.ExecutionResult, error) {
		if err := rt.Available(ctx); err != nil {
			return nil, err
		}
		return fulfill(ctx, inv)
	}
	return impl, nil
}

// loadRegistration parses a container spec file into a registration named
// after the file
func loadRegistration(path string) (container.Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return container.Registration{}, fmt.Errorf("failed to read container spec: %w", err)
	}
	spec, err := container.ParseSpec(data, container.FormatFromPath(path))
	if err != nil {
		return container.Registration{}, fmt.Errorf("%s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return container.Registration{Name: name, Spec: *spec}, nil
}

// selectRegistration picks the registration the goal's fulfillment names.
// A single registration serves any goal.
func selectRegistration(registry *container.Registry, f goal.Fulfillment) (container.Registration, error) {
	for _, name := range []string{f.Registration, f.Name} {
		if name == "" {
			continue
		}
		if reg, ok := registry.Get(name); ok {
			return reg, nil
		}
	}
	names := registry.Names()
	if len(names) == 1 {
		reg, _ := registry.Get(names[0])
		return reg, nil
	}
	return container.Registration{}, fmt.Errorf("no container registration for fulfillment %q (have %s)",
		f.Name, strings.Join(names, ", "))
}

// scriptExecutor runs script with sh in the project directory. The goal's
// identity is passed in the environment.
func scriptExecutor(processes *process.Runner, script string) orchestrator.ExecuteFunc {
	return func(ctx context.Context, inv goal.Invocation) (*goal.ExecutionResult, error) {
		var dir string
		if inv.Project != nil {
			dir = inv.Project.BaseDir
		}
		res := processes.Spawn(ctx, process.Command{Name: "sh", Args: []string{"-c", script}}, process.Options{
			Name: inv.Goal.Name,
			Dir:  dir,
			Env:  inv.IdentityEnv(),
			Log:  inv.Log(),
		})
		if !res.Failed {
			return &goal.ExecutionResult{Code: 0}, nil
		}
		code := res.Code
		if code == 0 {
			code = 1
		}
		return &goal.ExecutionResult{Code: code, Message: res.Message}, nil
	}
}

var dockerDaemonDown = regexp.MustCompile(`Cannot connect to the Docker daemon[^\n]*`)

func defaultInterpreter() interpret.Interpreter {
	return interpret.Chain(
		interpret.Pattern(dockerDaemonDown, "The Docker daemon is not reachable"),
		interpret.LastLines(20, "Last lines of the progress log"),
	)
}

// phaseMarker reports the phase set by a "::phase::<name>" line
func phaseMarker(line string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), PhaseMarker)
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

type outcome struct {
	Goal   goal.GoalEvent        `json:"goal"`
	Result *goal.ExecutionResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func printOutcome(w io.Writer, asJSON bool, g goal.GoalEvent, res *goal.ExecutionResult, execErr error) error {
	if asJSON {
		o := outcome{Goal: g, Result: res}
		if execErr != nil {
			o.Error = execErr.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	line := fmt.Sprintf("%s: %s", g.UniqueName, g.State)
	if g.Description != "" {
		line += " - " + g.Description
	}
	if g.URL != "" {
		line += " (" + g.URL + ")"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
