// Package orchestrator drives one goal from requested to a terminal state:
// it runs the pre hook, the goal's implementation and the post hook,
// notifies execution listeners and persists every status change.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/hooks"
	"github.com/felixgeelhaar/goalrun/internal/interpret"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/notify"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
	"github.com/felixgeelhaar/goalrun/internal/store"
	"github.com/felixgeelhaar/goalrun/internal/telemetry"
)

// ExecuteFunc is a goal's implementation. A nil result is a success.
type ExecuteFunc func(ctx context.Context, inv goal.Invocation) (*goal.ExecutionResult, error)

// Implementation is everything needed to execute one kind of goal
type Implementation struct {
	Name    string
	Execute ExecuteFunc
	// ProjectListeners run on the project before and after Execute
	ProjectListeners []goal.ProjectListener
	// LogInterpreter explains a failed execution's log to users
	LogInterpreter   interpret.Interpreter
	ProgressReporter ProgressReporter
}

// HookRunner runs a stage's hook script
type HookRunner interface {
	RunHook(ctx context.Context, stage hooks.Stage, inv goal.Invocation) (*goal.ExecutionResult, error)
}

// Config controls the orchestrator
type Config struct {
	HooksEnabled bool
	// LazyProject defers loading a missing project until the hooks passed
	LazyProject  bool
	ProjectDepth int
}

// Services are the collaborators of the orchestrator. Every one of them is
// optional.
type Services struct {
	Hooks     HookRunner
	Listeners *hooks.Registry
	Store     store.Store
	Notifier  notify.Notifier
	Loader    project.Loader
	Logger    *log.Logger
	Metrics   *metrics.Metrics
}

// Orchestrator executes goals
type Orchestrator struct {
	cfg       Config
	hooks     HookRunner
	listeners *hooks.Registry
	store     store.Store
	notifier  notify.Notifier
	loader    project.Loader
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// New creates an orchestrator
func New(cfg Config, svc Services) *Orchestrator {
	logger := svc.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}
	notifier := svc.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	if cfg.ProjectDepth <= 0 {
		cfg.ProjectDepth = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		hooks:     svc.Hooks,
		listeners: svc.Listeners,
		store:     svc.Store,
		notifier:  notifier,
		loader:    svc.Loader,
		logger:    logger.With("component", "orchestrator"),
		metrics:   svc.Metrics,
	}
}

// Execute runs impl for the goal of inv. A canceled goal is not executed.
// On failure the returned result is the failure that was persisted and the
// error is the *Fault that caused it.
func (o *Orchestrator) Execute(ctx context.Context, impl Implementation, inv goal.Invocation) (*goal.ExecutionResult, error) {
	started := time.Now()
	ctx, span := telemetry.StartGoalSpan(ctx, telemetry.GoalAttributes{
		Name:        inv.Goal.Name,
		UniqueName:  inv.Goal.UniqueName,
		GoalSetID:   inv.Goal.GoalSetID,
		Environment: inv.Goal.Environment,
		Repo:        inv.Goal.Repo.Slug(),
		SHA:         inv.Goal.SHA,
	})
	defer span.End()

	logger := o.logger.ForGoal(inv.Goal.GoalSetID, inv.Goal.UniqueName, inv.Context.CorrelationID)
	name := impl.Name
	if name == "" {
		name = inv.Goal.Name
	}

	// Step 0: a goal canceled after it was requested is never started
	if o.canceled(ctx, inv.Goal, logger) {
		progress.Printf(inv.Log(), "Goal %s was canceled; not executing it\n", inv.Goal.UniqueName)
		o.metrics.RecordGoal(name, string(goal.StateCanceled), time.Since(started))
		telemetry.RecordSuccess(span)
		return &goal.ExecutionResult{State: goal.StateCanceled, Message: "Goal canceled"}, nil
	}

	t := &tracker{current: inv.Goal, store: o.store, logger: logger, metrics: o.metrics}

	// Step 1: mark in process
	inv.Goal = t.apply(ctx, goal.StatusPatch{
		State:       goal.StateInProcess,
		Description: fmt.Sprintf("Executing %s", inv.Goal.Name),
		URL:         inv.Log().URL(),
	})
	inv = withPhaseReporting(ctx, inv, impl.ProgressReporter, t)

	// Step 2: notify listeners
	o.trigger(ctx, hooks.EventInProcess, inv, nil, nil, logger)

	pre, res, post, fault := o.run(ctx, impl, inv, logger)
	if fault != nil {
		failed := o.fail(ctx, impl, inv, t, fault, logger)
		o.metrics.RecordGoal(name, string(goal.StateFailure), time.Since(started))
		if code := errors.GetCode(fault); code != "" {
			o.metrics.RecordError(string(code))
		}
		telemetry.RecordError(span, fault)
		return failed, fault
	}

	// Step 7: success
	merged := goal.MergeResults(pre, res, post)
	inv.Goal = t.apply(ctx, merged.ToPatch(goal.StateSuccess))
	o.trigger(ctx, hooks.EventSuccess, inv, merged, nil, logger)
	o.flush(ctx, inv, logger)

	o.metrics.RecordGoal(name, string(inv.Goal.State), time.Since(started))
	telemetry.RecordSuccess(span)
	logger.Info("goal executed", "state", inv.Goal.State, "duration", time.Since(started))
	return merged, nil
}

// canceled reports whether the stored goal was canceled
func (o *Orchestrator) canceled(ctx context.Context, g goal.GoalEvent, logger *log.Logger) bool {
	if o.store == nil {
		return g.State == goal.StateCanceled
	}
	stored, err := o.store.Get(ctx, g.Key())
	if err != nil {
		if !stderrors.Is(err, store.ErrNotFound) {
			logger.WithError(err).Warn("failed to read goal status")
		}
		return g.State == goal.StateCanceled
	}
	return stored.State == goal.StateCanceled
}

// run executes steps 3 to 6. Skipped hooks report nil results so they
// never contribute to the merged result.
func (o *Orchestrator) run(ctx context.Context, impl Implementation, inv goal.Invocation, logger *log.Logger) (pre, res, post *goal.ExecutionResult, fault *Fault) {
	// Step 3: pre hook
	pre, fault = o.runHook(ctx, hooks.StagePre, inv)
	if fault != nil {
		return nil, nil, nil, fault
	}

	// Step 4: the goal itself
	res, err := o.executeGoal(ctx, impl, inv, logger)
	if err != nil {
		return nil, nil, nil, &Fault{Where: WhereGoal, Result: res, Cause: err}
	}

	// Step 5: a failed result fails the goal
	if res.IsFailure() {
		return nil, nil, nil, &Fault{
			Where:  WhereGoal,
			Result: res,
			Cause:  errors.New(errors.ErrCodeGoalFailed, resultMessage(res, "goal failed")),
		}
	}

	// Step 6: post hook
	post, fault = o.runHook(ctx, hooks.StagePost, inv)
	if fault != nil {
		return nil, nil, nil, fault
	}
	return pre, res, post, nil
}

func (o *Orchestrator) runHook(ctx context.Context, stage hooks.Stage, inv goal.Invocation) (*goal.ExecutionResult, *Fault) {
	where, code := WherePreHook, errors.ErrCodeHookPreFailed
	if stage == hooks.StagePost {
		where, code = WherePostHook, errors.ErrCodeHookPostFailed
	}

	if !o.cfg.HooksEnabled || o.hooks == nil {
		progress.Printf(inv.Log(), "Hooks are disabled; skipping %s hook\n", stage)
		return nil, nil
	}

	ctx, span := telemetry.StartStageSpan(ctx, string(stage)+"-hook")
	defer span.End()

	res, err := o.hooks.RunHook(ctx, stage, inv)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &Fault{Where: where, Cause: errors.Wrap(errors.ErrCodeHookLaunch, fmt.Sprintf("failed to run %s hook", stage), err)}
	}
	if res.IsFailure() {
		cause := errors.New(code, resultMessage(res, fmt.Sprintf("%s hook failed", stage)))
		telemetry.RecordError(span, cause)
		return nil, &Fault{Where: where, Result: res, Cause: cause}
	}
	telemetry.RecordSuccess(span)
	if res != nil && res.State == goal.StateSkipped {
		return nil, nil
	}
	return res, nil
}

// executeGoal runs the project listeners around the implementation. A
// panic is reported as an error with its stack written to the progress log.
func (o *Orchestrator) executeGoal(ctx context.Context, impl Implementation, inv goal.Invocation, logger *log.Logger) (res *goal.ExecutionResult, err error) {
	ctx, span := telemetry.StartStageSpan(ctx, "goal")
	defer span.End()

	out := inv.Log()
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			progress.Printf(out, "Goal %s panicked: %v\n%s\n", inv.Goal.UniqueName, r, stack)
			logger.Error("goal implementation panicked", "panic", fmt.Sprint(r))
			res = nil
			err = errors.New(errors.ErrCodeGoalPanicked, fmt.Sprintf("goal panicked: %v", r))
		}
		if err != nil {
			telemetry.RecordError(span, err)
		}
	}()

	if impl.Execute == nil {
		return nil, errors.New(errors.ErrCodeGoalNotFound, fmt.Sprintf("no implementation for goal %s", inv.Goal.Name))
	}

	if inv.Project == nil && o.cfg.LazyProject && o.loader != nil {
		p, cleanup, err := o.loadProject(ctx, inv)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		inv.Project = p
	}

	o.runProjectListeners(ctx, impl, inv, goal.ProjectBefore, nil, logger)

	res, err = impl.Execute(ctx, inv)
	if err != nil {
		progress.Printf(out, "Error executing goal %s: %v\n", inv.Goal.UniqueName, err)
		return res, err
	}

	o.runProjectListeners(ctx, impl, inv, goal.ProjectAfter, res, logger)
	if res == nil {
		res = goal.Success("")
	}
	return res, nil
}

// runProjectListeners runs the listeners handling event in order. Listener
// failures are reported and never fail the goal.
func (o *Orchestrator) runProjectListeners(ctx context.Context, impl Implementation, inv goal.Invocation, event goal.ProjectEvent, res *goal.ExecutionResult, logger *log.Logger) {
	if inv.Project == nil {
		return
	}
	for _, l := range impl.ProjectListeners {
		if !l.Handles(event) || l.Listen == nil {
			continue
		}
		err := l.Listen(ctx, inv, event, res)
		o.metrics.RecordListener(l.Name, string(event), err == nil)
		if err != nil {
			progress.Printf(inv.Log(), "Project listener %s failed: %v\n", l.Name, err)
			logger.WithError(err).Warn("project listener failed", "listener", l.Name, "event", event)
		}
	}
}

// trigger notifies execution listeners. Their failures never change the
// goal's outcome.
func (o *Orchestrator) trigger(ctx context.Context, eventType hooks.EventType, inv goal.Invocation, res *goal.ExecutionResult, cause error, logger *log.Logger) {
	if o.listeners == nil {
		return
	}
	if err := o.listeners.Trigger(ctx, hooks.NewEvent(eventType, inv, res, cause)); err != nil {
		logger.WithError(err).Warn("execution listener failed", "event", eventType)
	}
}

// fail is step 8: notify, explain the failure and persist it
func (o *Orchestrator) fail(ctx context.Context, impl Implementation, inv goal.Invocation, t *tracker, fault *Fault, logger *log.Logger) *goal.ExecutionResult {
	out := inv.Log()
	progress.Printf(out, "Error %s: %v\n", fault.Where, firstLine(fault.Cause, fault.Result))
	logger.WithError(fault.Cause).Warn("goal failed", "where", fault.Where)

	failed := &goal.ExecutionResult{}
	if fault.Result != nil {
		*failed = *fault.Result
	}
	failed.Code = fault.Code()
	failed.State = goal.StateFailure
	if failed.Message == "" {
		failed.Message = fault.Error()
	}
	if failed.Description == "" {
		failed.Description = fmt.Sprintf("Failed %s", fault.Where)
	}

	o.trigger(ctx, hooks.EventFailure, inv, failed, fault, logger)
	o.flush(ctx, inv, logger)
	o.report(ctx, impl, inv, fault, logger)

	t.apply(ctx, failed.ToPatch(goal.StateFailure))
	return failed
}

// report sends the interpretation of the failed log to the addressed
// channel, or a generic notice when no interpreter explains it
func (o *Orchestrator) report(ctx context.Context, impl Implementation, inv goal.Invocation, fault *Fault, logger *log.Logger) {
	out := inv.Log()
	notice := notify.Notice{
		Goal:    inv.Goal,
		Context: inv.Context,
		LogURL:  out.URL(),
	}

	var interpretation *interpret.Interpretation
	if impl.LogInterpreter != nil {
		interpretation = impl.LogInterpreter(out.Contents())
	}

	switch {
	case interpretation != nil && interpretation.DoNotReportToUser:
		logger.Debug("failure interpretation suppresses the notice")
		return
	case interpretation != nil:
		notice.Title = fmt.Sprintf("Goal %s failed", inv.Goal.Name)
		notice.Message = interpretation.Message
		notice.RelevantPart = interpretation.RelevantPart
		if interpretation.Message != "" {
			progress.Println(out, interpretation.Message)
		}
	default:
		notice.Title = "Failure executing goal"
		notice.Message = fmt.Sprintf("Failure executing goal %s (%s)", inv.Goal.Name, fault.Where)
		if notice.LogURL != "" {
			notice.Message += fmt.Sprintf(". Full log: %s", notice.LogURL)
		}
	}

	if err := o.notifier.Notify(ctx, notice); err != nil {
		logger.WithError(err).Warn("failed to send failure notice")
	}
}

func (o *Orchestrator) flush(ctx context.Context, inv goal.Invocation, logger *log.Logger) {
	if err := inv.Log().Flush(ctx); err != nil {
		logger.Debug("failed to flush progress log", "error", err)
	}
}

func (o *Orchestrator) loadProject(ctx context.Context, inv goal.Invocation) (*project.Project, func(), error) {
	dir, err := os.MkdirTemp("", "goalrun-project-")
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create project directory", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Debug("failed to remove project directory", "dir", dir, "error", err)
		}
	}
	p, err := o.loader.Load(ctx, inv.Goal.Ref(), project.LoadOptions{Dir: dir, Detached: true, Depth: o.cfg.ProjectDepth})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

func resultMessage(res *goal.ExecutionResult, fallback string) string {
	if res != nil {
		if res.Message != "" {
			return res.Message
		}
		if res.Description != "" {
			return res.Description
		}
	}
	return fallback
}

func firstLine(err error, res *goal.ExecutionResult) string {
	msg := resultMessage(res, "failed")
	if err != nil {
		msg = err.Error()
	}
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}
