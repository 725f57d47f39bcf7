package container

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/process"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
	"github.com/felixgeelhaar/goalrun/internal/secret"
	"github.com/felixgeelhaar/goalrun/internal/telemetry"
)

// SuccessMessage is reported when the primary container succeeds without
// writing a result descriptor
const SuccessMessage = "Successfully completed container job"

// sidecarGrace bounds how long a killed sidecar is awaited for its result
const sidecarGrace = 10 * time.Second

// Config controls container fulfillment
type Config struct {
	// TempDir roots job directories; empty uses the OS temp dir
	TempDir string
	// Pull ensures images through the image cache before launching
	Pull            bool
	PullConcurrency int
	ImageCacheDir   string
	ImageMaxAge     time.Duration
	ImageAllowlist  []string
	// ManifestDir receives a run manifest per container; empty disables
	ManifestDir string
}

// Executor runs container registrations as goal implementations
type Executor struct {
	cfg     Config
	runtime Runtime
	loader  project.Loader
	secrets secret.Resolver
	policy  ImagePolicy
	images  *ImageCache
	logger  *log.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor. loader materializes the project when the
// invocation carries none. When cfg.Pull is set and rt manages images, an
// image cache is created.
func NewExecutor(cfg Config, rt Runtime, loader project.Loader, secrets secret.Resolver, logger *log.Logger, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	e := &Executor{
		cfg:     cfg,
		runtime: rt,
		loader:  loader,
		secrets: secrets,
		policy:  ImagePolicy{Allowlist: cfg.ImageAllowlist},
		logger:  logger.With("component", "container"),
		metrics: m,
	}
	if ir, ok := rt.(ImageRuntime); ok && cfg.Pull {
		maxAge := cfg.ImageMaxAge
		if maxAge <= 0 {
			maxAge = 24 * time.Hour
		}
		e.images = NewImageCache(cfg.ImageCacheDir, maxAge, ir, logger, m)
		if err := e.images.LoadManifest(); err != nil {
			e.logger.Warn("failed to load image cache manifest", "error", err)
		}
	}
	return e
}

// Fulfill returns a goal implementation that runs reg
func (e *Executor) Fulfill(reg Registration) func(context.Context, goal.Invocation) (*goal.ExecutionResult, error) {
	return func(ctx context.Context, inv goal.Invocation) (*goal.ExecutionResult, error) {
		return e.ExecuteContainers(ctx, reg, inv)
	}
}

// running is a launched container
type running struct {
	container GoalContainer
	spec      RunSpec
	role      string
	proc      Process
	out       *prefixWriter
	span      trace.Span
	stopped   bool
}

// job holds the resources of one ExecuteContainers call. Cleanups run in
// reverse order on every exit path.
type job struct {
	inv      goal.Invocation
	paths    Paths
	out      progress.Log
	logger   *log.Logger
	outMu    sync.Mutex
	running  []*running
	cleanups []func(context.Context)
}

func (j *job) onCleanup(fn func(context.Context)) {
	j.cleanups = append(j.cleanups, fn)
}

func (j *job) cleanup(ctx context.Context) {
	for i := len(j.cleanups) - 1; i >= 0; i-- {
		j.cleanups[i](ctx)
	}
}

// ExecuteContainers runs the registration's containers for inv. Only the
// primary container is awaited; sidecars are killed once it exits. Changes
// the containers make to the project are mirrored back onto inv.Project.
// An error is returned for an empty spec and a spec callback failure;
// every other problem is reported as a failed result.
func (e *Executor) ExecuteContainers(ctx context.Context, reg Registration, inv goal.Invocation) (*goal.ExecutionResult, error) {
	started := time.Now()
	defer func() { e.metrics.RecordContainerJob(reg.Name, time.Since(started)) }()

	j := &job{
		inv:   inv,
		paths: NewPaths(e.cfg.TempDir, inv.Goal),
		out:   inv.Log(),
	}
	j.logger = e.logger.With("registration", reg.Name, "goal", inv.Goal.UniqueName, "network", j.paths.Network)
	defer j.cleanup(context.WithoutCancel(ctx))

	if err := os.MkdirAll(j.paths.Root, 0750); err != nil {
		return e.failure(j, fmt.Sprintf("Failed to create job directory: %v", err)), nil
	}
	j.onCleanup(func(context.Context) {
		if err := os.RemoveAll(j.paths.Root); err != nil {
			j.logger.Warn("failed to remove job directory", "dir", j.paths.Root, "error", err)
		}
	})

	if _, err := e.materialize(ctx, inv, j.paths.Project); err != nil {
		return e.failure(j, fmt.Sprintf("Failed to prepare project: %v", firstLine(err))), nil
	}

	spec, err := reg.Resolve(ctx, inv)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeContainerPrepare, fmt.Sprintf("failed to resolve container spec for %s", reg.Name), err)
	}
	if len(spec.Containers) == 0 {
		return nil, errors.NewEmptyContainerSpecError(reg.Name)
	}

	if err := e.prepareIO(j); err != nil {
		return e.failure(j, fmt.Sprintf("Failed to prepare container job: %v", err)), nil
	}

	if err := e.runtime.CreateNetwork(ctx, j.paths.Network); err != nil {
		return e.failure(j, fmt.Sprintf("Failed to create network %s: %v", j.paths.Network, firstLine(err))), nil
	}
	j.onCleanup(func(ctx context.Context) {
		if err := e.runtime.RemoveNetwork(ctx, j.paths.Network); err != nil {
			j.logger.Warn("failed to remove network", "error", err)
		}
	})

	failures := e.launch(ctx, j, spec)
	j.onCleanup(func(ctx context.Context) { e.stopSidecars(ctx, j, true) })
	if len(failures) > 0 {
		msg := "Failed to start containers: " + strings.Join(failures, ", ")
		return e.failure(j, msg), nil
	}

	primary := j.running[0]
	res := primary.proc.Wait(ctx)
	primary.out.Flush()
	primary.stopped = true
	e.finishSpan(primary, res)
	e.writeManifest(j, primary, res)
	progress.Printf(j.out, "Primary container '%s' exited with code %d\n", primary.container.Name, res.Code)

	e.stopSidecars(context.WithoutCancel(ctx), j, false)

	if err := e.mirrorBack(j); err != nil {
		return e.failure(j, fmt.Sprintf("Failed to copy project changes back: %v", err)), nil
	}

	if res.Failed {
		j.logger.Warn("primary container failed", "container", primary.container.Name, "code", res.Code, "signal", res.Signal)
		code := res.Code
		if code == 0 {
			code = 1
		}
		msg := fmt.Sprintf("Container '%s' failed", primary.container.Name)
		progress.Println(j.out, msg)
		return &goal.ExecutionResult{Code: code, Message: msg}, nil
	}

	if parsed := e.readResult(j); parsed != nil {
		return parsed, nil
	}
	progress.Println(j.out, SuccessMessage)
	return goal.Success(SuccessMessage), nil
}

func (e *Executor) failure(j *job, msg string) *goal.ExecutionResult {
	progress.Println(j.out, msg)
	j.logger.Warn("container job failed", "reason", msg)
	return goal.Failure(msg)
}

// materialize places a shallow, detached copy of the project in dir
func (e *Executor) materialize(ctx context.Context, inv goal.Invocation, dir string) (*project.Project, error) {
	opts := project.LoadOptions{Dir: dir, Detached: true, Depth: 1}
	ref := inv.Goal.Ref()
	if inv.Project != nil {
		return project.LocalLoader{Source: inv.Project.BaseDir}.Load(ctx, ref, opts)
	}
	if e.loader == nil {
		return nil, errors.New(errors.ErrCodeProjectLoad, "no project loader configured")
	}
	return e.loader.Load(ctx, ref, opts)
}

// prepareIO writes the goal descriptor and an empty output directory
func (e *Executor) prepareIO(j *job) error {
	if err := os.MkdirAll(j.paths.Input, 0750); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}
	if err := os.MkdirAll(j.paths.Output, 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	data, err := json.MarshalIndent(j.inv.Goal, "", "  ")
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.paths.Input, GoalFile), data, 0644); err != nil {
		return fmt.Errorf("write goal descriptor: %w", err)
	}
	return nil
}

// baseEnv is the environment every container of the job receives
func baseEnv(inv goal.Invocation) map[string]string {
	env := inv.IdentityEnv()
	env["GOALRUN_SLUG"] = inv.Goal.Repo.Slug()
	env["GOALRUN_VERSION"] = inv.Goal.SemVer()
	env["GOALRUN_INPUT_DIR"] = ContainerInputDir
	env["GOALRUN_OUTPUT_DIR"] = ContainerOutputDir
	env["GOALRUN_PROJECT_DIR"] = ContainerProjectDir
	env["GOALRUN_GOAL_FILE"] = path.Join(ContainerInputDir, GoalFile)
	env["GOALRUN_RESULT_FILE"] = path.Join(ContainerOutputDir, ResultFile)
	return env
}

// launch starts every container in order without waiting for any of them.
// Launch failures are collected for all containers.
func (e *Executor) launch(ctx context.Context, j *job, spec Spec) []string {
	var imageErrs map[string]error
	if e.images != nil {
		images := make([]string, 0, len(spec.Containers))
		for _, c := range spec.Containers {
			if e.policy.Check(c.Image) == nil {
				images = append(images, c.Image)
			}
		}
		imageErrs = e.images.Prewarm(ctx, images, e.cfg.PullConcurrency)
	}

	var failures []string
	for i, c := range spec.Containers {
		role := "sidecar"
		if i == 0 {
			role = "primary"
		}

		run, err := e.runSpec(ctx, j, spec, c, i == 0, imageErrs[c.Image])
		var proc Process
		var out *prefixWriter
		if err == nil {
			prefix := ""
			if len(spec.Containers) > 1 {
				prefix = "[" + c.Name + "] "
			}
			out = newPrefixWriter(&j.outMu, j.out, prefix)
			proc, err = e.runtime.Start(ctx, run, out)
		}
		if err != nil {
			e.metrics.RecordContainerLaunch(role, false)
			j.logger.Warn("failed to launch container", "container", c.Name, "image", c.Image, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %s", c.Name, firstLine(err)))
			continue
		}

		e.metrics.RecordContainerLaunch(role, true)
		_, span := telemetry.StartContainerSpan(ctx, c.Name, c.Image, role)
		j.running = append(j.running, &running{
			container: c,
			spec:      run,
			role:      role,
			proc:      proc,
			out:       out,
			span:      span,
		})
		progress.Printf(j.out, "Started %s container '%s' (%s)\n", role, c.Name, c.Image)
	}
	return failures
}

// runSpec computes the runtime invocation of one container and resolves
// its secrets
func (e *Executor) runSpec(ctx context.Context, j *job, spec Spec, c GoalContainer, primary bool, imageErr error) (RunSpec, error) {
	if err := e.policy.Check(c.Image); err != nil {
		return RunSpec{}, err
	}
	if imageErr != nil {
		return RunSpec{}, fmt.Errorf("image %s unavailable: %w", c.Image, imageErr)
	}

	mounts := []Mount{
		{Source: j.paths.Project, Target: ContainerProjectDir},
		{Source: j.paths.Input, Target: ContainerInputDir},
		{Source: j.paths.Output, Target: ContainerOutputDir},
	}
	for _, vm := range c.VolumeMounts {
		v, ok := spec.Volume(vm.Name)
		if !ok {
			return RunSpec{}, fmt.Errorf("unknown volume %q", vm.Name)
		}
		mounts = append(mounts, Mount{Source: v.HostPath, Target: vm.MountPath, ReadOnly: vm.ReadOnly})
	}

	env := baseEnv(j.inv)
	for _, v := range c.Env {
		env[v.Name] = v.Value
	}

	materialized, err := e.secrets.WithCredentials(j.inv.Credentials).Materialize(ctx, c.Secrets, j.paths.Input)
	if err != nil {
		return RunSpec{}, fmt.Errorf("failed to resolve secrets: %w", err)
	}
	j.onCleanup(func(context.Context) {
		if err := materialized.Cleanup(); err != nil {
			j.logger.Warn("failed to remove secret files", "container", c.Name, "error", err)
		}
	})
	for k, v := range materialized.Env {
		env[k] = v
	}
	for _, f := range materialized.Files {
		if f.Env != "" {
			env[f.Env] = path.Join(ContainerInputDir, secret.SecretsDir, f.Name)
		}
	}

	run := RunSpec{
		Name:       j.paths.ContainerName(c.Name),
		Alias:      c.Name,
		Image:      c.Image,
		Network:    j.paths.Network,
		Args:       append([]string(nil), c.Args...),
		Env:        env,
		Ports:      c.Ports,
		Mounts:     mounts,
		WorkingDir: c.WorkingDir,
		Options:    spec.Options,
	}
	if len(c.Command) > 0 {
		run.Entrypoint = c.Command[0]
		run.Args = append(append([]string(nil), c.Command[1:]...), c.Args...)
	}
	if primary && run.WorkingDir == "" {
		run.WorkingDir = ContainerProjectDir
	}
	return run, nil
}

// stopSidecars kills every container not yet stopped. Sidecar outcomes are
// logged and never fail the job.
func (e *Executor) stopSidecars(ctx context.Context, j *job, all bool) {
	for _, r := range j.running {
		if r.stopped {
			continue
		}
		if r.role == "primary" && !all {
			continue
		}
		r.stopped = true

		if err := e.runtime.Kill(ctx, r.spec.Name); err != nil {
			j.logger.Warn("failed to kill container", "container", r.container.Name, "error", err)
		}
		if err := r.proc.Kill(); err != nil {
			j.logger.Debug("failed to kill container process", "container", r.container.Name, "error", err)
		}

		waitCtx, cancel := context.WithTimeout(ctx, sidecarGrace)
		res := r.proc.Wait(waitCtx)
		cancel()
		r.out.Flush()
		e.finishSpan(r, res)
		e.writeManifest(j, r, res)
		j.logger.Debug("container stopped", "container", r.container.Name, "role", r.role, "code", res.Code, "signal", res.Signal)
	}
}

func (e *Executor) finishSpan(r *running, res process.Result) {
	if r.span == nil {
		return
	}
	if res.Failed && r.role == "primary" {
		telemetry.RecordError(r.span, fmt.Errorf("%s", res.Message))
	} else {
		telemetry.RecordSuccess(r.span, attribute.Int("exit_code", res.Code))
	}
	r.span.End()
	r.span = nil
}

// mirrorBack copies the scratch project onto the invocation's project
func (e *Executor) mirrorBack(j *job) error {
	p := j.inv.Project
	if p == nil {
		return nil
	}
	if p.ReadOnly {
		progress.Printf(j.out, "Project at %s is read-only; container changes are not copied back\n", p.BaseDir)
		return nil
	}
	stats, err := p.SyncFrom(j.paths.Project)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProjectMirror, "failed to mirror project", err)
	}
	if stats.Changed() {
		progress.Printf(j.out, "Updated project: %d added, %d updated, %d removed\n", stats.Added, stats.Updated, stats.Removed)
	}
	return nil
}

// readResult returns the parsed result descriptor, or nil when there is
// none or it is malformed
func (e *Executor) readResult(j *job) *goal.ExecutionResult {
	res, side, ok, err := ReadResult(filepath.Join(j.paths.Output, ResultFile))
	if err != nil {
		progress.Printf(j.out, "Ignoring malformed %s: %v\n", ResultFile, firstLine(err))
		j.logger.Warn("malformed result descriptor", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	if !side.Empty() {
		j.logger.Info("container reported build metadata", "builds", len(side.Builds), "images", len(side.Images), "version", side.Version)
		for _, img := range side.Images {
			progress.Printf(j.out, "Produced image %s\n", img.ImageName)
		}
	}
	return res
}

func (e *Executor) writeManifest(j *job, r *running, res process.Result) {
	if e.cfg.ManifestDir == "" {
		return
	}
	command := append([]string(nil), r.spec.Args...)
	if r.spec.Entrypoint != "" {
		command = append([]string{r.spec.Entrypoint}, command...)
	}
	m := &RunManifest{
		Timestamp: time.Now(),
		GoalSetID: pathSegment(j.inv.Goal.GoalSetID),
		Goal:      j.inv.Goal.UniqueName,
		Container: r.container.Name,
		Role:      r.role,
		Image:     r.container.Image,
		Command:   command,
		ExitCode:  res.Code,
		Signal:    res.Signal,
		Duration:  res.Duration.String(),
	}
	if err := m.AddInputHash(GoalFile, filepath.Join(j.paths.Input, GoalFile)); err != nil {
		j.logger.Debug("failed to hash goal descriptor", "error", err)
	}
	if resultPath := filepath.Join(j.paths.Output, ResultFile); fileExists(resultPath) {
		if err := m.AddOutputHash(ResultFile, resultPath); err != nil {
			j.logger.Debug("failed to hash result descriptor", "error", err)
		}
	}
	if _, err := SaveManifest(m, e.cfg.ManifestDir); err != nil {
		j.logger.Warn("failed to save run manifest", "container", r.container.Name, "error", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
