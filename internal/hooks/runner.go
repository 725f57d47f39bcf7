package hooks

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/process"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
)

// Stage is the point around a goal at which a hook script runs
type Stage string

const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
)

// DefaultDir is where hook scripts live inside a project
const DefaultDir = ".goalrun/hooks"

// Config controls the hook runner
type Config struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Dir     string        `yaml:"dir" json:"dir"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Runner executes the pre and post hook scripts a project provides
type Runner struct {
	cfg       Config
	loader    project.Loader
	processes *process.Runner
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewRunner creates a hook runner. The loader is used only when an
// invocation carries no project.
func NewRunner(cfg Config, loader project.Loader, processes *process.Runner, logger *log.Logger, m *metrics.Metrics) *Runner {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	if processes == nil {
		processes = process.NewRunner(cfg.Timeout, logger)
	}
	return &Runner{
		cfg:       cfg,
		loader:    loader,
		processes: processes,
		logger:    logger.With("component", "hooks"),
		metrics:   m,
	}
}

// Enabled reports whether hook scripts are run at all
func (r *Runner) Enabled() bool {
	return r.cfg.Enabled
}

// ScriptName returns the hook script name for a goal:
// <stage>-<environment>-<goal>, kebab-cased, with the ordering prefix of
// the environment ("0-code") dropped.
func ScriptName(stage Stage, environment, goalName string) string {
	env := environment
	if i := strings.IndexByte(env, '-'); i > 0 && isDigits(env[:i]) {
		env = env[i+1:]
	}
	return kebabCase(string(stage) + "-" + env + "-" + goalName)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func kebabCase(s string) string {
	var b strings.Builder
	dash := false
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && !dash && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			dash = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
		prev = r
	}
	return strings.TrimSuffix(b.String(), "-")
}

// RunHook runs the stage's hook script for the invocation's goal. Only the
// exit code and, on failure, a message are reported, so a successful hook
// never masks the goal's own result fields. A disabled runner reports a
// skipped result and a missing script reports success. The returned error covers failures to prepare
// the project; a failing script is reported through the result.
func (r *Runner) RunHook(ctx context.Context, stage Stage, inv goal.Invocation) (*goal.ExecutionResult, error) {
	out := inv.Log()
	script := ScriptName(stage, inv.Goal.Environment, inv.Goal.Name)

	if !r.cfg.Enabled {
		progress.Printf(out, "Hooks are disabled; skipping %s hook '%s'\n", stage, script)
		r.metrics.RecordHook(string(stage), "disabled")
		return goal.Skipped(fmt.Sprintf("%s hook '%s' skipped: hooks are disabled", stage, script)), nil
	}

	p, cleanup, err := r.project(ctx, inv)
	if err != nil {
		r.metrics.RecordHook(string(stage), "error")
		return nil, err
	}
	defer cleanup()

	rel := path.Join(r.cfg.Dir, script)
	progress.Printf(out, "--- Starting %s hook '%s' ---\n", stage, script)
	defer progress.Printf(out, "--- Finished %s hook '%s' ---\n", stage, script)

	if !p.HasFile(rel) {
		progress.Printf(out, "No %s hook '%s' found in %s; skipping\n", stage, script, r.cfg.Dir)
		r.metrics.RecordHook(string(stage), "skipped")
		return &goal.ExecutionResult{Code: 0}, nil
	}

	env := inv.IdentityEnv()
	env["GOALRUN_HOOK_STAGE"] = string(stage)
	res := r.processes.Spawn(ctx, process.Command{Name: p.Path(rel)}, process.Options{
		Name:    script,
		Dir:     p.BaseDir,
		Env:     env,
		Log:     out,
		Timeout: r.cfg.Timeout,
	})

	if !res.Failed {
		r.metrics.RecordHook(string(stage), "success")
		return &goal.ExecutionResult{Code: 0}, nil
	}

	r.metrics.RecordHook(string(stage), "failure")
	r.logger.Warn("hook failed", "stage", stage, "script", script, "code", res.Code, "signal", res.Signal)
	code := res.Code
	if code == 0 {
		code = 1
	}
	return &goal.ExecutionResult{
		Code:    code,
		Message: fmt.Sprintf("%s hook '%s' %s", stage, script, res.Message),
	}, nil
}

// project returns a read-only detached copy of the goal's project. Hooks
// never run in the caller's tree.
func (r *Runner) project(ctx context.Context, inv goal.Invocation) (*project.Project, func(), error) {
	loader := r.loader
	if inv.Project != nil {
		loader = project.LocalLoader{Source: inv.Project.BaseDir}
	}
	if loader == nil {
		return nil, nil, errors.New(errors.ErrCodeProjectLoad, "no project available for hooks")
	}

	dir, err := os.MkdirTemp("", "goalrun-hooks-")
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create hook project directory", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Debug("failed to remove hook project", "dir", dir, "error", err)
		}
	}
	p, err := loader.Load(ctx, inv.Goal.Ref(), project.LoadOptions{Dir: dir, ReadOnly: true, Detached: true, Depth: 1})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}
