// Package process runs child processes for goals and hooks, streaming their
// output to a progress log and normalizing how they ended.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/log"
)

const (
	// DefaultTimeout caps every spawned process unless overridden
	DefaultTimeout = 10 * time.Minute

	// CodeLaunchFailure is reported when the process could not be started
	CodeLaunchFailure = 126
	// CodeNotFound is reported when the executable does not exist
	CodeNotFound = 127
)

// Command is an executable and its arguments
type Command struct {
	Name string
	Args []string
}

// String renders the command for logs and messages
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// ErrorFinder decides whether a finished process failed
type ErrorFinder func(Result) bool

// DefaultErrorFinder fails on a non-zero exit code or a signal
func DefaultErrorFinder(r Result) bool {
	return r.Code != 0 || r.Signal != ""
}

// Options control a single spawn
type Options struct {
	// Name labels the handle; defaults to the executable name
	Name string
	Dir  string
	// Env entries override the inherited parent environment
	Env map[string]string
	// Log receives stdout and stderr
	Log     io.Writer
	Timeout time.Duration

	ErrorFinder ErrorFinder
}

// Result is the normalized outcome of a process
type Result struct {
	Code     int
	Signal   string
	Failed   bool
	TimedOut bool
	Message  string
	Err      error
	Duration time.Duration
}

// Runner spawns processes
type Runner struct {
	timeout time.Duration
	logger  *log.Logger
}

// NewRunner creates a runner whose spawns default to timeout. A zero timeout
// means DefaultTimeout.
func NewRunner(timeout time.Duration, logger *log.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Runner{timeout: timeout, logger: logger.With("component", "process")}
}

// Spawn runs the command to completion
func (r *Runner) Spawn(ctx context.Context, command Command, opts Options) Result {
	h, err := r.Start(ctx, command, opts)
	if err != nil {
		return launchResult(command, err)
	}
	return h.Wait(ctx)
}

// Start launches the command and returns without waiting for it
func (r *Runner) Start(ctx context.Context, command Command, opts Options) (*Handle, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	finder := opts.ErrorFinder
	if finder == nil {
		finder = DefaultErrorFinder
	}
	name := opts.Name
	if name == "" {
		name = command.Name
	}
	output := opts.Log
	if output == nil {
		output = io.Discard
	}

	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }

	r.logger.Debug("starting process", "name", name, "command", command.String(), "dir", opts.Dir, "timeout", timeout)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		Name:    name,
		command: command,
		cmd:     cmd,
		finder:  finder,
		started: started,
		done:    make(chan struct{}),
	}
	h.timer = time.AfterFunc(timeout, func() {
		h.timedOut.Store(true)
		_ = killGroup(cmd)
	})

	go h.wait(timeout, r.logger)
	return h, nil
}

// mergeEnv appends overrides to base in a stable order. Later entries win
// for os/exec.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := append([]string(nil), base...)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func launchResult(command Command, err error) Result {
	code := CodeLaunchFailure
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		code = CodeNotFound
	}
	return Result{
		Code:    code,
		Failed:  true,
		Message: fmt.Sprintf("Failed to start '%s': %v", command, err),
		Err:     err,
	}
}

// Handle is a running process
type Handle struct {
	Name string

	command  Command
	cmd      *exec.Cmd
	finder   ErrorFinder
	started  time.Time
	timer    *time.Timer
	timedOut atomic.Bool
	killOnce sync.Once
	killErr  error

	done   chan struct{}
	result Result
}

func (h *Handle) wait(timeout time.Duration, logger *log.Logger) {
	defer close(h.done)
	err := h.cmd.Wait()
	h.timer.Stop()

	res := Result{Duration: time.Since(h.started)}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.Code, res.Signal = exitStatus(exitErr.ProcessState)
	default:
		res.Code = -1
		res.Err = err
	}
	res.TimedOut = h.timedOut.Load()
	res.Failed = res.Err != nil || h.finder(res)

	switch {
	case res.TimedOut:
		res.Message = fmt.Sprintf("Process '%s' timed out after %s", h.command, timeout)
	case res.Signal != "":
		res.Message = fmt.Sprintf("Process '%s' killed by %s", h.command, res.Signal)
	case res.Failed:
		res.Message = fmt.Sprintf("Process '%s' failed with exit code %d", h.command, res.Code)
	default:
		res.Message = fmt.Sprintf("Process '%s' completed", h.command)
	}
	h.result = res

	logger.Debug("process exited", "name", h.Name, "code", res.Code, "signal", res.Signal, "duration", res.Duration)
}

// Done is closed once the process has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits or ctx is done. An abandoned wait
// leaves the process running; use Kill to stop it.
func (h *Handle) Wait(ctx context.Context) Result {
	select {
	case <-h.done:
		return h.result
	case <-ctx.Done():
		return Result{Code: -1, Failed: true, Err: ctx.Err(), Message: fmt.Sprintf("Stopped waiting for '%s': %v", h.command, ctx.Err())}
	}
}

// Kill terminates the process group with SIGKILL. It is safe to call more
// than once and after the process has exited.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		h.killErr = killGroup(h.cmd)
	})
	return h.killErr
}
