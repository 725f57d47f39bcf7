package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/process"
)

// DockerRuntime drives containers through the docker CLI
type DockerRuntime struct {
	processes *process.Runner
	binary    string
	// timeout caps each container; zero uses the runner's default
	timeout time.Duration
	logger  *log.Logger
}

// NewDockerRuntime creates a runtime invoking the docker binary. A zero
// timeout uses the process runner's default ceiling.
func NewDockerRuntime(processes *process.Runner, timeout time.Duration, logger *log.Logger) *DockerRuntime {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &DockerRuntime{
		processes: processes,
		binary:    "docker",
		timeout:   timeout,
		logger:    logger.With("component", "docker"),
	}
}

// docker runs a short docker command and returns its combined output
func (d *DockerRuntime) docker(ctx context.Context, args ...string) (string, process.Result) {
	var out bytes.Buffer
	res := d.processes.Spawn(ctx, process.Command{Name: d.binary, Args: args}, process.Options{
		Log:     &out,
		Timeout: 2 * time.Minute,
	})
	return strings.TrimSpace(out.String()), res
}

func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string) error {
	out, res := d.docker(ctx, "network", "create", "--driver", "bridge", name)
	if res.Failed {
		return errors.Wrap(errors.ErrCodeContainerNetwork, fmt.Sprintf("failed to create network %s", name), fmt.Errorf("%s: %s", res.Message, out))
	}
	return nil
}

func (d *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	out, res := d.docker(ctx, "network", "rm", name)
	if res.Failed {
		return fmt.Errorf("failed to remove network %s: %s: %s", name, res.Message, out)
	}
	return nil
}

func (d *DockerRuntime) Start(ctx context.Context, spec RunSpec, out io.Writer) (Process, error) {
	h, err := d.processes.Start(ctx, process.Command{Name: d.binary, Args: buildRunArgs(spec)}, process.Options{
		Name:    spec.Name,
		Env:     spec.Env,
		Log:     out,
		Timeout: d.timeout,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeContainerLaunch, fmt.Sprintf("failed to run %s", d.binary), err)
	}
	return h, nil
}

func (d *DockerRuntime) Kill(ctx context.Context, name string) error {
	out, res := d.docker(ctx, "rm", "--force", name)
	if res.Failed && !strings.Contains(out, "No such container") {
		return fmt.Errorf("failed to remove container %s: %s: %s", name, res.Message, out)
	}
	return nil
}

// Pull pulls an image
func (d *DockerRuntime) Pull(ctx context.Context, image string) error {
	out, res := d.docker(ctx, "pull", "--quiet", image)
	if res.Failed {
		return fmt.Errorf("failed to pull image %s: %s", image, out)
	}
	return nil
}

// ImageExists checks if an image exists locally
func (d *DockerRuntime) ImageExists(ctx context.Context, image string) (bool, error) {
	out, res := d.docker(ctx, "image", "inspect", "--format", "{{.Id}}", image)
	if !res.Failed {
		return true, nil
	}
	if strings.Contains(out, "No such") || res.Code == 1 {
		return false, nil
	}
	return false, fmt.Errorf("docker image inspect failed: %s: %s", res.Message, out)
}

// Available checks that the docker daemon answers
func (d *DockerRuntime) Available(ctx context.Context) error {
	out, res := d.docker(ctx, "version", "--format", "{{.Server.Version}}")
	if res.Failed {
		return errors.NewDockerNotAvailableError(fmt.Errorf("%s: %s", res.Message, out))
	}
	return nil
}

// runOptionFlags maps spec options onto docker run flags, in emission order
var runOptionFlags = []struct {
	key     string
	flag    string
	boolean bool
}{
	{"cpus", "--cpus", false},
	{"memory", "--memory", false},
	{"pids-limit", "--pids-limit", false},
	{"user", "--user", false},
	{"platform", "--platform", false},
	{"cap-drop", "--cap-drop", false},
	{"read-only", "--read-only", true},
	{"init", "--init", true},
}

// buildRunArgs constructs the docker run arguments. Environment values are
// passed by name only; docker reads them from its own environment.
func buildRunArgs(spec RunSpec) []string {
	args := []string{
		"run",
		"--rm",
		"--name", spec.Name,
	}

	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
		if spec.Alias != "" {
			args = append(args, "--network-alias", spec.Alias)
		}
	}

	if spec.WorkingDir != "" {
		args = append(args, "-w", spec.WorkingDir)
	}
	if spec.Entrypoint != "" {
		args = append(args, "--entrypoint", spec.Entrypoint)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k)
	}

	for _, p := range spec.Ports {
		args = append(args, "-p", portFlag(p))
	}

	for _, m := range spec.Mounts {
		v := m.Source + ":" + m.Target
		if m.ReadOnly {
			v += ":ro"
		}
		args = append(args, "-v", v)
	}

	for _, o := range runOptionFlags {
		value, ok := spec.Options[o.key]
		if !ok || value == "" {
			continue
		}
		if o.boolean {
			if b, err := strconv.ParseBool(value); err == nil && b {
				args = append(args, o.flag)
			}
			continue
		}
		args = append(args, o.flag, value)
	}

	args = append(args, spec.Image)
	args = append(args, spec.Args...)
	return args
}

func portFlag(p Port) string {
	v := strconv.Itoa(p.ContainerPort)
	if p.HostPort > 0 {
		v = strconv.Itoa(p.HostPort) + ":" + v
	}
	if p.Protocol != "" && p.Protocol != "tcp" {
		v += "/" + p.Protocol
	}
	return v
}
