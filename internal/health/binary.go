package health

import (
	"bytes"
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/felixgeelhaar/goalrun/internal/process"
)

// minGitVersion is the oldest git supporting the shallow detached clones
// the git loader performs
var minGitVersion = semver.MustParse("2.0.0")

// BinaryChecker runs a command and judges its output
type BinaryChecker struct {
	name    string
	command process.Command
	runner  *process.Runner
	judge   func(output string) *Result
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(ctx context.Context) *Result {
	var out bytes.Buffer
	res := c.runner.Spawn(ctx, c.command, process.Options{Name: c.name, Log: &out})
	output := strings.TrimSpace(out.String())

	switch {
	case res.Code == process.CodeNotFound:
		msg := c.command.Name + " command not found in PATH"
		return Unhealthy(msg).WithDetail("error", res.Message)
	case res.Failed:
		return c.failure(output, res)
	}
	return c.judge(output).WithDetail("command", c.command.String())
}

func (c *BinaryChecker) failure(output string, res process.Result) *Result {
	if strings.Contains(output, "Cannot connect to the Docker daemon") {
		return Unhealthy("Docker daemon is not running").
			WithDetail("error", output).
			WithDetail("suggestion", "Start the Docker daemon")
	}
	msg := "failed to run " + c.command.String()
	return Unhealthy(msg).
		WithDetail("error", res.Message).
		WithDetail("output", output)
}

// NewDockerChecker checks that the builder binary reaches its daemon
func NewDockerChecker(binary string) *BinaryChecker {
	if binary == "" {
		binary = "docker"
	}
	return &BinaryChecker{
		name:    "docker-daemon",
		command: process.Command{Name: binary, Args: []string{"info", "--format", "{{.ServerVersion}}"}},
		runner:  process.NewRunner(DefaultTimeout, nil),
		judge:   judgeDocker,
	}
}

func judgeDocker(output string) *Result {
	if output == "" {
		return Degraded("Docker daemon responding but version unknown")
	}
	return Healthy("Docker daemon is running").WithDetail("server_version", lastLine(output))
}

// NewGitChecker checks that a recent enough git is installed
func NewGitChecker() *BinaryChecker {
	return &BinaryChecker{
		name:    "git-binary",
		command: process.Command{Name: "git", Args: []string{"--version"}},
		runner:  process.NewRunner(DefaultTimeout, nil),
		judge:   judgeGit,
	}
}

func judgeGit(output string) *Result {
	raw := parseGitVersion(lastLine(output))
	if raw == "" {
		return Degraded("git installed but version cannot be parsed").WithDetail("version_output", output)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return Degraded("git installed but version cannot be parsed").WithDetail("version_output", output)
	}
	if v.LessThan(minGitVersion) {
		return Degraded("git version is older than "+minGitVersion.String()).
			WithDetail("version", v.String()).
			WithDetail("suggestion", "Upgrade git to "+minGitVersion.String()+" or later")
	}
	return Healthy("git is installed").WithDetail("version", v.String())
}

// parseGitVersion extracts the version of "git version 2.42.0.windows.1"
func parseGitVersion(output string) string {
	fields := strings.Fields(output)
	if len(fields) < 3 || fields[0] != "git" {
		return ""
	}
	parts := strings.Split(fields[2], ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, ".")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
