package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/log"
	"github.com/felixgeelhaar/goalrun/internal/metrics"
	"github.com/felixgeelhaar/goalrun/internal/process"
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
	"github.com/felixgeelhaar/goalrun/internal/secret"
)

// behavior simulates a container; killed closes when the container is killed
type behavior func(spec RunSpec, out io.Writer, killed <-chan struct{}) process.Result

type fakeProcess struct {
	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once
	result   process.Result
}

func (p *fakeProcess) Wait(ctx context.Context) process.Result {
	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return process.Result{Code: -1, Failed: true, Err: ctx.Err()}
	}
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

type fakeRuntime struct {
	mu              sync.Mutex
	behaviors       map[string]behavior
	startErrs       map[string]error
	networkErr      error
	networks        []string
	removedNetworks []string
	started         []RunSpec
	killed          []string
	procs           map[string]*fakeProcess
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		behaviors: map[string]behavior{},
		startErrs: map[string]error{},
		procs:     map[string]*fakeProcess{},
	}
}

func (f *fakeRuntime) CreateNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.networkErr != nil {
		return f.networkErr
	}
	f.networks = append(f.networks, name)
	return nil
}

func (f *fakeRuntime) RemoveNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedNetworks = append(f.removedNetworks, name)
	return nil
}

func (f *fakeRuntime) Start(_ context.Context, spec RunSpec, out io.Writer) (Process, error) {
	f.mu.Lock()
	if err := f.startErrs[spec.Alias]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	b := f.behaviors[spec.Alias]
	p := &fakeProcess{done: make(chan struct{}), killed: make(chan struct{})}
	f.started = append(f.started, spec)
	f.procs[spec.Name] = p
	f.mu.Unlock()

	go func() {
		defer close(p.done)
		if b == nil {
			return
		}
		p.result = b(spec, out, p.killed)
	}()
	return p, nil
}

func (f *fakeRuntime) Kill(_ context.Context, name string) error {
	f.mu.Lock()
	f.killed = append(f.killed, name)
	p := f.procs[name]
	f.mu.Unlock()
	if p != nil {
		_ = p.Kill()
	}
	return nil
}

func (f *fakeRuntime) killedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.killed...)
}

func exit(code int) process.Result {
	return process.Result{Code: code, Failed: code != 0, Message: fmt.Sprintf("exited %d", code)}
}

// untilKilled keeps a sidecar running until it is killed, then fails it
func untilKilled(_ RunSpec, _ io.Writer, killed <-chan struct{}) process.Result {
	<-killed
	return process.Result{Code: 137, Signal: "killed", Failed: true}
}

func hostPath(t *testing.T, spec RunSpec, target string) string {
	t.Helper()
	for _, m := range spec.Mounts {
		if m.Target == target {
			return m.Source
		}
	}
	t.Fatalf("no mount for %s", target)
	return ""
}

type fixture struct {
	runtime  *fakeRuntime
	executor *Executor
	metrics  *metrics.Metrics
	tempDir  string
	project  *project.Project
	log      *progress.MemoryLog
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "pom.xml"), []byte("<project/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "stale.txt"), []byte("old"), 0644))

	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	rt := newFakeRuntime()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	resolver := secret.Resolver{Provider: secret.MapProvider{"registry-token": "s3cr3t", "npmrc": "//registry/:_authToken=abc"}}

	return &fixture{
		runtime:  rt,
		executor: NewExecutor(cfg, rt, nil, resolver, log.Nop(), m),
		metrics:  m,
		tempDir:  cfg.TempDir,
		project:  project.New(projectDir, project.Ref{Owner: "acme", Repo: "widget", SHA: "abcdef1234567"}),
		log:      progress.NewMemoryLog("test"),
	}
}

func (f *fixture) invocation() goal.Invocation {
	return goal.Invocation{
		Goal: goal.GoalEvent{
			UniqueName:  "build#goalrun",
			Name:        "build",
			State:       goal.StateInProcess,
			Environment: "0-code",
			GoalSetID:   "set-1",
			SHA:         "abcdef1234567",
			Branch:      "main",
			Repo:        goal.Repo{Owner: "acme", Name: "widget"},
		},
		Context:  goal.Context{WorkspaceID: "ws-1", CorrelationID: "corr-1"},
		Progress: f.log,
		Project:  f.project,
	}
}

func (f *fixture) jobDirsLeft(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.tempDir, "goalrun", "*", "*"))
	require.NoError(t, err)
	return matches
}

func twoContainers() Registration {
	return Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{
			{Name: "maven", Image: "maven:3"},
			{Name: "db", Image: "postgres:16"},
		}},
	}
}

func TestPrimarySuccessSwallowsSidecarFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(RunSpec, io.Writer, <-chan struct{}) process.Result { return exit(0) }
	f.runtime.behaviors["db"] = untilKilled

	res, err := f.executor.ExecuteContainers(context.Background(), twoContainers(), f.invocation())
	require.NoError(t, err)

	assert.False(t, res.IsFailure())
	assert.Equal(t, SuccessMessage, res.Message)
	assert.Contains(t, f.log.Contents(), SuccessMessage)

	require.Len(t, f.runtime.started, 2)
	db := f.runtime.started[1]
	assert.Contains(t, f.runtime.killedNames(), db.Name)
	assert.Equal(t, f.runtime.networks, f.runtime.removedNetworks)
	assert.Empty(t, f.jobDirsLeft(t))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ContainerLaunches.WithLabelValues("primary", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ContainerLaunches.WithLabelValues("sidecar", "success")))
}

func TestPrimaryFailureNamesContainer(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(RunSpec, io.Writer, <-chan struct{}) process.Result { return exit(3) }
	f.runtime.behaviors["db"] = untilKilled

	res, err := f.executor.ExecuteContainers(context.Background(), twoContainers(), f.invocation())
	require.NoError(t, err)

	assert.True(t, res.IsFailure())
	assert.Equal(t, 3, res.Code)
	assert.Equal(t, "Container 'maven' failed", res.Message)
	assert.Contains(t, f.runtime.killedNames(), f.runtime.started[1].Name)
	assert.Empty(t, f.jobDirsLeft(t))
}

func TestPrimaryFailureIgnoresResultDescriptor(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		_ = os.WriteFile(filepath.Join(hostPath(t, spec, ContainerOutputDir), ResultFile), []byte(`{"code":0,"message":"all good"}`), 0644)
		return exit(1)
	}

	res, err := f.executor.ExecuteContainers(context.Background(), Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{{Name: "maven", Image: "maven:3"}}},
	}, f.invocation())
	require.NoError(t, err)
	assert.True(t, res.IsFailure())
	assert.Equal(t, "Container 'maven' failed", res.Message)
}

func TestEmptySpecFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.executor.ExecuteContainers(context.Background(), Registration{Name: "nothing"}, f.invocation())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerEmptySpec))
	assert.Empty(t, f.runtime.networks)
	assert.Empty(t, f.runtime.started)
	assert.Empty(t, f.jobDirsLeft(t))
}

func TestProjectChangesAreMirroredBack(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		dir := hostPath(t, spec, ContainerProjectDir)
		_ = os.MkdirAll(filepath.Join(dir, "target"), 0755)
		_ = os.WriteFile(filepath.Join(dir, "target", "app.jar"), []byte("jar"), 0644)
		_ = os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project version='2'/>"), 0644)
		_ = os.Remove(filepath.Join(dir, "stale.txt"))
		return exit(0)
	}

	inv := f.invocation()
	res, err := f.executor.ExecuteContainers(context.Background(), Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{{Name: "maven", Image: "maven:3"}}},
	}, inv)
	require.NoError(t, err)
	require.False(t, res.IsFailure())

	jar, err := os.ReadFile(filepath.Join(inv.Project.BaseDir, "target", "app.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar", string(jar))

	pom, err := os.ReadFile(filepath.Join(inv.Project.BaseDir, "pom.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<project version='2'/>", string(pom))

	assert.NoFileExists(t, filepath.Join(inv.Project.BaseDir, "stale.txt"))
	assert.True(t, inv.Project.HasFile("target/app.jar"))
}

func TestReadOnlyProjectIsNotModified(t *testing.T) {
	f := newFixture(t, Config{})
	f.project.ReadOnly = true
	f.runtime.behaviors["maven"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		_ = os.Remove(filepath.Join(hostPath(t, spec, ContainerProjectDir), "pom.xml"))
		return exit(0)
	}

	res, err := f.executor.ExecuteContainers(context.Background(), Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{{Name: "maven", Image: "maven:3"}}},
	}, f.invocation())
	require.NoError(t, err)
	assert.False(t, res.IsFailure())
	assert.FileExists(t, filepath.Join(f.project.BaseDir, "pom.xml"))
	assert.Contains(t, f.log.Contents(), "read-only")
}

func TestLaunchFailuresAreCollected(t *testing.T) {
	f := newFixture(t, Config{ImageAllowlist: []string{"maven:*", "redis:*"}})
	f.runtime.behaviors["maven"] = untilKilled
	f.runtime.startErrs["cache"] = fmt.Errorf("port is already allocated")

	reg := Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{
			{Name: "maven", Image: "maven:3"},
			{Name: "db", Image: "postgres:16"},
			{Name: "cache", Image: "redis:7"},
			{Name: "files", Image: "busybox", VolumeMounts: []VolumeMount{{Name: "missing", MountPath: "/data"}}},
		}},
	}

	res, err := f.executor.ExecuteContainers(context.Background(), reg, f.invocation())
	require.NoError(t, err)

	assert.True(t, res.IsFailure())
	assert.True(t, strings.HasPrefix(res.Message, "Failed to start containers: "))
	assert.Contains(t, res.Message, "db: ")
	assert.Contains(t, res.Message, "image not in allowlist")
	assert.Contains(t, res.Message, "cache: port is already allocated")
	assert.Contains(t, res.Message, "files: ")

	require.Len(t, f.runtime.started, 1)
	assert.Contains(t, f.runtime.killedNames(), f.runtime.started[0].Name)
	assert.Len(t, f.runtime.removedNetworks, 1)
	assert.Empty(t, f.jobDirsLeft(t))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ContainerLaunches.WithLabelValues("sidecar", "failure")))
}

func TestNetworkFailureStartsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.networkErr = fmt.Errorf("daemon unavailable")

	res, err := f.executor.ExecuteContainers(context.Background(), twoContainers(), f.invocation())
	require.NoError(t, err)
	assert.True(t, res.IsFailure())
	assert.Contains(t, res.Message, "Failed to create network")
	assert.Empty(t, f.runtime.started)
	assert.Empty(t, f.jobDirsLeft(t))
}

func TestResultDescriptorIsAuthoritative(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		descriptor := `{
			"state": "success",
			"description": "Built widget 1.2.0",
			"externalUrls": [{"label": "report", "url": "https://ci.example.com/r/1"}],
			"push": {"after": {"images": [{"imageName": "registry.example.com/widget:1.2.0"}], "version": "1.2.0"}}
		}`
		_ = os.WriteFile(filepath.Join(hostPath(t, spec, ContainerOutputDir), ResultFile), []byte(descriptor), 0644)
		return exit(0)
	}

	res, err := f.executor.ExecuteContainers(context.Background(), Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{{Name: "maven", Image: "maven:3"}}},
	}, f.invocation())
	require.NoError(t, err)

	assert.Equal(t, goal.StateSuccess, res.State)
	assert.Equal(t, "Built widget 1.2.0", res.Description)
	require.Len(t, res.ExternalURLs, 1)

	var side SideChannel
	require.NoError(t, json.Unmarshal([]byte(res.Data), &side))
	assert.Equal(t, "1.2.0", side.Version)
	require.Len(t, side.Images, 1)
	assert.Equal(t, "registry.example.com/widget:1.2.0", side.Images[0].ImageName)
	assert.Contains(t, f.log.Contents(), "Produced image registry.example.com/widget:1.2.0")
}

func TestMalformedResultDescriptorFallsBack(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		_ = os.WriteFile(filepath.Join(hostPath(t, spec, ContainerOutputDir), ResultFile), []byte(`{"code":`), 0644)
		return exit(0)
	}

	res, err := f.executor.ExecuteContainers(context.Background(), Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{{Name: "maven", Image: "maven:3"}}},
	}, f.invocation())
	require.NoError(t, err)
	assert.Equal(t, SuccessMessage, res.Message)
	assert.Contains(t, f.log.Contents(), "Ignoring malformed result.json")
}

func TestRunSpecEnvironmentAndSecrets(t *testing.T) {
	f := newFixture(t, Config{})

	var secretFile string
	var secretContent []byte
	var secretMode os.FileMode
	var goalFile []byte
	f.runtime.behaviors["npm"] = func(spec RunSpec, _ io.Writer, _ <-chan struct{}) process.Result {
		secretFile = filepath.Join(hostPath(t, spec, ContainerInputDir), secret.SecretsDir, ".npmrc")
		secretContent, _ = os.ReadFile(secretFile)
		if info, err := os.Stat(secretFile); err == nil {
			secretMode = info.Mode().Perm()
		}
		goalFile, _ = os.ReadFile(filepath.Join(hostPath(t, spec, ContainerInputDir), GoalFile))
		return exit(0)
	}

	reg := Registration{
		Name: "npm",
		Spec: Spec{Containers: []GoalContainer{{
			Name:    "npm",
			Image:   "node:20",
			Command: []string{"npm", "run"},
			Args:    []string{"build"},
			Env:     []EnvVar{{Name: "CI", Value: "true"}, {Name: "GOALRUN_SHA", Value: "overridden"}},
			Secrets: &secret.Secrets{
				Env:   []secret.EnvSecret{{Name: "REGISTRY_TOKEN", Secret: "registry-token"}},
				Files: []secret.FileSecret{{Name: ".npmrc", Secret: "npmrc", Env: "NPM_CONFIG_USERCONFIG"}},
			},
		}}},
	}

	res, err := f.executor.ExecuteContainers(context.Background(), reg, f.invocation())
	require.NoError(t, err)
	require.False(t, res.IsFailure(), res.Message)

	require.Len(t, f.runtime.started, 1)
	run := f.runtime.started[0]
	assert.Equal(t, "npm", run.Entrypoint)
	assert.Equal(t, []string{"run", "build"}, run.Args)
	assert.Equal(t, ContainerProjectDir, run.WorkingDir)
	assert.Equal(t, "npm", run.Alias)
	assert.Equal(t, f.runtime.networks[0], run.Network)

	env := run.Env
	assert.Equal(t, "ws-1", env["GOALRUN_WORKSPACE_ID"])
	assert.Equal(t, "acme/widget", env["GOALRUN_SLUG"])
	assert.Equal(t, "acme", env["GOALRUN_OWNER"])
	assert.Equal(t, "widget", env["GOALRUN_REPO"])
	assert.Equal(t, "main", env["GOALRUN_BRANCH"])
	assert.Equal(t, "0.0.0-abcdef1", env["GOALRUN_VERSION"])
	assert.Equal(t, "set-1", env["GOALRUN_GOAL_SET_ID"])
	assert.Equal(t, "build#goalrun", env["GOALRUN_GOAL_UNIQUE_NAME"])
	assert.Equal(t, "corr-1", env["GOALRUN_CORRELATION_ID"])
	assert.Equal(t, ContainerInputDir, env["GOALRUN_INPUT_DIR"])
	assert.Equal(t, ContainerOutputDir, env["GOALRUN_OUTPUT_DIR"])
	assert.Equal(t, ContainerProjectDir, env["GOALRUN_PROJECT_DIR"])
	assert.Equal(t, "/goalrun/input/goal.json", env["GOALRUN_GOAL_FILE"])
	assert.Equal(t, "/goalrun/output/result.json", env["GOALRUN_RESULT_FILE"])
	assert.Equal(t, "overridden", env["GOALRUN_SHA"])
	assert.Equal(t, "true", env["CI"])
	assert.Equal(t, "s3cr3t", env["REGISTRY_TOKEN"])
	assert.Equal(t, "/goalrun/input/secrets/.npmrc", env["NPM_CONFIG_USERCONFIG"])

	assert.Equal(t, "//registry/:_authToken=abc", string(secretContent))
	assert.Equal(t, os.FileMode(0600), secretMode)
	assert.NoFileExists(t, secretFile)

	var written goal.GoalEvent
	require.NoError(t, json.Unmarshal(goalFile, &written))
	assert.Equal(t, "build#goalrun", written.UniqueName)
}

func TestUnresolvableSecretIsALaunchFailure(t *testing.T) {
	f := newFixture(t, Config{})
	reg := Registration{
		Name: "deploy",
		Spec: Spec{Containers: []GoalContainer{{
			Name:    "kubectl",
			Image:   "bitnami/kubectl:1.30",
			Secrets: &secret.Secrets{Env: []secret.EnvSecret{{Name: "KUBECONFIG_DATA", Secret: "kubeconfig"}}},
		}}},
	}

	res, err := f.executor.ExecuteContainers(context.Background(), reg, f.invocation())
	require.NoError(t, err)
	assert.True(t, res.IsFailure())
	assert.Contains(t, res.Message, "Failed to start containers: kubectl: failed to resolve secrets")
	assert.Empty(t, f.runtime.started)
}

func TestInvocationCredentialsResolveSecrets(t *testing.T) {
	f := newFixture(t, Config{})
	reg := Registration{
		Name: "deploy",
		Spec: Spec{Containers: []GoalContainer{{
			Name:  "kubectl",
			Image: "bitnami/kubectl:1.30",
			Secrets: &secret.Secrets{Env: []secret.EnvSecret{
				{Name: "KUBECONFIG_DATA", Secret: "kubeconfig"},
				{Name: "REGISTRY_TOKEN", Secret: "registry-token"},
			}},
		}}},
	}
	inv := f.invocation()
	inv.Credentials = map[string]string{"kubeconfig": "apiVersion: v1", "registry-token": "dispatch-token"}

	res, err := f.executor.ExecuteContainers(context.Background(), reg, inv)
	require.NoError(t, err)
	require.False(t, res.IsFailure(), res.Message)
	require.Len(t, f.runtime.started, 1)
	assert.Equal(t, "apiVersion: v1", f.runtime.started[0].Env["KUBECONFIG_DATA"])
	assert.Equal(t, "dispatch-token", f.runtime.started[0].Env["REGISTRY_TOKEN"])
}

func TestCallbackRewritesSpec(t *testing.T) {
	f := newFixture(t, Config{})
	reg := Registration{
		Name: "deploy",
		Spec: Spec{Containers: []GoalContainer{{Name: "deploy", Image: "alpine:3"}}},
		Callback: func(_ context.Context, spec Spec, inv goal.Invocation) (Spec, error) {
			spec.Containers[0].Args = []string{"deploy", inv.Goal.Environment}
			return spec, nil
		},
	}

	_, err := f.executor.ExecuteContainers(context.Background(), reg, f.invocation())
	require.NoError(t, err)
	require.Len(t, f.runtime.started, 1)
	assert.Equal(t, []string{"deploy", "0-code"}, f.runtime.started[0].Args)
}

func TestCallbackErrorIsReturned(t *testing.T) {
	f := newFixture(t, Config{})
	reg := Registration{
		Name: "deploy",
		Spec: Spec{Containers: []GoalContainer{{Name: "deploy", Image: "alpine:3"}}},
		Callback: func(context.Context, Spec, goal.Invocation) (Spec, error) {
			return Spec{}, fmt.Errorf("no deployment target")
		},
	}

	_, err := f.executor.ExecuteContainers(context.Background(), reg, f.invocation())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeContainerPrepare))
	assert.Empty(t, f.runtime.networks)
}

func TestSidecarOutputIsPrefixed(t *testing.T) {
	f := newFixture(t, Config{})
	f.runtime.behaviors["maven"] = func(_ RunSpec, out io.Writer, _ <-chan struct{}) process.Result {
		_, _ = io.WriteString(out, "BUILD SUCCESS\n")
		return exit(0)
	}
	f.runtime.behaviors["db"] = func(_ RunSpec, out io.Writer, killed <-chan struct{}) process.Result {
		_, _ = io.WriteString(out, "ready to accept connections")
		<-killed
		return exit(0)
	}

	_, err := f.executor.ExecuteContainers(context.Background(), twoContainers(), f.invocation())
	require.NoError(t, err)
	assert.Contains(t, f.log.Contents(), "[maven] BUILD SUCCESS\n")
	assert.Contains(t, f.log.Contents(), "[db] ready to accept connections\n")
}

func TestRunManifestsAreWritten(t *testing.T) {
	manifestDir := t.TempDir()
	f := newFixture(t, Config{ManifestDir: manifestDir})
	f.runtime.behaviors["maven"] = func(RunSpec, io.Writer, <-chan struct{}) process.Result {
		return process.Result{Duration: 2 * time.Second}
	}
	f.runtime.behaviors["db"] = untilKilled

	_, err := f.executor.ExecuteContainers(context.Background(), twoContainers(), f.invocation())
	require.NoError(t, err)

	entries, err := os.ReadDir(manifestDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	roles := map[string]RunManifest{}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(manifestDir, e.Name()))
		require.NoError(t, err)
		var m RunManifest
		require.NoError(t, json.Unmarshal(data, &m))
		roles[m.Role] = m
	}
	assert.Equal(t, "maven", roles["primary"].Container)
	assert.Equal(t, "2s", roles["primary"].Duration)
	assert.NotEmpty(t, roles["primary"].InputHashes[GoalFile])
	assert.Equal(t, 137, roles["sidecar"].ExitCode)
}

type fakeImages struct {
	*fakeRuntime
	mu     sync.Mutex
	pulled []string
}

func (f *fakeImages) Pull(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(image, "missing") {
		return fmt.Errorf("manifest unknown")
	}
	f.pulled = append(f.pulled, image)
	return nil
}

func (f *fakeImages) ImageExists(context.Context, string) (bool, error) { return false, nil }

func TestPullFailureIsALaunchFailure(t *testing.T) {
	rt := &fakeImages{fakeRuntime: newFakeRuntime()}
	e := NewExecutor(Config{TempDir: t.TempDir(), Pull: true}, rt, nil, secret.Resolver{}, log.Nop(), nil)
	f := newFixture(t, Config{})

	reg := Registration{
		Name: "maven",
		Spec: Spec{Containers: []GoalContainer{
			{Name: "maven", Image: "maven:3"},
			{Name: "db", Image: "example.com/missing:1"},
		}},
	}
	res, err := e.ExecuteContainers(context.Background(), reg, f.invocation())
	require.NoError(t, err)
	assert.True(t, res.IsFailure())
	assert.Contains(t, res.Message, "db: image example.com/missing:1 unavailable")
	assert.Equal(t, []string{"maven:3"}, rt.pulled)
}
