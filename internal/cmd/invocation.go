package cmd

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/goalrun/internal/errors"
	"github.com/felixgeelhaar/goalrun/internal/goal"
	"github.com/felixgeelhaar/goalrun/internal/project"
)

// loadGoal reads a goal event from a JSON file. Comments are allowed. A goal
// without a state is taken as requested.
func loadGoal(path string) (goal.GoalEvent, error) {
	var g goal.GoalEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return g, errors.NewGoalFileError(path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &g); err != nil {
		return g, errors.NewGoalFileError(path, err)
	}

	var missing []error
	if g.UniqueName == "" {
		missing = append(missing, stderrors.New("uniqueName is required"))
	}
	if g.Name == "" {
		missing = append(missing, stderrors.New("name is required"))
	}
	if g.GoalSetID == "" {
		missing = append(missing, stderrors.New("goalSetId is required"))
	}
	if len(missing) > 0 {
		return g, errors.NewGoalFileError(path, stderrors.Join(missing...))
	}

	if g.State == "" {
		g.State = goal.StateRequested
	}
	if !g.State.IsValid() {
		return g, errors.NewGoalFileError(path, fmt.Errorf("unknown state %q", g.State))
	}
	return g, nil
}

// invocationFlags identify the dispatch a goal runs for
type invocationFlags struct {
	goalPath        string
	projectDir      string
	workspaceID     string
	correlationID   string
	credentialsPath string
}

// newInvocation loads the goal file and fills in the dispatch context. The
// workspace defaults to the configured one and the correlation id to a
// fresh UUID.
func (a *app) newInvocation(f invocationFlags) (goal.Invocation, error) {
	g, err := loadGoal(f.goalPath)
	if err != nil {
		return goal.Invocation{}, err
	}

	workspaceID := f.workspaceID
	if workspaceID == "" {
		workspaceID = a.cfg.WorkspaceID
	}
	correlationID := f.correlationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	credentials, err := loadCredentials(f.credentialsPath)
	if err != nil {
		return goal.Invocation{}, err
	}

	return goal.Invocation{
		Goal: g,
		Context: goal.Context{
			WorkspaceID:   workspaceID,
			CorrelationID: correlationID,
		},
		Credentials: credentials,
	}, nil
}

// loadCredentials reads a flat YAML map of secret name to value. An empty
// path yields no credentials.
func loadCredentials(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretBackend, fmt.Sprintf("failed to read credentials file %s", path), err)
	}
	var credentials map[string]string
	if err := yaml.Unmarshal(data, &credentials); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecretBackend, fmt.Sprintf("failed to parse credentials file %s", path), err).
			WithSuggestion("The credentials file must map secret names to string values")
	}
	return credentials, nil
}

// resolveProject returns the working tree for inv. An explicit directory
// is used in place; otherwise the project is cloned up front unless
// loading is lazy, in which case nil is returned and loading is left to the
// orchestrator.
func (a *app) resolveProject(ctx context.Context, dir string, inv goal.Invocation) (*project.Project, func(), error) {
	noop := func() {}
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, noop, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, noop, errors.Wrap(errors.ErrCodeProjectLoad, fmt.Sprintf("project directory %s is not accessible", dir), err)
		}
		if !info.IsDir() {
			return nil, noop, errors.New(errors.ErrCodeProjectLoad, fmt.Sprintf("project path %s is not a directory", dir))
		}
		return project.New(abs, inv.Goal.Ref()), noop, nil
	}

	if a.cfg.Project.Lazy {
		return nil, noop, nil
	}

	tmp, err := os.MkdirTemp(a.cfg.Container.TempDir, "goalrun-project-")
	if err != nil {
		return nil, noop, errors.Wrap(errors.ErrCodeProjectLoad, "failed to create project directory", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tmp); err != nil {
			a.logger.Debug("failed to remove project directory", "dir", tmp, "error", err)
		}
	}

	p, err := a.loader.Load(ctx, inv.Goal.Ref(), project.LoadOptions{
		Dir:      tmp,
		Detached: true,
		Depth:    a.cfg.Project.Depth,
	})
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return p, cleanup, nil
}
