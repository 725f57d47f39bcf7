package goal

import (
	"github.com/felixgeelhaar/goalrun/internal/progress"
	"github.com/felixgeelhaar/goalrun/internal/project"
)

// Context carries the identity of the dispatch that requested a goal
type Context struct {
	WorkspaceID   string
	CorrelationID string
}

// Invocation is everything a goal implementation receives
type Invocation struct {
	Goal     GoalEvent
	Context  Context
	Progress progress.Log
	Project  *project.Project
	// Credentials are secrets supplied with the dispatch. They take
	// precedence over the configured secret providers.
	Credentials map[string]string
}

// Ref returns the project ref of the goal's commit
func (e GoalEvent) Ref() project.Ref {
	return project.Ref{
		Owner:  e.Repo.Owner,
		Repo:   e.Repo.Name,
		SHA:    e.SHA,
		Branch: e.Branch,
	}
}

// Target returns the remote progress log address of the goal
func (i Invocation) Target() progress.Target {
	return progress.Target{
		WorkspaceID:   i.Context.WorkspaceID,
		Owner:         i.Goal.Repo.Owner,
		Repo:          i.Goal.Repo.Name,
		SHA:           i.Goal.SHA,
		Environment:   i.Goal.Environment,
		UniqueName:    i.Goal.UniqueName,
		GoalSetID:     i.Goal.GoalSetID,
		CorrelationID: i.Context.CorrelationID,
	}
}

// Log returns the invocation's progress log, never nil
func (i Invocation) Log() progress.Log {
	if i.Progress == nil {
		return progress.Discard
	}
	return i.Progress
}

// IdentityEnv returns the GOALRUN_* variables identifying the goal to child
// processes
func (i Invocation) IdentityEnv() map[string]string {
	return map[string]string{
		"GOALRUN_WORKSPACE_ID":     i.Context.WorkspaceID,
		"GOALRUN_CORRELATION_ID":   i.Context.CorrelationID,
		"GOALRUN_OWNER":            i.Goal.Repo.Owner,
		"GOALRUN_REPO":             i.Goal.Repo.Name,
		"GOALRUN_SHA":              i.Goal.SHA,
		"GOALRUN_BRANCH":           i.Goal.Branch,
		"GOALRUN_GOAL":             i.Goal.Name,
		"GOALRUN_GOAL_UNIQUE_NAME": i.Goal.UniqueName,
		"GOALRUN_GOAL_SET_ID":      i.Goal.GoalSetID,
		"GOALRUN_ENVIRONMENT":      i.Goal.Environment,
	}
}
