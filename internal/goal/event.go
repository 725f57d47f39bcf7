package goal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrTerminalState is returned when a patch would move a goal out of a terminal state
var ErrTerminalState = errors.New("goal is in a terminal state")

// ExternalURL is a labelled link surfaced to users
type ExternalURL struct {
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	URL   string `json:"url" yaml:"url"`
}

// Fulfillment identifies how and by whom a goal is executed
type Fulfillment struct {
	Method       string `json:"method"`
	Name         string `json:"name"`
	Registration string `json:"registration,omitempty"`
}

// Repo identifies the repository a goal runs against
type Repo struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	ProviderID string `json:"providerId,omitempty"`
}

// Slug returns owner/name
func (r Repo) Slug() string {
	return r.Owner + "/" + r.Name
}

// Build is a build record attached to a push
type Build struct {
	BuildID   string `json:"buildId,omitempty"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status,omitempty"`
	BuildURL  string `json:"buildUrl,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Image is a container image produced for a commit
type Image struct {
	ImageName string `json:"imageName"`
}

// After describes the commit a push moved the branch to
type After struct {
	SHA     string  `json:"sha,omitempty"`
	Images  []Image `json:"images,omitempty"`
	Version string  `json:"version,omitempty"`
}

// Push carries push metadata, including build/image/version side-channel fields
type Push struct {
	Builds []Build `json:"builds,omitempty"`
	After  *After  `json:"after,omitempty"`
}

// GoalEvent is an immutable snapshot of one goal instance for one commit.
// Mutations produce new snapshots through Apply.
type GoalEvent struct {
	UniqueName   string        `json:"uniqueName"`
	Name         string        `json:"name"`
	State        State         `json:"state"`
	Phase        string        `json:"phase,omitempty"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url,omitempty"`
	Data         string        `json:"data,omitempty"`
	ExternalURLs []ExternalURL `json:"externalUrls,omitempty"`
	Fulfillment  Fulfillment   `json:"fulfillment"`
	Environment  string        `json:"environment"`
	GoalSetID    string        `json:"goalSetId"`
	SHA          string        `json:"sha"`
	Branch       string        `json:"branch"`
	Repo         Repo          `json:"repo"`
	Push         *Push         `json:"push,omitempty"`
	Ts           int64         `json:"ts,omitempty"`
	Version      int           `json:"version,omitempty"`
}

// StatusPatch is an explicit change to a goal's status. Zero-valued fields
// leave the corresponding snapshot fields untouched.
type StatusPatch struct {
	State        State
	Phase        string
	Description  string
	URL          string
	ExternalURLs []ExternalURL
	Data         string
}

// Key returns the identity used to persist the goal
func (e GoalEvent) Key() string {
	return e.GoalSetID + "/" + e.UniqueName
}

// Apply returns a new snapshot with the patch applied. A terminal goal only
// accepts a patch that leaves it exactly as it is, in which case the
// receiver is returned as is. Any other patch is refused with
// ErrTerminalState and the receiver is returned unchanged.
func (e GoalEvent) Apply(p StatusPatch) (GoalEvent, error) {
	if e.State.IsTerminal() && p.State != "" && p.State != e.State {
		return e, fmt.Errorf("%w: cannot move %s from %s to %s", ErrTerminalState, e.UniqueName, e.State, p.State)
	}

	next := e
	if p.State != "" {
		next.State = p.State
	}
	if p.Phase != "" {
		next.Phase = p.Phase
	}
	if p.Description != "" {
		next.Description = p.Description
	}
	if p.URL != "" {
		next.URL = p.URL
	}
	if len(p.ExternalURLs) > 0 {
		next.ExternalURLs = append([]ExternalURL(nil), p.ExternalURLs...)
	}
	if p.Data != "" {
		next.Data = p.Data
	}
	if e.State.IsTerminal() {
		if !next.SameStatus(e) {
			return e, fmt.Errorf("%w: cannot change %s once %s", ErrTerminalState, e.UniqueName, e.State)
		}
		return e, nil
	}
	next.Ts = time.Now().UnixMilli()
	next.Version = e.Version + 1
	return next, nil
}

// SameStatus reports whether o records exactly the same goal as e,
// ignoring the Ts and Version bookkeeping fields
func (e GoalEvent) SameStatus(o GoalEvent) bool {
	e.Ts, e.Version = 0, 0
	o.Ts, o.Version = 0, 0
	a, errA := json.Marshal(e)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// SemVer returns the semantic version recorded for the goal's commit. When
// no valid version is attached, a prerelease of 0.0.0 keyed on the sha is
// returned.
func (e GoalEvent) SemVer() string {
	if e.Push != nil && e.Push.After != nil && e.Push.After.Version != "" {
		if v, err := semver.NewVersion(e.Push.After.Version); err == nil {
			return v.String()
		}
	}
	sha := e.SHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	if sha == "" {
		return "0.0.0"
	}
	return "0.0.0-" + strings.ToLower(sha)
}
