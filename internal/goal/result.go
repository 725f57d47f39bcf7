package goal

// ExecutionResult is the return contract of every goal implementation.
// A nil *ExecutionResult is an implicit success.
type ExecutionResult struct {
	Code         int           `json:"code"`
	State        State         `json:"state,omitempty"`
	Phase        string        `json:"phase,omitempty"`
	Description  string        `json:"description,omitempty"`
	Message      string        `json:"message,omitempty"`
	ExternalURLs []ExternalURL `json:"externalUrls,omitempty"`
	TargetURL    string        `json:"targetUrl,omitempty"`
	TargetURLs   []ExternalURL `json:"targetUrls,omitempty"`
	Data         string        `json:"data,omitempty"`
}

// Success returns a result with code 0 and the given message
func Success(message string) *ExecutionResult {
	return &ExecutionResult{Code: 0, Message: message}
}

// Failure returns a result with code 1 and the given message
func Failure(message string) *ExecutionResult {
	return &ExecutionResult{Code: 1, Message: message}
}

// Skipped returns a successful result marked as skipped
func Skipped(message string) *ExecutionResult {
	return &ExecutionResult{Code: 0, State: StateSkipped, Message: message}
}

// IsFailure reports whether the result fails the goal. A non-zero code
// fails unless an explicit non-failure state overrides it. An explicit
// failure state always fails.
func (r *ExecutionResult) IsFailure() bool {
	if r == nil {
		return false
	}
	if r.State == StateFailure {
		return true
	}
	return r.Code != 0 && r.State == ""
}

// Links returns every external link the result surfaces, in declaration order
func (r *ExecutionResult) Links() []ExternalURL {
	if r == nil {
		return nil
	}
	var links []ExternalURL
	links = append(links, r.ExternalURLs...)
	if r.TargetURL != "" {
		links = append(links, ExternalURL{URL: r.TargetURL})
	}
	links = append(links, r.TargetURLs...)
	return links
}

// ToPatch converts the result into a status patch. When the result carries
// no state, defaultState is used.
func (r *ExecutionResult) ToPatch(defaultState State) StatusPatch {
	if r == nil {
		return StatusPatch{State: defaultState}
	}
	state := r.State
	if state == "" {
		state = defaultState
	}
	description := r.Description
	if description == "" {
		description = r.Message
	}
	return StatusPatch{
		State:        state,
		Phase:        r.Phase,
		Description:  description,
		ExternalURLs: r.Links(),
		Data:         r.Data,
	}
}

// MergeResults folds partial results in the given order. A later result
// overrides a field of an earlier one only when the later field is set, so
// the precedence for the canonical call MergeResults(pre, goal, post) is
// post > goal > pre. Nil results are skipped. The merged result is never nil.
func MergeResults(results ...*ExecutionResult) *ExecutionResult {
	merged := &ExecutionResult{}
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Code != 0 {
			merged.Code = r.Code
		}
		if r.State != "" {
			merged.State = r.State
		}
		if r.Phase != "" {
			merged.Phase = r.Phase
		}
		if r.Description != "" {
			merged.Description = r.Description
		}
		if r.Message != "" {
			merged.Message = r.Message
		}
		if len(r.ExternalURLs) > 0 {
			merged.ExternalURLs = append([]ExternalURL(nil), r.ExternalURLs...)
		}
		if r.TargetURL != "" {
			merged.TargetURL = r.TargetURL
		}
		if len(r.TargetURLs) > 0 {
			merged.TargetURLs = append([]ExternalURL(nil), r.TargetURLs...)
		}
		if r.Data != "" {
			merged.Data = r.Data
		}
	}
	return merged
}
