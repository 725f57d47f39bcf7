package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeGoalFailed, "test error message")

	if err.Code != ErrCodeGoalFailed {
		t.Errorf("expected code %s, got %s", ErrCodeGoalFailed, err.Code)
	}

	if err.Message != "test error message" {
		t.Errorf("expected message 'test error message', got '%s'", err.Message)
	}

	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeContainerLaunch, "failed to start container", cause)

	if err.Code != ErrCodeContainerLaunch {
		t.Errorf("expected code %s, got %s", ErrCodeContainerLaunch, err.Code)
	}

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}

	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *GoalrunError
		wantCode string
		wantMsg  string
	}{
		{
			name:     "simple error",
			err:      New(ErrCodeHookPreFailed, "pre hook failed"),
			wantCode: "HOOK-001",
			wantMsg:  "pre hook failed",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeStoreUpdate, "update failed", fmt.Errorf("database is locked")),
			wantCode: "STORE-001",
			wantMsg:  "database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()

			if !strings.Contains(errStr, tt.wantCode) {
				t.Errorf("error string should contain code %s, got: %s", tt.wantCode, errStr)
			}

			if !strings.Contains(errStr, tt.wantMsg) {
				t.Errorf("error string should contain message '%s', got: %s", tt.wantMsg, errStr)
			}
		})
	}
}

func TestWithSuggestions(t *testing.T) {
	err := New(ErrCodeCacheBackend, "cache unavailable").
		WithSuggestion("Check redis").
		WithSuggestions("Suggestion 2", "Suggestion 3").
		WithDocs("https://example.com/docs")

	if len(err.Suggestions) != 3 {
		t.Errorf("expected 3 suggestions, got %d", len(err.Suggestions))
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "Suggestions:") {
		t.Errorf("error string should contain suggestions section")
	}
	for _, suggestion := range err.Suggestions {
		if !strings.Contains(errStr, suggestion) {
			t.Errorf("error string should contain suggestion: %s", suggestion)
		}
	}
	if !strings.Contains(errStr, "Documentation: https://example.com/docs") {
		t.Errorf("error string should contain docs URL")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain error", fmt.Errorf("boom"), ""},
		{"coded", New(ErrCodeSecretNotFound, "missing"), ErrCodeSecretNotFound},
		{"wrapped by fmt", fmt.Errorf("outer: %w", New(ErrCodeProjectLoad, "load")), ErrCodeProjectLoad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	inner := New(ErrCodeContainerNetwork, "network create failed")
	outer := Wrap(ErrCodeContainerPrepare, "prepare failed", inner)

	if !HasCode(outer, ErrCodeContainerPrepare) {
		t.Errorf("expected outer code to be found")
	}
	if !HasCode(outer, ErrCodeContainerNetwork) {
		t.Errorf("expected inner code to be found")
	}
	if HasCode(outer, ErrCodeCacheMiss) {
		t.Errorf("unexpected code found")
	}
	if HasCode(nil, ErrCodeCacheMiss) {
		t.Errorf("nil error should carry no code")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *GoalrunError
		wantCode ErrorCode
		contains string
	}{
		{"empty spec", NewEmptyContainerSpecError("maven"), ErrCodeContainerEmptySpec, "maven"},
		{"docker", NewDockerNotAvailableError(fmt.Errorf("no daemon")), ErrCodeContainerNetwork, "goalrun doctor"},
		{"image denied", NewImageDeniedError("evil:latest"), ErrCodeContainerPolicy, "evil:latest"},
		{"regression", NewStateRegressionError("set/build", fmt.Errorf("terminal")), ErrCodeStoreRegression, "set/build"},
		{"config", NewConfigInvalidError("log.bufferBytes must be positive"), ErrCodeConfigInvalid, "bufferBytes"},
		{"unmarshal", NewFileUnmarshalError("/etc/goalrun.yaml", "YAML", fmt.Errorf("line 5")), ErrCodeConfigRead, "valid YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, tt.err.Code)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("error %q should contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeLogShipFailed, "ship failed", cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap should return the cause")
	}

	var target *GoalrunError
	if !errors.As(fmt.Errorf("ctx: %w", err), &target) {
		t.Errorf("errors.As should find the GoalrunError")
	}
}
