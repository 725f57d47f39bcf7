package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Goal execution errors (GOAL-001 to GOAL-099)
	ErrCodeGoalFailed        ErrorCode = "GOAL-001"
	ErrCodeGoalPanicked      ErrorCode = "GOAL-002"
	ErrCodeGoalCanceled      ErrorCode = "GOAL-003"
	ErrCodeGoalInvalidResult ErrorCode = "GOAL-004"
	ErrCodeGoalNotFound      ErrorCode = "GOAL-005"
	ErrCodeGoalInvalid       ErrorCode = "GOAL-006"

	// Hook errors (HOOK-001 to HOOK-099)
	ErrCodeHookPreFailed  ErrorCode = "HOOK-001"
	ErrCodeHookPostFailed ErrorCode = "HOOK-002"
	ErrCodeHookLaunch     ErrorCode = "HOOK-003"

	// Container fulfillment errors (CONTAINER-001 to CONTAINER-099)
	ErrCodeContainerEmptySpec     ErrorCode = "CONTAINER-001"
	ErrCodeContainerPrepare       ErrorCode = "CONTAINER-002"
	ErrCodeContainerNetwork       ErrorCode = "CONTAINER-003"
	ErrCodeContainerLaunch        ErrorCode = "CONTAINER-004"
	ErrCodeContainerPrimaryFailed ErrorCode = "CONTAINER-005"
	ErrCodeContainerResult        ErrorCode = "CONTAINER-006"
	ErrCodeContainerPolicy        ErrorCode = "CONTAINER-007"
	ErrCodeContainerSpecInvalid   ErrorCode = "CONTAINER-008"

	// Progress log errors (LOG-001 to LOG-099)
	ErrCodeLogShipFailed   ErrorCode = "LOG-001"
	ErrCodeLogUnavailable  ErrorCode = "LOG-002"
	ErrCodeLogFanOutConfig ErrorCode = "LOG-003"

	// Status store errors (STORE-001 to STORE-099)
	ErrCodeStoreUpdate     ErrorCode = "STORE-001"
	ErrCodeStoreRegression ErrorCode = "STORE-002"
	ErrCodeStoreOpen       ErrorCode = "STORE-003"

	// Cache errors (CACHE-001 to CACHE-099)
	ErrCodeCacheMiss    ErrorCode = "CACHE-001"
	ErrCodeCacheBackend ErrorCode = "CACHE-002"
	ErrCodeCacheArchive ErrorCode = "CACHE-003"

	// Secret errors (SECRET-001 to SECRET-099)
	ErrCodeSecretNotFound ErrorCode = "SECRET-001"
	ErrCodeSecretDecrypt  ErrorCode = "SECRET-002"
	ErrCodeSecretBackend  ErrorCode = "SECRET-003"

	// Project errors (PROJECT-001 to PROJECT-099)
	ErrCodeProjectLoad   ErrorCode = "PROJECT-001"
	ErrCodeProjectMirror ErrorCode = "PROJECT-002"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigRead    ErrorCode = "CONFIG-002"
)

// GoalrunError represents an enhanced error with code, suggestions, and documentation
type GoalrunError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *GoalrunError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *GoalrunError) Unwrap() error {
	return e.Cause
}

// New creates a new GoalrunError
func New(code ErrorCode, message string) *GoalrunError {
	return &GoalrunError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new GoalrunError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *GoalrunError {
	return &GoalrunError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *GoalrunError) WithSuggestion(suggestion string) *GoalrunError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *GoalrunError) WithSuggestions(suggestions ...string) *GoalrunError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *GoalrunError) WithDocs(url string) *GoalrunError {
	e.DocsURL = url
	return e
}

// GetCode returns the code of the first GoalrunError in the chain, or ""
func GetCode(err error) ErrorCode {
	var grErr *GoalrunError
	if stderrors.As(err, &grErr) {
		return grErr.Code
	}
	return ""
}

// HasCode reports whether any GoalrunError in the chain carries code
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var grErr *GoalrunError
		if !stderrors.As(err, &grErr) {
			return false
		}
		if grErr.Code == code {
			return true
		}
		err = grErr.Cause
	}
	return false
}

// Common error constructors for frequently used errors

// NewEmptyContainerSpecError creates the error raised for a spec without containers
func NewEmptyContainerSpecError(registration string) *GoalrunError {
	return New(ErrCodeContainerEmptySpec, fmt.Sprintf("no containers defined in registration %q", registration)).
		WithSuggestion("Declare at least one container; the first one is the primary").
		WithDocs("https://github.com/felixgeelhaar/goalrun#container-fulfillment")
}

// NewDockerNotAvailableError creates a Docker not available error
func NewDockerNotAvailableError(cause error) *GoalrunError {
	return Wrap(ErrCodeContainerNetwork, "Docker is not available", cause).
		WithSuggestion("Install Docker Desktop or Docker Engine").
		WithSuggestion("Make sure Docker daemon is running").
		WithSuggestion("Run 'goalrun doctor' to verify the container runtime").
		WithDocs("https://docs.docker.com/get-docker/")
}

// NewImageDeniedError creates an image policy violation error
func NewImageDeniedError(image string) *GoalrunError {
	return New(ErrCodeContainerPolicy, fmt.Sprintf("image not in allowlist: %s", image)).
		WithSuggestion("Add the image to container.imageAllowlist in the goalrun configuration")
}

// NewStateRegressionError creates an error for a refused terminal state regression
func NewStateRegressionError(key string, cause error) *GoalrunError {
	return Wrap(ErrCodeStoreRegression, fmt.Sprintf("refusing to update terminal goal %s", key), cause)
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *GoalrunError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'goalrun config view' to inspect the effective configuration")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *GoalrunError {
	return Wrap(ErrCodeConfigRead, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}

// NewGoalFileError creates an error for an unreadable or incomplete goal file
func NewGoalFileError(path string, cause error) *GoalrunError {
	return Wrap(ErrCodeGoalInvalid, fmt.Sprintf("invalid goal file: %s", path), cause).
		WithSuggestion("The goal file must be a JSON goal event with uniqueName, name and goalSetId")
}
