package exitcode

import (
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/goalrun/internal/errors"
)

// Exit codes of the goalrun binary. A failed goal exits with the goal's own
// code instead.
const (
	Success      = 0
	GeneralError = 1
	// UsageError is invalid command usage (bad flags, missing args)
	UsageError = 2
	// PolicyViolation is an image refused by the allowlist
	PolicyViolation = 3
	ConfigError     = 4
	// InfrastructureError is a failure preparing or launching containers
	InfrastructureError = 5
	NetworkError        = 6
	// Interrupted follows the shell convention for SIGINT
	Interrupted = 130
)

// Coder is implemented by errors carrying their own exit code, such as a
// failed goal
type Coder interface {
	Code() int
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with the code DetermineExitCode picks for err
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var coder Coder
	if stderrors.As(err, &coder) {
		if code := coder.Code(); code > 0 && code < 256 {
			return code
		}
		return GeneralError
	}

	code := string(errors.GetCode(err))
	switch {
	case code == string(errors.ErrCodeContainerPolicy):
		return PolicyViolation
	case strings.HasPrefix(code, "CONFIG-"):
		return ConfigError
	case strings.HasPrefix(code, "CONTAINER-"):
		return InfrastructureError
	case strings.HasPrefix(code, "LOG-"):
		return NetworkError
	case code != "":
		return GeneralError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown flag"), strings.Contains(msg, "unknown command"),
		strings.Contains(msg, "required flag"), strings.Contains(msg, "flags in the group"),
		strings.Contains(msg, "invalid argument"), strings.Contains(msg, "accepts"):
		return UsageError
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "unreachable"):
		return NetworkError
	}
	return GeneralError
}

// Description returns a human-readable description of an exit code
func Description(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case PolicyViolation:
		return "Image policy violation"
	case ConfigError:
		return "Configuration error"
	case InfrastructureError:
		return "Container infrastructure error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Goal failed"
	}
}
