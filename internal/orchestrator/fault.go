package orchestrator

import (
	"fmt"

	"github.com/felixgeelhaar/goalrun/internal/goal"
)

// Stages a fault can originate from
const (
	WherePreHook  = "executing pre-goal hook"
	WhereGoal     = "executing goal"
	WherePostHook = "executing post-goal hooks"
)

// Fault is a failed stage of a goal execution. Result is the failing
// stage's result when it produced one.
type Fault struct {
	Where  string
	Result *goal.ExecutionResult
	Cause  error
}

func (f *Fault) Error() string {
	switch {
	case f.Cause != nil:
		return fmt.Sprintf("%s: %v", f.Where, f.Cause)
	case f.Result != nil && f.Result.Message != "":
		return fmt.Sprintf("%s: %s", f.Where, f.Result.Message)
	default:
		return f.Where + " failed"
	}
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// Code is the exit code the failure is reported with: the failing result's
// code, or 1
func (f *Fault) Code() int {
	if f.Result != nil && f.Result.Code != 0 {
		return f.Result.Code
	}
	return 1
}
