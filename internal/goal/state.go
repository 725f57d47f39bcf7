package goal

// State is the lifecycle state of a goal instance
type State string

const (
	StatePlanned            State = "planned"
	StateRequested          State = "requested"
	StateInProcess          State = "in_process"
	StateWaitingForApproval State = "waiting_for_approval"
	StateSuccess            State = "success"
	StateFailure            State = "failure"
	StateSkipped            State = "skipped"
	StateStopped            State = "stopped"
	StateCanceled           State = "canceled"
)

// AllStates lists every known state in lifecycle order
var AllStates = []State{
	StatePlanned,
	StateRequested,
	StateInProcess,
	StateWaitingForApproval,
	StateSuccess,
	StateFailure,
	StateSkipped,
	StateStopped,
	StateCanceled,
}

// IsTerminal returns true if no further transition may occur from this state
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateSkipped, StateStopped, StateCanceled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known states
func (s State) IsValid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}
