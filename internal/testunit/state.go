package testunit

// State represents the execution state of a test unit.
type State string

const (
	// StateNotStarted indicates the unit has not been dispatched yet.
	StateNotStarted State = "not_started"

	// StateRunning indicates the unit is between its dependency gate and
	// its final state transition.
	StateRunning State = "running"

	// StatePassed indicates the body completed without error.
	StatePassed State = "passed"

	// StateFailed indicates the body, a Before hook, instance creation or
	// dependency resolution failed.
	StateFailed State = "failed"

	// StateSkipped indicates the unit never ran its body, either because it
	// was declared skipped or because a required dependency failed.
	StateSkipped State = "skipped"

	// StateCancelled indicates the run was cancelled before or while the
	// unit executed.
	StateCancelled State = "cancelled"

	// StateTimedOut indicates the body exceeded the unit's timeout.
	StateTimedOut State = "timed_out"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if this state represents a final state.
func (s State) IsTerminal() bool {
	switch s {
	case StatePassed, StateFailed, StateSkipped, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// IsFailure returns true for the terminal states that block dependents
// whose edge does not proceed on failure.
func (s State) IsFailure() bool {
	return s == StateFailed || s == StateTimedOut
}

// TerminalStates lists every terminal state in display order.
var TerminalStates = []State{StatePassed, StateFailed, StateTimedOut, StateSkipped, StateCancelled}
