package schema

import "fmt"

// ExecutionState is the lifecycle state of a node in an execution result tree.
type ExecutionState int

const (
	StateExecuting ExecutionState = iota
	StateSuccess
	StateFailure
	StateError
	StateInterrupted
	StateComputed
)

var stateNames = [...]string{
	StateExecuting:   "EXECUTING",
	StateSuccess:     "SUCCESS",
	StateFailure:     "FAILURE",
	StateError:       "ERROR",
	StateInterrupted: "INTERRUPTED",
	StateComputed:    "COMPUTED",
}

// String returns the upper-case state name, e.g. "SUCCESS".
func (s ExecutionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ExecutionState(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether s is a final state. COMPUTED is transient and
// always resolves to one of the terminal states.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateError, StateInterrupted:
		return true
	default:
		return false
	}
}

// ParseExecutionState converts a state name back into an ExecutionState.
func ParseExecutionState(name string) (ExecutionState, error) {
	for i, n := range stateNames {
		if n == name {
			return ExecutionState(i), nil
		}
	}
	return StateExecuting, NewErrorf(ErrCodeValidation, "unknown execution state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s ExecutionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ExecutionState) UnmarshalText(text []byte) error {
	parsed, err := ParseExecutionState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
