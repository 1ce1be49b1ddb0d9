package workflow

// State is a lifecycle state shared by approval requests and their steps.
// Values match the persisted approval.Status and approval.StepStatus strings.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateActive     State = "active"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateSkipped    State = "skipped"
	StateCancelled  State = "cancelled"
	StateExpired    State = "expired"
)

var validStates = map[State]bool{
	StatePending:    true,
	StateInProgress: true,
	StateActive:     true,
	StateApproved:   true,
	StateRejected:   true,
	StateSkipped:    true,
	StateCancelled:  true,
	StateExpired:    true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateSkipped:   true,
	StateCancelled: true,
	StateExpired:   true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
