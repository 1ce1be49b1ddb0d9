package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")
)

// TransitionError reports a trigger the lifecycle does not permit from a state
type TransitionError struct {
	Lifecycle string
	From      State
	Trigger   Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", e.Lifecycle, e.Trigger, e.From)
}

// Unwrap makes errors.Is(err, ErrInvalidTransition) hold
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
