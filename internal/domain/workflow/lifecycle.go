package workflow

// Request is pending -> in_progress -> {approved|rejected|cancelled|expired}.
// A pending request may complete directly when every step was skipped at creation.
var Request = newLifecycle("request").
	permit(StatePending, StateInProgress, TriggerStart).
	permit(StatePending, StateApproved, TriggerApprove).
	permit(StatePending, StateRejected, TriggerReject).
	permit(StatePending, StateCancelled, TriggerCancel).
	permit(StatePending, StateExpired, TriggerExpire).
	permit(StateInProgress, StateApproved, TriggerApprove).
	permit(StateInProgress, StateRejected, TriggerReject).
	permit(StateInProgress, StateCancelled, TriggerCancel).
	permit(StateInProgress, StateExpired, TriggerExpire)

// Step is pending -> active -> {approved|rejected|skipped}.
var Step = newLifecycle("step").
	permit(StatePending, StateActive, TriggerActivate).
	permit(StatePending, StateSkipped, TriggerSkip).
	permit(StateActive, StateApproved, TriggerApprove).
	permit(StateActive, StateRejected, TriggerReject).
	permit(StateActive, StateSkipped, TriggerSkip)

// RequestLifecycle returns a machine for an approval request in the given state
func RequestLifecycle(initial State) *Machine {
	return &Machine{lifecycle: Request, state: initial}
}

// StepLifecycle returns a machine for a request step in the given state
func StepLifecycle(initial State) *Machine {
	return &Machine{lifecycle: Step, state: initial}
}

// NextRequestState returns the state reached by firing trigger from a request in state from
func NextRequestState(from State, trigger Trigger) (State, error) {
	return Request.Next(from, trigger)
}

// NextStepState returns the state reached by firing trigger from a step in state from
func NextStepState(from State, trigger Trigger) (State, error) {
	return Step.Next(from, trigger)
}
