package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerStart    Trigger = "START"
	TriggerActivate Trigger = "ACTIVATE"
	TriggerApprove  Trigger = "APPROVE"
	TriggerReject   Trigger = "REJECT"
	TriggerSkip     Trigger = "SKIP"
	TriggerCancel   Trigger = "CANCEL"
	TriggerExpire   Trigger = "EXPIRE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
