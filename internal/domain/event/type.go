package event

// Type identifies the type of domain event
type Type string

const (
	TypeApprovalCreated   Type = "approval.created"
	TypeStepActivated     Type = "approval.step_activated"
	TypeDecisionRecorded  Type = "approval.decision_recorded"
	TypeApprovalCompleted Type = "approval.completed"
	TypeApprovalCancelled Type = "approval.cancelled"
	TypeApprovalExpired   Type = "approval.expired"
	TypeApprovalEscalated Type = "approval.escalated"
)

// Payload keys shared by publishers and subscribers
const (
	KeyStepID      = "step_id"
	KeyStepName    = "step_name"
	KeyApprovers   = "approvers"
	KeyDecision    = "decision"
	KeyNotes       = "notes"
	KeyStatus      = "status"
	KeyReason      = "reason"
	KeyObjectType  = "object_type"
	KeyObjectID    = "object_id"
	KeyObjectLabel = "object_label"
	KeyRequesterID = "requester_id"
	KeyLevel       = "level"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApprovalCreated,
		TypeStepActivated,
		TypeDecisionRecorded,
		TypeApprovalCompleted,
		TypeApprovalCancelled,
		TypeApprovalExpired,
		TypeApprovalEscalated:
		return true
	default:
		return false
	}
}
