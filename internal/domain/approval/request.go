package approval

import "time"

// Status is the overall status of an approval request
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

var statusSeverity = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusApproved:   2,
	StatusRejected:   3,
	StatusCancelled:  4,
	StatusExpired:    5,
}

// IsTerminal returns true once no further transition may be applied
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsValid returns true for the known statuses
func (s Status) IsValid() bool {
	_, ok := statusSeverity[s]
	return ok
}

// Severity gives the fixed sort rank: pending < in_progress < approved < rejected < cancelled < expired
func (s Status) Severity() int {
	if rank, ok := statusSeverity[s]; ok {
		return rank
	}
	return len(statusSeverity)
}

// StepStatus is the status of a single request step
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// IsTerminal returns true for approved, rejected and skipped
func (s StepStatus) IsTerminal() bool {
	return s == StepApproved || s == StepRejected || s == StepSkipped
}

// Decision is one approver's vote
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionDeferred  Decision = "deferred"
	DecisionEscalated Decision = "escalated"
)

// IsValid returns true for the known decisions
func (d Decision) IsValid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionDeferred, DecisionEscalated:
		return true
	}
	return false
}

// ObjectRef identifies the business object being gated
type ObjectRef struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// AssignedApprover is a principal assigned to a step
type AssignedApprover struct {
	PrincipalID string     `json:"principal_id"`
	AssignedAt  time.Time  `json:"assigned_at"`
	Responded   bool       `json:"responded"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// StepDecision is an append-only vote record
type StepDecision struct {
	ApproverID  string    `json:"approver_id"`
	Decision    Decision  `json:"decision"`
	Notes       string    `json:"notes,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Step is one instance of a step template inside a request
type Step struct {
	ID                string             `json:"id"`
	TemplateID        string             `json:"template_id,omitempty"`
	Name              string             `json:"name"`
	Order             int                `json:"order"`
	Status            StepStatus         `json:"status"`
	Approvers         []AssignedApprover `json:"approvers"`
	RequiredApprovals int                `json:"required_approvals"`
	Decisions         []StepDecision     `json:"decisions"`
	Timeout           *Duration          `json:"timeout,omitempty"`
	TimeoutAction     TimeoutAction      `json:"timeout_action,omitempty"`
	Conditions        []Trigger          `json:"conditions,omitempty"`
	ActivatedAt       *time.Time         `json:"activated_at,omitempty"`
	DeadlineAt        *time.Time         `json:"deadline_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	Notes             []string           `json:"notes,omitempty"`
}

// Approver returns the assignment for principalID, if any
func (s *Step) Approver(principalID string) (*AssignedApprover, bool) {
	for i := range s.Approvers {
		if s.Approvers[i].PrincipalID == principalID {
			return &s.Approvers[i], true
		}
	}
	return nil, false
}

// CanVote reports whether principalID is assigned and has not yet responded
func (s *Step) CanVote(principalID string) bool {
	a, ok := s.Approver(principalID)
	return ok && !a.Responded
}

// CountDecisions returns how many recorded votes equal d
func (s *Step) CountDecisions(d Decision) int {
	n := 0
	for _, dec := range s.Decisions {
		if dec.Decision == d {
			n++
		}
	}
	return n
}

// Request is a live approval instance
type Request struct {
	ID              string            `json:"id"`
	PolicyID        string            `json:"policy_id"`
	WorkflowID      string            `json:"workflow_id"`
	Object          ObjectRef         `json:"object"`
	Status          Status            `json:"status"`
	Mode            ExecutionMode     `json:"mode"`
	RequesterID     string            `json:"requester_id"`
	RequesterName   string            `json:"requester_name,omitempty"`
	TriggerReason   string            `json:"trigger_reason,omitempty"`
	TriggerData     map[string]any    `json:"trigger_data,omitempty"`
	ObjectData      map[string]any    `json:"object_data,omitempty"`
	Steps           []Step            `json:"steps"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	TimeoutAction   TimeoutAction     `json:"timeout_action,omitempty"`
	Escalation      []EscalationLevel `json:"escalation,omitempty"`
	EscalationCount int               `json:"escalation_count"`
	LastEscalatedAt *time.Time        `json:"last_escalated_at,omitempty"`
	// LadderLevel is the index of the next unconsumed escalation level.
	// LadderAt is when the ladder last advanced.
	LadderLevel     int               `json:"ladder_level"`
	LadderAt        *time.Time        `json:"ladder_at,omitempty"`
	FinalDecision   Decision          `json:"final_decision,omitempty"`
	DecidedBy       string            `json:"decided_by,omitempty"`
	DecidedAt       *time.Time        `json:"decided_at,omitempty"`
	DecisionNotes   string            `json:"decision_notes,omitempty"`
	Version         int64             `json:"version"`
}

// Step returns a pointer to the step with the given id
func (r *Request) Step(stepID string) (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// ActiveSteps returns the currently active steps in order
func (r *Request) ActiveSteps() []*Step {
	var active []*Step
	for i := range r.Steps {
		if r.Steps[i].Status == StepActive {
			active = append(active, &r.Steps[i])
		}
	}
	return active
}

// IsAssigned reports whether principalID is assigned to any step
func (r *Request) IsAssigned(principalID string) bool {
	for i := range r.Steps {
		if _, ok := r.Steps[i].Approver(principalID); ok {
			return true
		}
	}
	return false
}

// IsPendingFor reports whether principalID can currently vote on an active step
func (r *Request) IsPendingFor(principalID string) bool {
	if r.Status.IsTerminal() {
		return false
	}
	for _, s := range r.ActiveSteps() {
		if s.CanVote(principalID) {
			return true
		}
	}
	return false
}

// HasDecisions reports whether any vote has been recorded
func (r *Request) HasDecisions() bool {
	for i := range r.Steps {
		if len(r.Steps[i].Decisions) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.TriggerData = cloneMap(r.TriggerData)
	c.ObjectData = cloneMap(r.ObjectData)
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.LastEscalatedAt = cloneTime(r.LastEscalatedAt)
	c.LadderAt = cloneTime(r.LadderAt)
	c.DecidedAt = cloneTime(r.DecidedAt)
	if r.Escalation != nil {
		c.Escalation = make([]EscalationLevel, len(r.Escalation))
		for i, lvl := range r.Escalation {
			c.Escalation[i] = EscalationLevel{After: lvl.After, Approvers: lvl.Approvers.clone()}
		}
	}
	if r.Steps != nil {
		c.Steps = make([]Step, len(r.Steps))
		for i := range r.Steps {
			c.Steps[i] = r.Steps[i].clone()
		}
	}
	return &c
}

func (s Step) clone() Step {
	c := s
	if s.Approvers != nil {
		c.Approvers = make([]AssignedApprover, len(s.Approvers))
		for i, a := range s.Approvers {
			a.RespondedAt = cloneTime(a.RespondedAt)
			c.Approvers[i] = a
		}
	}
	if s.Decisions != nil {
		c.Decisions = make([]StepDecision, len(s.Decisions))
		for i, d := range s.Decisions {
			d.Attachments = append([]string(nil), d.Attachments...)
			c.Decisions[i] = d
		}
	}
	if s.Timeout != nil {
		t := *s.Timeout
		c.Timeout = &t
	}
	c.Conditions = append([]Trigger(nil), s.Conditions...)
	c.Notes = append([]string(nil), s.Notes...)
	c.ActivatedAt = cloneTime(s.ActivatedAt)
	c.DeadlineAt = cloneTime(s.DeadlineAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	return c
}

func (a ApproverSpec) clone() ApproverSpec {
	return ApproverSpec{
		Type:    a.Type,
		Value:   append([]string(nil), a.Value...),
		Exclude: append([]string(nil), a.Exclude...),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
