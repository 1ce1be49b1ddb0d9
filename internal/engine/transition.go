package engine

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// DecisionInput is one approver's vote on one step
type DecisionInput struct {
	StepID      string            `json:"step_id"`
	ApproverID  string            `json:"approver_id"`
	Decision    approval.Decision `json:"decision"`
	Notes       string            `json:"notes,omitempty"`
	Attachments []string          `json:"attachments,omitempty"`
}

// DecisionResult is the outcome of a vote or forced step decision.
// Completed is true only when the request became terminal through this call.
type DecisionResult struct {
	Request       *approval.Request
	Completed     bool
	StepCompleted bool
	Activated     []string
}

// SubmitDecision records a vote. A vote against a missing step returns
// NOT_FOUND; against a non-active step or an unassigned or already-responded
// approver it returns INVALID_STATE. In both cases the original request is
// returned unchanged.
func (e *Engine) SubmitDecision(req *approval.Request, in DecisionInput) (DecisionResult, error) {
	unchanged := DecisionResult{Request: req}
	if req == nil {
		return unchanged, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return unchanged, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}
	if !in.Decision.IsValid() {
		return unchanged, approval.NewError(approval.KindValidation, "unknown decision %q", in.Decision)
	}
	if in.ApproverID == "" {
		return unchanged, approval.NewError(approval.KindValidation, "approver id is required")
	}

	step, ok := req.Step(in.StepID)
	if !ok {
		return unchanged, approval.NewError(approval.KindNotFound, "step %s not found on request %s", in.StepID, req.ID)
	}
	if step.Status != approval.StepActive {
		return unchanged, approval.NewError(approval.KindInvalidState, "step %s is %s, not active", step.ID, step.Status)
	}
	assigned, ok := step.Approver(in.ApproverID)
	if !ok {
		return unchanged, approval.NewError(approval.KindInvalidState, "%s is not assigned to step %s", in.ApproverID, step.ID)
	}
	if assigned.Responded {
		return unchanged, approval.NewError(approval.KindInvalidState, "%s has already responded on step %s", in.ApproverID, step.ID)
	}

	now := e.now()
	next := req.Clone()
	s, _ := next.Step(in.StepID)
	a, _ := s.Approver(in.ApproverID)
	a.Responded = true
	a.RespondedAt = &now
	s.Decisions = append(s.Decisions, approval.StepDecision{
		ApproverID:  in.ApproverID,
		Decision:    in.Decision,
		Notes:       in.Notes,
		Attachments: append([]string(nil), in.Attachments...),
		DecidedAt:   now,
	})
	next.UpdatedAt = now

	done, err := tallyStep(s, now)
	if err != nil {
		return unchanged, err
	}
	result := DecisionResult{Request: next}
	if !done {
		return result, nil
	}
	result.StepCompleted = true
	result.Completed, result.Activated, err = e.settle(next, now, in.ApproverID, in.Notes)
	if err != nil {
		return unchanged, err
	}
	return result, nil
}

// ForceStepDecision approves or rejects an active step without a vote, as
// done by step timeouts. The note is attached to the step.
func (e *Engine) ForceStepDecision(req *approval.Request, stepID string, decision approval.Decision, actorID, note string) (DecisionResult, error) {
	unchanged := DecisionResult{Request: req}
	if req == nil {
		return unchanged, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return unchanged, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}
	trigger := workflow.TriggerApprove
	switch decision {
	case approval.DecisionApproved:
	case approval.DecisionRejected:
		trigger = workflow.TriggerReject
	default:
		return unchanged, approval.NewError(approval.KindValidation, "a step can only be forced to approved or rejected, got %q", decision)
	}
	step, ok := req.Step(stepID)
	if !ok {
		return unchanged, approval.NewError(approval.KindNotFound, "step %s not found on request %s", stepID, req.ID)
	}
	if step.Status != approval.StepActive {
		return unchanged, approval.NewError(approval.KindInvalidState, "step %s is %s, not active", step.ID, step.Status)
	}

	now := e.now()
	next := req.Clone()
	s, _ := next.Step(stepID)
	if err := fireStep(s, trigger); err != nil {
		return unchanged, err
	}
	s.CompletedAt = &now
	if note != "" {
		s.Notes = append(s.Notes, note)
	}
	next.UpdatedAt = now

	result := DecisionResult{Request: next, StepCompleted: true}
	var err error
	result.Completed, result.Activated, err = e.settle(next, now, actorID, note)
	if err != nil {
		return unchanged, err
	}
	return result, nil
}

// tallyStep applies the quorum rule: any rejection vetoes, otherwise the step
// is approved once approvals reach the resolved count. It reports whether the
// step became terminal.
func tallyStep(s *approval.Step, now time.Time) (bool, error) {
	var trigger workflow.Trigger
	switch {
	case s.CountDecisions(approval.DecisionRejected) > 0:
		trigger = workflow.TriggerReject
	case approvedEnough(s):
		trigger = workflow.TriggerApprove
	default:
		return false, nil
	}
	if err := fireStep(s, trigger); err != nil {
		return false, err
	}
	s.CompletedAt = &now
	return true, nil
}

func approvedEnough(s *approval.Step) bool {
	approved := s.CountDecisions(approval.DecisionApproved)
	return approved > 0 && approved >= s.RequiredApprovals
}

// settle runs after a step reached a terminal status. A rejected step rejects
// the request. Otherwise the next eligible steps are activated and the
// request is approved once every step is approved or skipped.
func (e *Engine) settle(req *approval.Request, now time.Time, actorID, notes string) (bool, []string, error) {
	if hasRejectedStep(req) {
		if err := finish(req, approval.DecisionRejected, actorID, notes, now); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	activated, err := e.activate(req, now)
	if err != nil {
		return false, nil, err
	}
	if allResolved(req) {
		if err := finish(req, approval.DecisionApproved, actorID, notes, now); err != nil {
			return false, activated, err
		}
		return true, activated, nil
	}
	if req.Status == approval.StatusPending {
		if err := fireRequest(req, workflow.TriggerStart); err != nil {
			return false, activated, err
		}
	}
	return false, activated, nil
}

// activate applies the execution mode's activation rule and returns the ids
// of steps it activated. Parallel requests activate every pending step.
// Sequential and conditional requests activate the first non-terminal step,
// and conditional requests skip steps whose conditions do not match.
func (e *Engine) activate(req *approval.Request, now time.Time) ([]string, error) {
	var activated []string

	if req.Mode == approval.ModeParallel {
		for i := range req.Steps {
			s := &req.Steps[i]
			if s.Status != approval.StepPending {
				continue
			}
			if err := startStep(s, now); err != nil {
				return activated, err
			}
			activated = append(activated, s.ID)
		}
		return activated, nil
	}

	for i := range req.Steps {
		s := &req.Steps[i]
		if s.Status.IsTerminal() {
			continue
		}
		if s.Status == approval.StepActive {
			return activated, nil
		}
		if req.Mode == approval.ModeConditional && !e.conditionsMatch(s, req) {
			if err := skipStep(s, now, "activation conditions not met"); err != nil {
				return activated, err
			}
			continue
		}
		if err := startStep(s, now); err != nil {
			return activated, err
		}
		return append(activated, s.ID), nil
	}
	return activated, nil
}

// conditionsMatch uses OR semantics like policy triggers. No conditions means eligible.
func (e *Engine) conditionsMatch(s *approval.Step, req *approval.Request) bool {
	if len(s.Conditions) == 0 {
		return true
	}
	obj := ObjectContext{ObjectType: req.Object.Type, Current: req.ObjectData}
	for _, c := range s.Conditions {
		if ok, _ := e.EvaluateTrigger(c, obj); ok {
			return true
		}
	}
	return false
}

func startStep(s *approval.Step, now time.Time) error {
	if err := fireStep(s, workflow.TriggerActivate); err != nil {
		return err
	}
	s.ActivatedAt = &now
	if s.Timeout != nil {
		deadline := s.Timeout.AddTo(now)
		s.DeadlineAt = &deadline
	}
	return nil
}

func skipStep(s *approval.Step, now time.Time, note string) error {
	if err := fireStep(s, workflow.TriggerSkip); err != nil {
		return err
	}
	s.CompletedAt = &now
	if note != "" {
		s.Notes = append(s.Notes, note)
	}
	return nil
}

func finish(req *approval.Request, decision approval.Decision, actorID, notes string, now time.Time) error {
	trigger := workflow.TriggerApprove
	if decision == approval.DecisionRejected {
		trigger = workflow.TriggerReject
	}
	if err := fireRequest(req, trigger); err != nil {
		return err
	}
	req.FinalDecision = decision
	req.DecidedBy = actorID
	req.DecidedAt = &now
	req.DecisionNotes = notes
	req.UpdatedAt = now
	return nil
}

func hasRejectedStep(req *approval.Request) bool {
	for i := range req.Steps {
		if req.Steps[i].Status == approval.StepRejected {
			return true
		}
	}
	return false
}

func allResolved(req *approval.Request) bool {
	for i := range req.Steps {
		switch req.Steps[i].Status {
		case approval.StepApproved, approval.StepSkipped:
		default:
			return false
		}
	}
	return true
}

func fireRequest(req *approval.Request, trigger workflow.Trigger) error {
	next, err := workflow.NextRequestState(workflow.State(req.Status), trigger)
	if err != nil {
		return approval.NewError(approval.KindInvalidState, "request %s: %v", req.ID, err)
	}
	req.Status = approval.Status(next)
	return nil
}

func fireStep(s *approval.Step, trigger workflow.Trigger) error {
	next, err := workflow.NextStepState(workflow.State(s.Status), trigger)
	if err != nil {
		return approval.NewError(approval.KindInvalidState, "step %s: %v", s.ID, err)
	}
	s.Status = approval.StepStatus(next)
	return nil
}
