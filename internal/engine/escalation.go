package engine

import (
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Cancel moves a non-terminal request to cancelled
func (e *Engine) Cancel(req *approval.Request, cancellerID, reason string) (*approval.Request, error) {
	if req == nil {
		return nil, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return req, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}

	now := e.now()
	next := req.Clone()
	if err := fireRequest(next, workflow.TriggerCancel); err != nil {
		return req, err
	}
	next.FinalDecision = ""
	next.DecidedBy = cancellerID
	next.DecidedAt = &now
	next.DecisionNotes = reason
	next.UpdatedAt = now
	return next, nil
}

// Expire moves a non-terminal request to expired and clears any final decision
func (e *Engine) Expire(req *approval.Request) (*approval.Request, error) {
	if req == nil {
		return nil, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return req, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}

	next := req.Clone()
	if err := fireRequest(next, workflow.TriggerExpire); err != nil {
		return req, err
	}
	next.FinalDecision = ""
	next.DecidedBy = ""
	next.DecidedAt = nil
	next.DecisionNotes = ""
	next.UpdatedAt = e.now()
	return next, nil
}

// Escalate assigns approverIDs to every active step, increments the
// escalation counter and records the escalation time. Step and request
// statuses are unchanged. Every active step must gain at least one approver.
func (e *Engine) Escalate(req *approval.Request, approverIDs []string, reason string) (*approval.Request, error) {
	if req == nil {
		return nil, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return req, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}
	ids := filterApprovers(approverIDs, nil)
	if len(ids) == 0 {
		return req, approval.NewError(approval.KindValidation, "escalation needs at least one approver")
	}
	active := req.ActiveSteps()
	if len(active) == 0 {
		return req, approval.NewError(approval.KindInvalidState, "request %s has no active step to escalate", req.ID)
	}
	for _, s := range active {
		if len(newApprovers(s, ids)) == 0 {
			return req, approval.NewError(approval.KindValidation, "escalation adds no new approvers to step %s", s.ID)
		}
	}

	now := e.now()
	next := req.Clone()
	for _, s := range next.ActiveSteps() {
		for _, id := range newApprovers(s, ids) {
			s.Approvers = append(s.Approvers, approval.AssignedApprover{PrincipalID: id, AssignedAt: now})
		}
		if reason != "" {
			s.Notes = append(s.Notes, reason)
		}
	}
	next.EscalationCount++
	next.LastEscalatedAt = &now
	next.UpdatedAt = now
	return next, nil
}

func newApprovers(s *approval.Step, ids []string) []string {
	var fresh []string
	for _, id := range ids {
		if _, assigned := s.Approver(id); !assigned {
			fresh = append(fresh, id)
		}
	}
	return fresh
}
