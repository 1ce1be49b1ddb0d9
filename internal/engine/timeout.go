package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// TimeoutKind identifies which deadline a DueTimeout came from
type TimeoutKind string

const (
	TimeoutRequest TimeoutKind = "request_deadline"
	TimeoutStep    TimeoutKind = "step_deadline"
	TimeoutLadder  TimeoutKind = "escalation_level"
)

// DueTimeout is a deadline that has passed and the action it calls for
type DueTimeout struct {
	Kind   TimeoutKind            `json:"kind"`
	StepID string                 `json:"step_id,omitempty"`
	Action approval.TimeoutAction `json:"action"`
	Level  int                    `json:"level"`
	DueAt  time.Time              `json:"due_at"`
}

// TimeoutResult is the outcome of ApplyTimeout. Action is the action actually
// applied, which is expire when an escalate action finds the ladder exhausted.
type TimeoutResult struct {
	DecisionResult
	Action    approval.TimeoutAction
	Escalated []string
	Level     int
}

// DueTimeouts lists the deadlines of req that have passed at now: the
// workflow deadline first, then step deadlines in step order, then the next
// escalation ladder level. Terminal requests have none.
func (e *Engine) DueTimeouts(req *approval.Request, now time.Time) []DueTimeout {
	if req == nil || req.Status.IsTerminal() {
		return nil
	}
	var due []DueTimeout

	if req.ExpiresAt != nil && !now.Before(*req.ExpiresAt) {
		due = append(due, DueTimeout{
			Kind:   TimeoutRequest,
			Action: effectiveAction(req.TimeoutAction),
			DueAt:  *req.ExpiresAt,
		})
	}

	for _, s := range req.ActiveSteps() {
		if s.DeadlineAt == nil || now.Before(*s.DeadlineAt) {
			continue
		}
		action := s.TimeoutAction
		if action == "" {
			action = req.TimeoutAction
		}
		due = append(due, DueTimeout{
			Kind:   TimeoutStep,
			StepID: s.ID,
			Action: effectiveAction(action),
			DueAt:  *s.DeadlineAt,
		})
	}

	if level, at, ok := nextLadderLevel(req); ok && !now.Before(at) {
		due = append(due, DueTimeout{
			Kind:   TimeoutLadder,
			Action: approval.TimeoutEscalate,
			Level:  level,
			DueAt:  at,
		})
	}
	return due
}

// NextDeadline returns the earliest deadline of req that DueTimeouts would
// report once passed, or nil for terminal requests and requests without one.
func NextDeadline(req *approval.Request) *time.Time {
	if req == nil || req.Status.IsTerminal() {
		return nil
	}
	var next *time.Time
	consider := func(t time.Time) {
		if next == nil || t.Before(*next) {
			v := t
			next = &v
		}
	}
	if req.ExpiresAt != nil {
		consider(*req.ExpiresAt)
	}
	for _, s := range req.ActiveSteps() {
		if s.DeadlineAt != nil {
			consider(*s.DeadlineAt)
		}
	}
	if _, at, ok := nextLadderLevel(req); ok {
		consider(at)
	}
	return next
}

// nextLadderLevel returns the next unconsumed ladder level and when it falls
// due. Its timer runs from the later of the last ladder advance and the last
// escalation, or from creation.
func nextLadderLevel(req *approval.Request) (int, time.Time, bool) {
	level := req.LadderLevel
	if level < 0 || level >= len(req.Escalation) {
		return 0, time.Time{}, false
	}
	base := req.CreatedAt
	for _, t := range []*time.Time{req.LadderAt, req.LastEscalatedAt} {
		if t != nil && t.After(base) {
			base = *t
		}
	}
	return level, req.Escalation[level].After.AddTo(base), true
}

// ApplyTimeout executes one due timeout
func (e *Engine) ApplyTimeout(ctx context.Context, req *approval.Request, due DueTimeout) (TimeoutResult, error) {
	result := TimeoutResult{DecisionResult: DecisionResult{Request: req}, Action: due.Action, Level: -1}
	if req == nil {
		return result, approval.NewError(approval.KindValidation, "request is required")
	}
	if req.Status.IsTerminal() {
		return result, approval.NewError(approval.KindInvalidState, "request %s is already %s", req.ID, req.Status)
	}

	switch due.Kind {
	case TimeoutRequest:
		return e.applyRequestTimeout(ctx, req, due, result)
	case TimeoutStep:
		return e.applyStepTimeout(ctx, req, due, result)
	case TimeoutLadder:
		next, added, level, err := e.escalateLevel(ctx, req, "escalation deadline passed")
		if err != nil {
			return result, err
		}
		if next == nil {
			// No remaining level adds anyone. Consume the ladder so the
			// deadline does not stay due.
			next = e.consumeLadder(req, len(req.Escalation))
		}
		result.Request, result.Escalated, result.Level = next, added, level
		return result, nil
	}
	return result, approval.NewError(approval.KindValidation, "unknown timeout kind %q", due.Kind)
}

func (e *Engine) applyRequestTimeout(ctx context.Context, req *approval.Request, due DueTimeout, result TimeoutResult) (TimeoutResult, error) {
	now := e.now()

	switch effectiveAction(due.Action) {
	case approval.TimeoutAutoApprove:
		next := req.Clone()
		for i := range next.Steps {
			if next.Steps[i].Status.IsTerminal() {
				continue
			}
			if err := skipStep(&next.Steps[i], now, "skipped by workflow timeout"); err != nil {
				return result, err
			}
		}
		if err := finish(next, approval.DecisionApproved, SystemActor, "auto-approved after workflow timeout", now); err != nil {
			return result, err
		}
		result.Request, result.Completed = next, true
		return result, nil

	case approval.TimeoutAutoReject:
		next := req.Clone()
		for _, s := range next.ActiveSteps() {
			if err := fireStep(s, workflow.TriggerReject); err != nil {
				return result, err
			}
			s.CompletedAt = &now
			s.Notes = append(s.Notes, "rejected by workflow timeout")
		}
		if err := finish(next, approval.DecisionRejected, SystemActor, "auto-rejected after workflow timeout", now); err != nil {
			return result, err
		}
		result.Request, result.Completed = next, true
		return result, nil

	case approval.TimeoutEscalate:
		next, added, level, err := e.escalateLevel(ctx, req, "workflow deadline passed")
		if err != nil {
			return result, err
		}
		if next != nil {
			extended := next.Escalation[level].After.AddTo(now)
			next.ExpiresAt = &extended
			result.Request, result.Escalated, result.Level = next, added, level
			return result, nil
		}
	}

	return e.expireResult(req, result)
}

func (e *Engine) applyStepTimeout(ctx context.Context, req *approval.Request, due DueTimeout, result TimeoutResult) (TimeoutResult, error) {
	step, ok := req.Step(due.StepID)
	if !ok {
		return result, approval.NewError(approval.KindNotFound, "step %s not found on request %s", due.StepID, req.ID)
	}
	if step.Status != approval.StepActive {
		return result, approval.NewError(approval.KindInvalidState, "step %s is %s, not active", step.ID, step.Status)
	}

	switch effectiveAction(due.Action) {
	case approval.TimeoutAutoApprove:
		res, err := e.ForceStepDecision(req, step.ID, approval.DecisionApproved, SystemActor, "auto-approved after step timeout")
		result.DecisionResult = res
		return result, err

	case approval.TimeoutAutoReject:
		res, err := e.ForceStepDecision(req, step.ID, approval.DecisionRejected, SystemActor, "auto-rejected after step timeout")
		result.DecisionResult = res
		return result, err

	case approval.TimeoutEscalate:
		next, added, level, err := e.escalateLevel(ctx, req, fmt.Sprintf("step %s deadline passed", step.Name))
		if err != nil {
			return result, err
		}
		if next != nil {
			s, _ := next.Step(step.ID)
			extended := next.Escalation[level].After.AddTo(e.now())
			s.DeadlineAt = &extended
			result.Request, result.Escalated, result.Level = next, added, level
			return result, nil
		}
	}

	return e.expireResult(req, result)
}

func (e *Engine) expireResult(req *approval.Request, result TimeoutResult) (TimeoutResult, error) {
	next, err := e.Expire(req)
	if err != nil {
		return result, err
	}
	result.Request, result.Completed, result.Action = next, true, approval.TimeoutExpire
	return result, nil
}

// escalateLevel escalates with the first remaining ladder level that adds a
// new approver to the active steps. Levels passed over are consumed with it.
// It returns a nil request when no remaining level adds anyone.
func (e *Engine) escalateLevel(ctx context.Context, req *approval.Request, reason string) (*approval.Request, []string, int, error) {
	in := resolveInputFor(req)
	for level := req.LadderLevel; level < len(req.Escalation); level++ {
		ids, err := e.ResolveApprovers(ctx, req.Escalation[level].Approvers, in)
		if err != nil {
			return nil, nil, level, err
		}
		next, err := e.Escalate(req, ids, fmt.Sprintf("escalated to level %d: %s", level+1, reason))
		if approval.KindOf(err) == approval.KindValidation {
			continue
		}
		if err != nil {
			return nil, nil, level, err
		}
		next.LadderLevel = level + 1
		next.LadderAt = cloneTimePtr(next.LastEscalatedAt)
		return next, ids, level, nil
	}
	return nil, nil, -1, nil
}

// consumeLadder moves the ladder cursor to level without escalating
func (e *Engine) consumeLadder(req *approval.Request, level int) *approval.Request {
	now := e.now()
	next := req.Clone()
	next.LadderLevel = level
	next.LadderAt = &now
	next.UpdatedAt = now
	return next
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func effectiveAction(a approval.TimeoutAction) approval.TimeoutAction {
	if a == "" {
		return approval.TimeoutExpire
	}
	return a
}
