package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

func TestCancel(t *testing.T) {
	e, clock := newTestEngine()
	req := mustCreate(t, e, workflowOf(approval.ModeSequential, stepTemplate("review", 1, "any", "a")))

	clock.Advance(time.Minute)
	cancelled, err := e.Cancel(req, "requester", "order withdrawn")
	require.NoError(t, err)

	assert.Equal(t, approval.StatusCancelled, cancelled.Status)
	assert.Equal(t, "requester", cancelled.DecidedBy)
	assert.Equal(t, "order withdrawn", cancelled.DecisionNotes)
	assert.Empty(t, cancelled.FinalDecision)
	assert.Equal(t, baseTime.Add(time.Minute), *cancelled.DecidedAt)
	assert.Equal(t, approval.StatusPending, req.Status)

	again, err := e.Cancel(cancelled, "requester", "")
	assert.Equal(t, approval.KindInvalidState, approval.KindOf(err))
	assert.Same(t, cancelled, again)

	_, err = e.SubmitDecision(cancelled, DecisionInput{StepID: req.Steps[0].ID, ApproverID: "a", Decision: approval.DecisionApproved})
	assert.Equal(t, approval.KindInvalidState, approval.KindOf(err))

	_, err = e.Escalate(cancelled, []string{"z"}, "")
	assert.Equal(t, approval.KindInvalidState, approval.KindOf(err))
}

func TestExpire(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreate(t, e, workflowOf(approval.ModeSequential, stepTemplate("review", 1, "any", "a")))

	expired, err := e.Expire(req)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, expired.Status)
	assert.Empty(t, expired.FinalDecision)
	assert.Nil(t, expired.DecidedAt)

	_, err = e.Expire(expired)
	assert.Equal(t, approval.KindInvalidState, approval.KindOf(err))

	approved := mustDecide(t, e, req, 0, "a", approval.DecisionApproved).Request
	_, err = e.Expire(approved)
	assert.Equal(t, approval.KindInvalidState, approval.KindOf(err))
}

func TestEscalate(t *testing.T) {
	e, clock := newTestEngine()
	req := mustCreate(t, e, workflowOf(approval.ModeParallel,
		stepTemplate("legal", 1, "any", "legal"),
		stepTemplate("finance", 2, "any", "fin"),
		stepTemplate("security", 3, "any", "sec"),
	))
	req = mustDecide(t, e, req, 2, "sec", approval.DecisionApproved).Request
	before := stepStatuses(req)

	clock.Advance(2 * time.Hour)
	escalated, err := e.Escalate(req, []string{"vp", "fin", "vp"}, "overdue")
	require.NoError(t, err)

	assert.Equal(t, 1, escalated.EscalationCount)
	assert.Equal(t, baseTime.Add(2*time.Hour), *escalated.LastEscalatedAt)
	assert.Equal(t, before, stepStatuses(escalated), "statuses unchanged")
	assert.Equal(t, req.Status, escalated.Status)

	assert.Len(t, escalated.Steps[0].Approvers, 3, "legal gains vp and fin")
	assert.Len(t, escalated.Steps[1].Approvers, 2, "finance gains vp only")
	assert.Len(t, escalated.Steps[2].Approvers, 1, "completed steps untouched")
	assert.Equal(t, []string{"overdue"}, escalated.Steps[0].Notes)
	assert.Empty(t, escalated.Steps[2].Notes)

	assert.Equal(t, 0, req.EscalationCount, "input not mutated")
	assert.Len(t, req.Steps[0].Approvers, 1)

	res := mustDecide(t, e, escalated, 1, "vp", approval.DecisionApproved)
	assert.Equal(t, approval.StepApproved, res.Request.Steps[1].Status)
}

func TestEscalate_RequiresNewApprovers(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreate(t, e, workflowOf(approval.ModeSequential, stepTemplate("review", 1, "any", "a")))

	_, err := e.Escalate(req, nil, "")
	assert.Equal(t, approval.KindValidation, approval.KindOf(err))

	same, err := e.Escalate(req, []string{"a"}, "")
	assert.Equal(t, approval.KindValidation, approval.KindOf(err))
	assert.Same(t, req, same)
}
