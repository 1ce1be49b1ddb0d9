package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

func TestCreateRequest_Sequential(t *testing.T) {
	e, _ := newTestEngine()
	wf := workflowOf(approval.ModeSequential,
		stepTemplate("finance", 2, "all", "fin-1", "fin-2"),
		stepTemplate("manager", 1, "any", "mgr-1", "mgr-2"),
	)
	wf.Timeout = &approval.Duration{Value: 3, Unit: approval.UnitDays}

	req := mustCreate(t, e, wf)

	assert.Equal(t, "id-1", req.ID)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, "po-large", req.PolicyID)
	assert.Equal(t, "wf-1", req.WorkflowID)
	assert.Equal(t, approval.ObjectRef{Type: "purchase_order", ID: "PO-1001", Label: "PO 1001"}, req.Object)
	assert.Equal(t, baseTime, req.CreatedAt)
	require.NotNil(t, req.ExpiresAt)
	assert.Equal(t, baseTime.AddDate(0, 0, 3), *req.ExpiresAt)

	require.Len(t, req.Steps, 2)
	assert.Equal(t, "manager", req.Steps[0].Name, "steps ordered by order key")
	assert.Equal(t, 1, req.Steps[0].RequiredApprovals)
	assert.Equal(t, 2, req.Steps[1].RequiredApprovals)
	assert.Equal(t, []approval.StepStatus{approval.StepActive, approval.StepPending}, stepStatuses(req))
	assert.Equal(t, baseTime, *req.Steps[0].ActivatedAt)
	assert.Equal(t, baseTime, req.Steps[0].Approvers[0].AssignedAt)
	assert.False(t, req.Steps[0].Approvers[0].Responded)
}

func TestCreateRequest_Parallel(t *testing.T) {
	e, _ := newTestEngine()
	req := mustCreate(t, e, workflowOf(approval.ModeParallel,
		stepTemplate("legal", 1, "any", "legal-1"),
		stepTemplate("finance", 2, "any", "fin-1"),
		stepTemplate("security", 3, "any", "sec-1"),
	))

	assert.Equal(t, []approval.StepStatus{approval.StepActive, approval.StepActive, approval.StepActive}, stepStatuses(req))
	assert.Equal(t, approval.StatusPending, req.Status)
}

func TestCreateRequest_QuorumResolution(t *testing.T) {
	e, _ := newTestEngine()
	five := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		quorum string
		want   int
	}{
		{"all", 5},
		{"any", 1},
		{"majority", 3},
		{"60%", 3},
		{"2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.quorum, func(t *testing.T) {
			req := mustCreate(t, e, workflowOf(approval.ModeSequential, stepTemplate("s", 1, tt.quorum, five...)))
			assert.Equal(t, tt.want, req.Steps[0].RequiredApprovals)
		})
	}
}

func TestCreateRequest_StepTimeoutSetsDeadlineOnActivation(t *testing.T) {
	e, _ := newTestEngine()
	first := stepTemplate("first", 1, "any", "a")
	first.Timeout = &approval.Duration{Value: 8, Unit: approval.UnitHours}
	second := stepTemplate("second", 2, "any", "b")
	second.Timeout = &approval.Duration{Value: 1, Unit: approval.UnitDays}

	req := mustCreate(t, e, workflowOf(approval.ModeSequential, first, second))

	require.NotNil(t, req.Steps[0].DeadlineAt)
	assert.Equal(t, baseTime.Add(8*time.Hour), *req.Steps[0].DeadlineAt)
	assert.Nil(t, req.Steps[1].DeadlineAt, "pending steps have no deadline")
}

func TestCreateRequest_Validation(t *testing.T) {
	e, _ := newTestEngine()
	wf := workflowOf(approval.ModeSequential, stepTemplate("s", 1, "any", "a"))

	tests := []struct {
		name   string
		mutate func(in *CreationInput, wf *approval.WorkflowTemplate)
	}{
		{"missing policy", func(in *CreationInput, _ *approval.WorkflowTemplate) { in.PolicyID = "" }},
		{"missing object id", func(in *CreationInput, _ *approval.WorkflowTemplate) { in.ObjectID = "" }},
		{"missing requester", func(in *CreationInput, _ *approval.WorkflowTemplate) { in.RequesterID = "" }},
		{"empty workflow", func(_ *CreationInput, wf *approval.WorkflowTemplate) { wf.Steps = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := creationInput(nil)
			w := wf
			tt.mutate(&in, &w)
			req, err := e.CreateRequest(context.Background(), in, w)
			assert.Nil(t, req)
			assert.Equal(t, approval.KindValidation, approval.KindOf(err))
		})
	}
}

func TestCreateRequest_EmptyStepPolicies(t *testing.T) {
	roleStep := approval.StepTemplate{Name: "controllers", Order: 2, Approvers: approval.ApproverSpec{Type: approval.ApproverRole, Value: []string{"controller"}}}
	wf := workflowOf(approval.ModeSequential, roleStep, stepTemplate("manager", 1, "any", "mgr"))

	t.Run("fail", func(t *testing.T) {
		e, _ := newTestEngine()
		_, err := e.CreateRequest(context.Background(), creationInput(nil), wf)
		assert.Equal(t, approval.KindValidation, approval.KindOf(err))
		assert.ErrorContains(t, err, "controllers")
	})

	t.Run("skip", func(t *testing.T) {
		e, _ := newTestEngine(WithEmptyStepPolicy(EmptyStepSkip))
		req := mustCreate(t, e, wf)
		assert.Equal(t, []approval.StepStatus{approval.StepActive, approval.StepSkipped}, stepStatuses(req))

		res := mustDecide(t, e, req, 0, "mgr", approval.DecisionApproved)
		assert.True(t, res.Completed)
		assert.Equal(t, approval.StatusApproved, res.Request.Status)
	})

	t.Run("skip every step approves immediately", func(t *testing.T) {
		e, _ := newTestEngine(WithEmptyStepPolicy(EmptyStepSkip))
		req := mustCreate(t, e, workflowOf(approval.ModeSequential, roleStep))
		assert.Equal(t, approval.StatusApproved, req.Status)
		assert.Equal(t, approval.DecisionApproved, req.FinalDecision)
		assert.Equal(t, SystemActor, req.DecidedBy)
	})

	t.Run("stall", func(t *testing.T) {
		e, _ := newTestEngine(WithEmptyStepPolicy(EmptyStepStall))
		req := mustCreate(t, e, workflowOf(approval.ModeSequential, roleStep))
		assert.Equal(t, approval.StepActive, req.Steps[0].Status)
		assert.Empty(t, req.Steps[0].Approvers)
		assert.Equal(t, 0, req.Steps[0].RequiredApprovals)
	})
}

func TestCreateRequest_ManagerStep(t *testing.T) {
	e, _ := newTestEngine(WithManagerLookup(ManagerLookupFunc(func(_ context.Context, id string) (string, error) {
		return "boss-of-" + id, nil
	})))
	wf := workflowOf(approval.ModeSequential, approval.StepTemplate{
		Name:      "manager",
		Order:     1,
		Approvers: approval.ApproverSpec{Type: approval.ApproverManager},
	})

	req := mustCreate(t, e, wf)
	require.Len(t, req.Steps[0].Approvers, 1)
	assert.Equal(t, "boss-of-requester", req.Steps[0].Approvers[0].PrincipalID)
	assert.Equal(t, 1, req.Steps[0].RequiredApprovals)
}

func TestCreateRequest_DoesNotAliasInput(t *testing.T) {
	e, _ := newTestEngine()
	data := map[string]any{"amount": 1.0}
	in := creationInput(data)

	req, err := e.CreateRequest(context.Background(), in, workflowOf(approval.ModeSequential, stepTemplate("s", 1, "any", "a")))
	require.NoError(t, err)

	data["amount"] = 99.0
	assert.Equal(t, 1.0, req.ObjectData["amount"])
}

func TestParseEmptyStepPolicy(t *testing.T) {
	p, err := ParseEmptyStepPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EmptyStepFail, p)

	p, err = ParseEmptyStepPolicy("stall")
	require.NoError(t, err)
	assert.Equal(t, EmptyStepStall, p)

	_, err = ParseEmptyStepPolicy("ignore")
	assert.Error(t, err)
}
