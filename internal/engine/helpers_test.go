package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func sequentialIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEngine(opts ...Option) (*Engine, *fakeClock) {
	clock := &fakeClock{t: baseTime}
	all := append([]Option{WithClock(clock.Now), WithIDGenerator(sequentialIDs())}, opts...)
	return New(all...), clock
}

func explicit(ids ...string) approval.ApproverSpec {
	return approval.ApproverSpec{Type: approval.ApproverExplicit, Value: ids}
}

func stepTemplate(name string, order int, quorum string, ids ...string) approval.StepTemplate {
	q, err := approval.ParseQuorum(quorum)
	if err != nil {
		panic(err)
	}
	return approval.StepTemplate{Name: name, Order: order, Approvers: explicit(ids...), Required: q}
}

func workflowOf(mode approval.ExecutionMode, steps ...approval.StepTemplate) approval.WorkflowTemplate {
	return approval.WorkflowTemplate{ID: "wf-1", Mode: mode, Steps: steps}
}

func creationInput(data map[string]any) CreationInput {
	return CreationInput{
		PolicyID:      "po-large",
		ObjectType:    "purchase_order",
		ObjectID:      "PO-1001",
		ObjectLabel:   "PO 1001",
		RequesterID:   "requester",
		RequesterName: "Riley Requester",
		TriggerReason: "amount > 1000",
		ObjectData:    data,
	}
}

func mustCreate(t *testing.T, e *Engine, wf approval.WorkflowTemplate) *approval.Request {
	t.Helper()
	req, err := e.CreateRequest(context.Background(), creationInput(map[string]any{"amount": 1500.0}), wf)
	require.NoError(t, err)
	return req
}

func mustDecide(t *testing.T, e *Engine, req *approval.Request, stepIdx int, approver string, d approval.Decision) DecisionResult {
	t.Helper()
	res, err := e.SubmitDecision(req, DecisionInput{StepID: req.Steps[stepIdx].ID, ApproverID: approver, Decision: d})
	require.NoError(t, err)
	return res
}

func stepStatuses(req *approval.Request) []approval.StepStatus {
	out := make([]approval.StepStatus, len(req.Steps))
	for i, s := range req.Steps {
		out[i] = s.Status
	}
	return out
}
