package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

func testPolicy(id string, priority int, triggers ...approval.Trigger) approval.Policy {
	return approval.Policy{
		ID:         id,
		Name:       id,
		ObjectType: "purchase_order",
		Triggers:   triggers,
		Priority:   priority,
		Active:     true,
		Workflow:   workflowOf(approval.ModeSequential, stepTemplate("review", 1, "any", "a")),
	}
}

func TestCheckTriggers(t *testing.T) {
	amountOver := func(v float64) approval.Trigger {
		return approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: v}
	}
	hardware := approval.Trigger{Kind: approval.TriggerCategory, Categories: []string{"hardware"}}

	inactive := testPolicy("inactive", 0, amountOver(0))
	inactive.Active = false
	otherType := testPolicy("sales", 0, amountOver(0))
	otherType.ObjectType = "sales_order"

	policies := []approval.Policy{
		testPolicy("large", 20, amountOver(1000), hardware),
		testPolicy("huge", 10, amountOver(100000)),
		testPolicy("b-any", 5, amountOver(10)),
		testPolicy("a-any", 5, amountOver(10)),
		inactive,
		otherType,
	}

	check := New().CheckTriggers(policies, ObjectContext{
		ObjectType: "purchase_order",
		Current:    map[string]any{"amount": 5000.0, "category": "hardware"},
	})

	require.True(t, check.Required)
	require.Len(t, check.Matches, 3)
	assert.Equal(t, "a-any", check.Matches[0].Policy.ID, "ties broken by id")
	assert.Equal(t, "b-any", check.Matches[1].Policy.ID)
	assert.Equal(t, "large", check.Matches[2].Policy.ID)
	assert.Len(t, check.Matches[2].Reasons, 2, "all triggers evaluated")
	assert.Len(t, check.Reasons, 4)

	top, ok := check.Top()
	assert.True(t, ok)
	assert.Equal(t, "a-any", top.Policy.ID)
}

func TestCheckTriggers_NoMatch(t *testing.T) {
	check := New().CheckTriggers([]approval.Policy{
		testPolicy("large", 1, approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000}),
	}, ObjectContext{ObjectType: "purchase_order", Current: map[string]any{"amount": 5.0}})

	assert.False(t, check.Required)
	assert.Empty(t, check.Matches)
	assert.NotNil(t, check.Reasons)
	_, ok := check.Top()
	assert.False(t, ok)
}

func TestValidatePolicy(t *testing.T) {
	valid := testPolicy("ok", 1, approval.Trigger{Kind: approval.TriggerStatus, Targets: []string{"submitted"}})
	require.NoError(t, ValidatePolicy(valid))

	tests := []struct {
		name   string
		mutate func(p *approval.Policy)
	}{
		{"missing id", func(p *approval.Policy) { p.ID = "" }},
		{"missing object type", func(p *approval.Policy) { p.ObjectType = "" }},
		{"empty workflow", func(p *approval.Policy) { p.Workflow.Steps = nil }},
		{"bad mode", func(p *approval.Policy) { p.Workflow.Mode = "random" }},
		{"bad trigger kind", func(p *approval.Policy) { p.Triggers = []approval.Trigger{{Kind: "weather"}} }},
		{"threshold without operator", func(p *approval.Policy) {
			p.Triggers = []approval.Trigger{{Kind: approval.TriggerThreshold, Field: "amount"}}
		}},
		{"bad timeout", func(p *approval.Policy) { p.Workflow.Timeout = &approval.Duration{Value: 0, Unit: approval.UnitDays} }},
		{"bad timeout action", func(p *approval.Policy) { p.Workflow.TimeoutAction = "ignore" }},
		{"bad step approver", func(p *approval.Policy) { p.Workflow.Steps[0].Approvers.Type = "" }},
		{"bad escalation", func(p *approval.Policy) {
			p.Workflow.Escalation = []approval.EscalationLevel{{After: approval.Duration{Value: 1, Unit: "months"}, Approvers: explicit("x")}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy("p", 1, approval.Trigger{Kind: approval.TriggerStatus, Targets: []string{"submitted"}})
			tt.mutate(&p)
			err := ValidatePolicy(p)
			require.Error(t, err)
			assert.Equal(t, approval.KindValidation, approval.KindOf(err))
		})
	}
}
