package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

func TestEvaluateTrigger(t *testing.T) {
	e := New()

	tests := []struct {
		name    string
		trigger approval.Trigger
		obj     ObjectContext
		want    bool
		reason  string
	}{
		{
			name:    "threshold matches",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000},
			obj:     ObjectContext{Current: map[string]any{"amount": 1500.0}},
			want:    true,
			reason:  "amount > 1000 (actual 1500)",
		},
		{
			name:    "threshold integer field",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "qty", Operator: approval.OpGreaterEqual, Value: 10},
			obj:     ObjectContext{Current: map[string]any{"qty": 10}},
			want:    true,
		},
		{
			name:    "threshold json number",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpLess, Value: 5},
			obj:     ObjectContext{Current: map[string]any{"amount": json.Number("4.5")}},
			want:    true,
		},
		{
			name:    "threshold below",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000},
			obj:     ObjectContext{Current: map[string]any{"amount": 1000.0}},
		},
		{
			name:    "threshold numeric string is not coerced",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000},
			obj:     ObjectContext{Current: map[string]any{"amount": "1500"}},
		},
		{
			name:    "threshold missing field",
			trigger: approval.Trigger{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000},
			obj:     ObjectContext{Current: map[string]any{}},
		},
		{
			name:    "change any transition",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "vendor"},
			obj:     ObjectContext{Current: map[string]any{"vendor": "acme"}, Previous: map[string]any{"vendor": "globex"}},
			want:    true,
			reason:  "vendor changed from globex to acme",
		},
		{
			name:    "change numeric kinds compare by value",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "qty"},
			obj:     ObjectContext{Current: map[string]any{"qty": 3}, Previous: map[string]any{"qty": 3.0}},
		},
		{
			name:    "change with from and to",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "terms", From: "net30", To: "net90"},
			obj:     ObjectContext{Current: map[string]any{"terms": "net90"}, Previous: map[string]any{"terms": "net30"}},
			want:    true,
		},
		{
			name:    "change with wrong from",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "terms", From: "net60"},
			obj:     ObjectContext{Current: map[string]any{"terms": "net90"}, Previous: map[string]any{"terms": "net30"}},
		},
		{
			name:    "change field appears",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "discount"},
			obj:     ObjectContext{Current: map[string]any{"discount": 0.2}, Previous: map[string]any{}},
			want:    true,
			reason:  "discount changed from <none> to 0.2",
		},
		{
			name:    "change without previous snapshot",
			trigger: approval.Trigger{Kind: approval.TriggerChange, Field: "vendor"},
			obj:     ObjectContext{Current: map[string]any{"vendor": "acme"}},
		},
		{
			name:    "status default field",
			trigger: approval.Trigger{Kind: approval.TriggerStatus, Targets: []string{"submitted"}},
			obj:     ObjectContext{Current: map[string]any{"status": "submitted"}},
			want:    true,
			reason:  "status is submitted",
		},
		{
			name:    "status with sources",
			trigger: approval.Trigger{Kind: approval.TriggerStatus, Targets: []string{"submitted"}, Sources: []string{"draft"}},
			obj:     ObjectContext{Current: map[string]any{"status": "submitted"}, Previous: map[string]any{"status": "draft"}},
			want:    true,
			reason:  "status changed from draft to submitted",
		},
		{
			name:    "status from wrong source",
			trigger: approval.Trigger{Kind: approval.TriggerStatus, Targets: []string{"submitted"}, Sources: []string{"draft"}},
			obj:     ObjectContext{Current: map[string]any{"status": "submitted"}, Previous: map[string]any{"status": "on_hold"}},
		},
		{
			name:    "category default field",
			trigger: approval.Trigger{Kind: approval.TriggerCategory, Categories: []string{"hardware", "software"}},
			obj:     ObjectContext{Current: map[string]any{"category": "software"}},
			want:    true,
			reason:  "category software is in [hardware, software]",
		},
		{
			name:    "category list value",
			trigger: approval.Trigger{Kind: approval.TriggerCategory, Field: "tags", Categories: []string{"capex"}},
			obj:     ObjectContext{Current: map[string]any{"tags": []any{"opex", "capex"}}},
			want:    true,
		},
		{
			name:    "category not listed",
			trigger: approval.Trigger{Kind: approval.TriggerCategory, Categories: []string{"hardware"}},
			obj:     ObjectContext{Current: map[string]any{"category": "travel"}},
		},
		{
			name:    "custom without evaluator",
			trigger: approval.Trigger{Kind: approval.TriggerCustom, RuleID: "vendor-risk"},
			obj:     ObjectContext{Current: map[string]any{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := e.EvaluateTrigger(tt.trigger, tt.obj)
			assert.Equal(t, tt.want, got)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, reason)
			}
			if !tt.want {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestEvaluateTrigger_CustomEvaluator(t *testing.T) {
	var seen string
	e := New(WithCustomEvaluator(CustomEvaluatorFunc(func(ruleID string, obj ObjectContext) (bool, string) {
		seen = ruleID
		return obj.Current["vendor"] == "new-vendor", ""
	})))

	trigger := approval.Trigger{Kind: approval.TriggerCustom, RuleID: "vendor-risk"}

	ok, reason := e.EvaluateTrigger(trigger, ObjectContext{Current: map[string]any{"vendor": "new-vendor"}})
	assert.True(t, ok)
	assert.Equal(t, "custom rule vendor-risk matched", reason)
	assert.Equal(t, "vendor-risk", seen)

	ok, _ = e.EvaluateTrigger(trigger, ObjectContext{Current: map[string]any{"vendor": "acme"}})
	assert.False(t, ok)
}
