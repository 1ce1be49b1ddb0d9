package engine

import (
	"fmt"
	"sort"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// PolicyMatch is a policy whose triggers matched, with every reason collected
type PolicyMatch struct {
	Policy  approval.Policy `json:"policy"`
	Reasons []string        `json:"reasons"`
}

// TriggerCheck is the result of evaluating all policies for one object
type TriggerCheck struct {
	Required bool          `json:"required"`
	Matches  []PolicyMatch `json:"matched_policies"`
	Reasons  []string      `json:"reasons"`
}

// Top returns the highest-priority match
func (c TriggerCheck) Top() (PolicyMatch, bool) {
	if len(c.Matches) == 0 {
		return PolicyMatch{}, false
	}
	return c.Matches[0], true
}

// CheckTriggers returns every active policy for obj.ObjectType with at least
// one matching trigger, ordered by ascending priority then id. All triggers of
// a policy are evaluated so every reason is reported.
func (e *Engine) CheckTriggers(policies []approval.Policy, obj ObjectContext) TriggerCheck {
	candidates := make([]approval.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Active && p.ObjectType == obj.ObjectType {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	check := TriggerCheck{Matches: []PolicyMatch{}, Reasons: []string{}}
	for _, p := range candidates {
		var reasons []string
		for _, t := range p.Triggers {
			if ok, reason := e.EvaluateTrigger(t, obj); ok {
				reasons = append(reasons, reason)
			}
		}
		if len(reasons) == 0 {
			continue
		}
		check.Matches = append(check.Matches, PolicyMatch{Policy: p, Reasons: reasons})
		check.Reasons = append(check.Reasons, reasons...)
	}
	check.Required = len(check.Matches) > 0
	return check
}

// ValidatePolicy checks a policy definition before it is loaded
func ValidatePolicy(p approval.Policy) error {
	if p.ID == "" {
		return approval.NewError(approval.KindValidation, "policy id is required")
	}
	if p.ObjectType == "" {
		return approval.NewError(approval.KindValidation, "policy %s: object type is required", p.ID)
	}
	for i, t := range p.Triggers {
		if err := validateTrigger(t); err != nil {
			return approval.NewError(approval.KindValidation, "policy %s: trigger %d: %v", p.ID, i, err)
		}
	}
	if err := ValidateWorkflow(p.Workflow); err != nil {
		return approval.NewError(approval.KindValidation, "policy %s: %s", p.ID, approval.Message(err))
	}
	return nil
}

// ValidateWorkflow checks a workflow template
func ValidateWorkflow(wf approval.WorkflowTemplate) error {
	if len(wf.Steps) == 0 {
		return approval.NewError(approval.KindValidation, "workflow has no steps")
	}
	if wf.Mode != "" && !wf.Mode.IsValid() {
		return approval.NewError(approval.KindValidation, "unknown execution mode %q", wf.Mode)
	}
	if wf.Timeout != nil && !wf.Timeout.IsValid() {
		return approval.NewError(approval.KindValidation, "invalid workflow timeout %d %s", wf.Timeout.Value, wf.Timeout.Unit)
	}
	if !wf.TimeoutAction.IsValid() {
		return approval.NewError(approval.KindValidation, "unknown timeout action %q", wf.TimeoutAction)
	}
	for i, lvl := range wf.Escalation {
		if !lvl.After.IsValid() {
			return approval.NewError(approval.KindValidation, "escalation level %d: invalid duration", i)
		}
		if !lvl.Approvers.Type.IsValid() {
			return approval.NewError(approval.KindValidation, "escalation level %d: unknown approver type %q", i, lvl.Approvers.Type)
		}
	}
	for i, st := range wf.Steps {
		name := st.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if !st.Approvers.Type.IsValid() {
			return approval.NewError(approval.KindValidation, "step %s: unknown approver type %q", name, st.Approvers.Type)
		}
		if st.Timeout != nil && !st.Timeout.IsValid() {
			return approval.NewError(approval.KindValidation, "step %s: invalid timeout", name)
		}
		if !st.TimeoutAction.IsValid() {
			return approval.NewError(approval.KindValidation, "step %s: unknown timeout action %q", name, st.TimeoutAction)
		}
		for _, c := range st.Conditions {
			if err := validateTrigger(c); err != nil {
				return approval.NewError(approval.KindValidation, "step %s: condition: %v", name, err)
			}
		}
	}
	return nil
}

func validateTrigger(t approval.Trigger) error {
	if !t.Kind.IsValid() {
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	switch t.Kind {
	case approval.TriggerThreshold:
		if t.Field == "" {
			return fmt.Errorf("threshold trigger needs a field")
		}
		if _, err := t.Operator.Compare(0, 0); err != nil {
			return err
		}
	case approval.TriggerChange:
		if t.Field == "" {
			return fmt.Errorf("change trigger needs a field")
		}
	case approval.TriggerStatus:
		if len(t.Targets) == 0 {
			return fmt.Errorf("status trigger needs targets")
		}
	case approval.TriggerCategory:
		if len(t.Categories) == 0 {
			return fmt.Errorf("category trigger needs categories")
		}
	case approval.TriggerCustom:
		if t.RuleID == "" {
			return fmt.Errorf("custom trigger needs a rule id")
		}
	}
	return nil
}
