package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

const (
	defaultStatusField   = "status"
	defaultCategoryField = "category"
)

// ObjectContext is the snapshot a trigger is evaluated against. Previous is
// nil when the caller has no prior state, in which case change triggers never match.
type ObjectContext struct {
	ObjectType string         `json:"object_type"`
	Current    map[string]any `json:"current"`
	Previous   map[string]any `json:"previous,omitempty"`
}

// EvaluateTrigger reports whether t matches obj and, if so, why
func (e *Engine) EvaluateTrigger(t approval.Trigger, obj ObjectContext) (bool, string) {
	switch t.Kind {
	case approval.TriggerThreshold:
		return evalThreshold(t, obj)
	case approval.TriggerChange:
		return evalChange(t, obj)
	case approval.TriggerStatus:
		return evalStatus(t, obj)
	case approval.TriggerCategory:
		return evalCategory(t, obj)
	case approval.TriggerCustom:
		if e.custom == nil {
			return false, ""
		}
		matched, reason := e.custom.EvaluateRule(t.RuleID, obj)
		if matched && reason == "" {
			reason = fmt.Sprintf("custom rule %s matched", t.RuleID)
		}
		return matched, reason
	}
	return false, ""
}

func evalThreshold(t approval.Trigger, obj ObjectContext) (bool, string) {
	actual, ok := asNumber(obj.Current[t.Field])
	if !ok {
		return false, ""
	}
	matched, err := t.Operator.Compare(actual, t.Value)
	if err != nil || !matched {
		return false, ""
	}
	return true, fmt.Sprintf("%s %s %s (actual %s)", t.Field, t.Operator, formatNumber(t.Value), formatNumber(actual))
}

func evalChange(t approval.Trigger, obj ObjectContext) (bool, string) {
	if obj.Previous == nil {
		return false, ""
	}
	prev, cur := obj.Previous[t.Field], obj.Current[t.Field]
	if valuesEqual(prev, cur) {
		return false, ""
	}
	if t.From != nil && !valuesEqual(prev, t.From) {
		return false, ""
	}
	if t.To != nil && !valuesEqual(cur, t.To) {
		return false, ""
	}
	return true, fmt.Sprintf("%s changed from %s to %s", t.Field, formatValue(prev), formatValue(cur))
}

func evalStatus(t approval.Trigger, obj ObjectContext) (bool, string) {
	field := t.Field
	if field == "" {
		field = defaultStatusField
	}
	cur, ok := obj.Current[field].(string)
	if !ok || !contains(t.Targets, cur) {
		return false, ""
	}
	if len(t.Sources) == 0 {
		return true, fmt.Sprintf("%s is %s", field, cur)
	}
	prev, ok := obj.Previous[field].(string)
	if !ok || !contains(t.Sources, prev) {
		return false, ""
	}
	return true, fmt.Sprintf("%s changed from %s to %s", field, prev, cur)
}

func evalCategory(t approval.Trigger, obj ObjectContext) (bool, string) {
	field := t.Field
	if field == "" {
		field = defaultCategoryField
	}
	for _, c := range categoryValues(obj.Current[field]) {
		if contains(t.Categories, c) {
			return true, fmt.Sprintf("%s %s is in [%s]", field, c, strings.Join(t.Categories, ", "))
		}
	}
	return false, ""
}

// categoryValues accepts a single category or a list of them
func categoryValues(v any) []string {
	switch c := v.(type) {
	case string:
		return []string{c}
	case []string:
		return c
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// asNumber converts numeric kinds to float64. Strings are never coerced.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// valuesEqual compares snapshot values, treating numbers of different kinds as equal by value
func valuesEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok || bok {
		return aok && bok && sa == sb
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatValue(v any) string {
	if v == nil {
		return "<none>"
	}
	if n, ok := asNumber(v); ok {
		return formatNumber(n)
	}
	return fmt.Sprint(v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
