package approval

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy maps an object type and trigger conditions to a workflow template.
// Policies are configuration and are never mutated by the engine.
type Policy struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	ObjectType string           `json:"object_type" yaml:"object_type"`
	Triggers   []Trigger        `json:"triggers" yaml:"triggers"`
	Priority   int              `json:"priority" yaml:"priority"`
	Workflow   WorkflowTemplate `json:"workflow" yaml:"workflow"`
	Active     bool             `json:"active" yaml:"active"`
}

// TriggerKind identifies the condition variant held by a Trigger
type TriggerKind string

const (
	TriggerThreshold TriggerKind = "threshold"
	TriggerChange    TriggerKind = "change"
	TriggerStatus    TriggerKind = "status"
	TriggerCategory  TriggerKind = "category"
	TriggerCustom    TriggerKind = "custom"
)

// IsValid returns true for the known trigger kinds
func (k TriggerKind) IsValid() bool {
	switch k {
	case TriggerThreshold, TriggerChange, TriggerStatus, TriggerCategory, TriggerCustom:
		return true
	}
	return false
}

// Operator is a numeric comparison used by threshold triggers
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Compare applies the operator to left and right
func (o Operator) Compare(left, right float64) (bool, error) {
	switch o {
	case OpGreater:
		return left > right, nil
	case OpGreaterEqual:
		return left >= right, nil
	case OpLess:
		return left < right, nil
	case OpLessEqual:
		return left <= right, nil
	case OpEqual:
		return left == right, nil
	}
	return false, fmt.Errorf("unknown operator %q", string(o))
}

// Trigger is a single condition embedded in a policy.
//
// Field usage by kind:
//   - threshold: Field, Operator, Value
//   - change:    Field, From, To (nil means unconstrained)
//   - status:    Field (default "status"), Targets, Sources
//   - category:  Field (default "category"), Categories
//   - custom:    RuleID
type Trigger struct {
	Kind       TriggerKind `json:"kind" yaml:"kind"`
	Field      string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      float64     `json:"value,omitempty" yaml:"value,omitempty"`
	From       any         `json:"from,omitempty" yaml:"from,omitempty"`
	To         any         `json:"to,omitempty" yaml:"to,omitempty"`
	Targets    []string    `json:"targets,omitempty" yaml:"targets,omitempty"`
	Sources    []string    `json:"sources,omitempty" yaml:"sources,omitempty"`
	Categories []string    `json:"categories,omitempty" yaml:"categories,omitempty"`
	RuleID     string      `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
}

// ExecutionMode controls step activation
type ExecutionMode string

const (
	ModeSequential  ExecutionMode = "sequential"
	ModeParallel    ExecutionMode = "parallel"
	ModeConditional ExecutionMode = "conditional"
)

// IsValid returns true for the known execution modes
func (m ExecutionMode) IsValid() bool {
	return m == ModeSequential || m == ModeParallel || m == ModeConditional
}

// TimeoutAction is applied when a workflow or step deadline passes
type TimeoutAction string

const (
	TimeoutExpire      TimeoutAction = "expire"
	TimeoutAutoApprove TimeoutAction = "auto_approve"
	TimeoutAutoReject  TimeoutAction = "auto_reject"
	TimeoutEscalate    TimeoutAction = "escalate"
)

// IsValid returns true for the known timeout actions. Empty is treated as expire.
func (a TimeoutAction) IsValid() bool {
	switch a {
	case "", TimeoutExpire, TimeoutAutoApprove, TimeoutAutoReject, TimeoutEscalate:
		return true
	}
	return false
}

// DurationUnit is the unit of a configured Duration
type DurationUnit string

const (
	UnitHours DurationUnit = "hours"
	UnitDays  DurationUnit = "days"
	UnitWeeks DurationUnit = "weeks"
)

// Duration is a calendar-ish duration expressed in hours, days or weeks
type Duration struct {
	Value int          `json:"value" yaml:"value"`
	Unit  DurationUnit `json:"unit" yaml:"unit"`
}

// AddTo returns t advanced by the duration
func (d Duration) AddTo(t time.Time) time.Time {
	switch d.Unit {
	case UnitDays:
		return t.AddDate(0, 0, d.Value)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*d.Value)
	default:
		return t.Add(time.Duration(d.Value) * time.Hour)
	}
}

// IsValid reports whether the duration is positive with a known unit
func (d Duration) IsValid() bool {
	if d.Value <= 0 {
		return false
	}
	switch d.Unit {
	case UnitHours, UnitDays, UnitWeeks:
		return true
	}
	return false
}

// EscalationLevel is one rung of an escalation ladder
type EscalationLevel struct {
	After     Duration     `json:"after" yaml:"after"`
	Approvers ApproverSpec `json:"approvers" yaml:"approvers"`
}

// WorkflowTemplate is the ordered set of steps a matched policy instantiates
type WorkflowTemplate struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	Steps         []StepTemplate    `json:"steps" yaml:"steps"`
	Mode          ExecutionMode     `json:"mode" yaml:"mode"`
	Timeout       *Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	TimeoutAction TimeoutAction     `json:"timeout_action,omitempty" yaml:"timeout_action,omitempty"`
	Escalation    []EscalationLevel `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// ApproverType selects how an ApproverSpec is resolved
type ApproverType string

const (
	ApproverExplicit   ApproverType = "explicit"
	ApproverRole       ApproverType = "role"
	ApproverManager    ApproverType = "manager"
	ApproverDepartment ApproverType = "department"
	ApproverDynamic    ApproverType = "dynamic"
)

// IsValid returns true for the known approver types
func (t ApproverType) IsValid() bool {
	switch t {
	case ApproverExplicit, ApproverRole, ApproverManager, ApproverDepartment, ApproverDynamic:
		return true
	}
	return false
}

// ApproverSpec describes who approves a step. Value holds principal ids for
// explicit specs and role, department or rule names otherwise.
type ApproverSpec struct {
	Type    ApproverType `json:"type" yaml:"type"`
	Value   []string     `json:"value,omitempty" yaml:"value,omitempty"`
	Exclude []string     `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// StepTemplate is one stage of a workflow template
type StepTemplate struct {
	ID            string        `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string        `json:"name" yaml:"name"`
	Approvers     ApproverSpec  `json:"approvers" yaml:"approvers"`
	Required      Quorum        `json:"required" yaml:"required"`
	Order         int           `json:"order" yaml:"order"`
	Timeout       *Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	TimeoutAction TimeoutAction `json:"timeout_action,omitempty" yaml:"timeout_action,omitempty"`
	Conditions    []Trigger     `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// QuorumKind names a required-approval rule
type QuorumKind string

const (
	QuorumAll        QuorumKind = "all"
	QuorumAny        QuorumKind = "any"
	QuorumMajority   QuorumKind = "majority"
	QuorumPercentage QuorumKind = "percentage"
	QuorumCount      QuorumKind = "count"
)

// Quorum is the unresolved required-approval count of a step template
type Quorum struct {
	Kind  QuorumKind
	Count int
	// BasisPoints is the percentage in hundredths of a percent, 1..10000
	BasisPoints int
}

// Resolve turns the quorum into a concrete approval count for n approvers
func (q Quorum) Resolve(n int) int {
	switch q.Kind {
	case QuorumAny:
		return 1
	case QuorumMajority:
		return n/2 + 1
	case QuorumPercentage:
		return (n*q.BasisPoints + 9999) / 10000
	case QuorumCount:
		return q.Count
	default:
		return n
	}
}

// String renders the quorum in its textual form
func (q Quorum) String() string {
	switch q.Kind {
	case QuorumCount:
		return strconv.Itoa(q.Count)
	case QuorumPercentage:
		return strconv.FormatFloat(float64(q.BasisPoints)/100, 'f', -1, 64) + "%"
	case "":
		return string(QuorumAll)
	default:
		return string(q.Kind)
	}
}

// ParseQuorum accepts "all", "any", "majority", "NN%" or an integer
func ParseQuorum(s string) (Quorum, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", string(QuorumAll):
		return Quorum{Kind: QuorumAll}, nil
	case string(QuorumAny):
		return Quorum{Kind: QuorumAny}, nil
	case string(QuorumMajority):
		return Quorum{Kind: QuorumMajority}, nil
	}
	if strings.HasSuffix(s, "%") {
		p, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil || !(p > 0 && p <= 100) {
			return Quorum{}, fmt.Errorf("invalid quorum percentage %q", s)
		}
		bp := int(math.Round(p * 100))
		if bp < 1 {
			return Quorum{}, fmt.Errorf("quorum percentage %q is below 0.01%%", s)
		}
		return Quorum{Kind: QuorumPercentage, BasisPoints: bp}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return Quorum{}, fmt.Errorf("invalid quorum %q", s)
	}
	return Quorum{Kind: QuorumCount, Count: n}, nil
}

// MarshalJSON encodes the quorum as a string, or a number for fixed counts
func (q Quorum) MarshalJSON() ([]byte, error) {
	if q.Kind == QuorumCount {
		return json.Marshal(q.Count)
	}
	return json.Marshal(q.String())
}

// UnmarshalJSON accepts a string or an integer
func (q *Quorum) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed, err := ParseQuorum(strconv.Itoa(n))
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("quorum must be a string or integer: %w", err)
	}
	parsed, err := ParseQuorum(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// UnmarshalYAML accepts a scalar string or integer
func (q *Quorum) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("quorum must be a scalar at line %d", value.Line)
	}
	parsed, err := ParseQuorum(value.Value)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// MarshalYAML renders the quorum the same way as JSON
func (q Quorum) MarshalYAML() (interface{}, error) {
	if q.Kind == QuorumCount {
		return q.Count, nil
	}
	return q.String(), nil
}
