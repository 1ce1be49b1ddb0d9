// Package engine implements the approval engine: trigger evaluation, approver
// resolution, policy matching, workflow instantiation, the step and request
// state machine, escalation and expiration, and capability projection.
//
// Every operation takes a request value and returns a new one. Inputs are
// never mutated and the Engine holds no per-request state, so a single Engine
// can be shared across goroutines. Callers persist results and serialize
// writers per request id.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// SystemActor is recorded as the decider for transitions applied by sweeps
const SystemActor = "system"

// Clock returns the current time
type Clock func() time.Time

// IDGenerator returns a new unique identifier
type IDGenerator func() string

// CustomEvaluator resolves custom triggers by rule id. It returns whether the
// rule matched and a human-readable reason.
type CustomEvaluator interface {
	EvaluateRule(ruleID string, obj ObjectContext) (bool, string)
}

// CustomEvaluatorFunc adapts a function to CustomEvaluator
type CustomEvaluatorFunc func(ruleID string, obj ObjectContext) (bool, string)

// EvaluateRule calls f
func (f CustomEvaluatorFunc) EvaluateRule(ruleID string, obj ObjectContext) (bool, string) {
	return f(ruleID, obj)
}

// ManagerLookup finds the manager of a requester. An empty id means none.
type ManagerLookup interface {
	ManagerOf(ctx context.Context, requesterID string) (string, error)
}

// ManagerLookupFunc adapts a function to ManagerLookup
type ManagerLookupFunc func(ctx context.Context, requesterID string) (string, error)

// ManagerOf calls f
func (f ManagerLookupFunc) ManagerOf(ctx context.Context, requesterID string) (string, error) {
	return f(ctx, requesterID)
}

// ApproverResolver resolves role, department and dynamic approver specs
type ApproverResolver interface {
	ResolveApprovers(ctx context.Context, spec approval.ApproverSpec, in ResolveInput) ([]string, error)
}

// ApproverResolverFunc adapts a function to ApproverResolver
type ApproverResolverFunc func(ctx context.Context, spec approval.ApproverSpec, in ResolveInput) ([]string, error)

// ResolveApprovers calls f
func (f ApproverResolverFunc) ResolveApprovers(ctx context.Context, spec approval.ApproverSpec, in ResolveInput) ([]string, error) {
	return f(ctx, spec, in)
}

// EmptyStepPolicy decides what happens to a step whose approvers resolve to nobody
type EmptyStepPolicy string

const (
	// EmptyStepFail rejects request creation with a VALIDATION error
	EmptyStepFail EmptyStepPolicy = "fail"
	// EmptyStepSkip marks the step skipped and continues activation
	EmptyStepSkip EmptyStepPolicy = "skip"
	// EmptyStepStall keeps the step; it can only leave active through a timeout or escalation
	EmptyStepStall EmptyStepPolicy = "stall"
)

// ParseEmptyStepPolicy parses a configured policy name. Empty means fail.
func ParseEmptyStepPolicy(s string) (EmptyStepPolicy, error) {
	switch EmptyStepPolicy(s) {
	case "", EmptyStepFail:
		return EmptyStepFail, nil
	case EmptyStepSkip, EmptyStepStall:
		return EmptyStepPolicy(s), nil
	}
	return "", fmt.Errorf("unknown empty step policy %q", s)
}

// Engine evaluates and advances approval requests
type Engine struct {
	now       Clock
	newID     IDGenerator
	custom    CustomEvaluator
	managers  ManagerLookup
	resolver  ApproverResolver
	emptyStep EmptyStepPolicy
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.now = c
	}
}

// WithIDGenerator overrides request and step id generation
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.newID = g
	}
}

// WithCustomEvaluator installs the resolver for custom triggers
func WithCustomEvaluator(c CustomEvaluator) Option {
	return func(e *Engine) {
		e.custom = c
	}
}

// WithManagerLookup installs the manager lookup for manager approver specs
func WithManagerLookup(m ManagerLookup) Option {
	return func(e *Engine) {
		e.managers = m
	}
}

// WithApproverResolver installs the resolver for role, department and dynamic specs
func WithApproverResolver(r ApproverResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithEmptyStepPolicy sets the handling of steps with no resolvable approvers
func WithEmptyStepPolicy(p EmptyStepPolicy) Option {
	return func(e *Engine) {
		e.emptyStep = p
	}
}

// New creates an Engine
func New(opts ...Option) *Engine {
	e := &Engine{
		now:       time.Now,
		newID:     uuid.NewString,
		emptyStep: EmptyStepFail,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time
func (e *Engine) Now() time.Time {
	return e.now()
}
