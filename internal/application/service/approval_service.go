package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/engine"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RoleChecker reports directory role membership
type RoleChecker interface {
	HasRole(ctx context.Context, principalID, role string) bool
}

// CheckInput is an object snapshot to evaluate against the active policies
type CheckInput struct {
	ObjectType string         `json:"object_type"`
	Current    map[string]any `json:"current"`
	Previous   map[string]any `json:"previous,omitempty"`
}

// SubmitInput is a triggering action on a business object
type SubmitInput struct {
	ObjectType    string         `json:"object_type"`
	ObjectID      string         `json:"object_id"`
	ObjectLabel   string         `json:"object_label,omitempty"`
	RequesterID   string         `json:"requester_id"`
	RequesterName string         `json:"requester_name,omitempty"`
	Current       map[string]any `json:"current"`
	Previous      map[string]any `json:"previous,omitempty"`
	// PolicyID pins one of the matched policies instead of the highest-priority one
	PolicyID string `json:"policy_id,omitempty"`
}

// SubmitResult reports whether approval was required and which request gates the object.
// Created is false when a live request for the same object and policy already existed.
type SubmitResult struct {
	Check   engine.TriggerCheck `json:"check"`
	Request *approval.Request   `json:"request,omitempty"`
	Created bool                `json:"created"`
}

// DecideInput is a vote by ActorID. StepID may be empty to vote on the first
// active step the actor can still vote on.
type DecideInput struct {
	ApprovalID  string   `json:"approval_id"`
	StepID      string   `json:"step_id,omitempty"`
	ActorID     string   `json:"actor_id"`
	Decision    string   `json:"decision"`
	Notes       string   `json:"notes,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// ListQuery selects requests for listing
type ListQuery struct {
	Filter engine.Filter
	Sort   engine.Sort
	Page   engine.Page
}

// SweepReport summarizes one timeout sweep
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Applied   int `json:"applied"`
	Escalated int `json:"escalated"`
	Expired   int `json:"expired"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ApprovalServiceConfig holds service-level settings
type ApprovalServiceConfig struct {
	// ViewerRole grants read access to every request
	ViewerRole string
	// AdminRole grants read access plus manual escalate and expire
	AdminRole string
	// MaxTimeoutsPerRequest bounds how many due timeouts one sweep applies to a request
	MaxTimeoutsPerRequest int
}

// ApprovalService coordinates the engine with storage and event delivery
type ApprovalService interface {
	Check(ctx context.Context, in CheckInput) (engine.TriggerCheck, error)
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	Get(ctx context.Context, id, viewerID string) (*approval.Request, error)
	List(ctx context.Context, q ListQuery) ([]*approval.Request, int, error)
	PendingFor(ctx context.Context, principalID string) ([]*approval.Request, error)
	Decide(ctx context.Context, in DecideInput) (*engine.DecisionResult, error)
	Cancel(ctx context.Context, id, actorID, reason string) (*approval.Request, error)
	Escalate(ctx context.Context, id, actorID string, approverIDs []string, reason string) (*approval.Request, error)
	Expire(ctx context.Context, id, actorID string) (*approval.Request, error)
	Capabilities(ctx context.Context, id, viewerID string) (*engine.CapabilitySet, error)
	History(ctx context.Context, id, viewerID string) ([]*event.Event, error)
	Sweep(ctx context.Context, limit int) (*SweepReport, error)
}

type approvalServiceImpl struct {
	engine     *engine.Engine
	repo       port.ApprovalRepository
	eventRepo  port.EventRepository
	policyRepo port.PolicyRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	roles      RoleChecker
	cfg        ApprovalServiceConfig
	locks      *keyedLock
	logger     Logger
}

// NewApprovalService creates a new ApprovalService. roles may be nil when no
// directory is configured.
func NewApprovalService(
	eng *engine.Engine,
	repo port.ApprovalRepository,
	eventRepo port.EventRepository,
	policyRepo port.PolicyRepository,
	txManager port.TransactionManager,
	d dispatcher.Dispatcher,
	roles RoleChecker,
	cfg ApprovalServiceConfig,
	logger Logger,
) ApprovalService {
	if cfg.MaxTimeoutsPerRequest <= 0 {
		cfg.MaxTimeoutsPerRequest = 10
	}
	return &approvalServiceImpl{
		engine:     eng,
		repo:       repo,
		eventRepo:  eventRepo,
		policyRepo: policyRepo,
		txManager:  txManager,
		dispatcher: d,
		roles:      roles,
		cfg:        cfg,
		locks:      newKeyedLock(),
		logger:     logger,
	}
}

// Check evaluates the active policies for the object type without creating anything
func (s *approvalServiceImpl) Check(ctx context.Context, in CheckInput) (engine.TriggerCheck, error) {
	if in.ObjectType == "" {
		return engine.TriggerCheck{}, approval.NewError(approval.KindValidation, "object_type is required")
	}
	policies, err := s.policyRepo.ListActive(ctx, in.ObjectType)
	if err != nil {
		return engine.TriggerCheck{}, fmt.Errorf("list policies: %w", err)
	}
	return s.engine.CheckTriggers(policies, engine.ObjectContext{
		ObjectType: in.ObjectType,
		Current:    in.Current,
		Previous:   in.Previous,
	}), nil
}

// Submit creates a request from the highest-priority matching policy. A live
// request for the same object and policy is returned instead of a duplicate.
func (s *approvalServiceImpl) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if in.ObjectID == "" {
		return nil, approval.NewError(approval.KindValidation, "object_id is required")
	}
	if in.RequesterID == "" {
		return nil, approval.NewError(approval.KindValidation, "requester_id is required")
	}

	check, err := s.Check(ctx, CheckInput{ObjectType: in.ObjectType, Current: in.Current, Previous: in.Previous})
	if err != nil {
		return nil, err
	}
	result := &SubmitResult{Check: check}

	match, ok := selectMatch(check, in.PolicyID)
	if !ok {
		if in.PolicyID != "" {
			return nil, approval.NewError(approval.KindValidation, "policy %s does not match %s %s", in.PolicyID, in.ObjectType, in.ObjectID)
		}
		s.logger.Info("No approval required", "object_type", in.ObjectType, "object_id", in.ObjectID)
		return result, nil
	}

	unlock := s.locks.Lock(objectLockKey(in.ObjectType, in.ObjectID, match.Policy.ID))
	defer unlock()

	existing, err := s.repo.FindLive(ctx, in.ObjectType, in.ObjectID, match.Policy.ID)
	if err != nil {
		return nil, fmt.Errorf("find live request: %w", err)
	}
	if existing != nil {
		s.logger.Info("Approval already in flight", "approval_id", existing.ID, "object_id", in.ObjectID, "policy_id", match.Policy.ID)
		result.Request = existing
		return result, nil
	}

	req, err := s.engine.CreateRequest(ctx, engine.CreationInput{
		PolicyID:      match.Policy.ID,
		ObjectType:    in.ObjectType,
		ObjectID:      in.ObjectID,
		ObjectLabel:   in.ObjectLabel,
		RequesterID:   in.RequesterID,
		RequesterName: in.RequesterName,
		TriggerReason: strings.Join(match.Reasons, "; "),
		TriggerData:   map[string]any{"reasons": match.Reasons, "previous": in.Previous},
		ObjectData:    in.Current,
	}, match.Policy.Workflow)
	if err != nil {
		s.logger.Error("Failed to create approval", "error", err, "object_id", in.ObjectID, "policy_id", match.Policy.ID)
		return nil, err
	}

	batch := newEventBatch(req.ID, in.RequesterID, s.engine.Now())
	batch.created(req)
	batch.stepsActivated(req, activeStepIDs(req))
	if req.Status.IsTerminal() {
		batch.completed(req)
	}

	if err := s.persist(ctx, req, batch); err != nil {
		return nil, err
	}

	s.logger.Info("Approval created",
		"approval_id", req.ID,
		"policy_id", req.PolicyID,
		"object_type", req.Object.Type,
		"object_id", req.Object.ID,
		"status", req.Status,
	)
	result.Request = req
	result.Created = true
	return result, nil
}

// Get returns a request the viewer may see
func (s *approvalServiceImpl) Get(ctx context.Context, id, viewerID string) (*approval.Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	caps := s.engine.Capabilities(req, viewerID, s.canViewAll(ctx, viewerID))
	if ok, reason := caps.Allows(engine.CapView); !ok {
		return nil, approval.NotAuthorized(string(engine.CapView), reason)
	}
	return req, nil
}

// List returns one page of requests and the total match count
func (s *approvalServiceImpl) List(ctx context.Context, q ListQuery) ([]*approval.Request, int, error) {
	reqs, total, err := s.repo.FindMany(ctx, q.Filter, q.Sort, q.Page)
	if err != nil {
		s.logger.Error("Failed to list approvals", "error", err)
		return nil, 0, fmt.Errorf("find approvals: %w", err)
	}
	return reqs, total, nil
}

// PendingFor returns the requests principalID can currently vote on
func (s *approvalServiceImpl) PendingFor(ctx context.Context, principalID string) ([]*approval.Request, error) {
	if principalID == "" {
		return nil, approval.NewError(approval.KindValidation, "principal id is required")
	}
	reqs, err := s.repo.FindPendingFor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return reqs, nil
}

// Decide records a vote after checking the actor's capabilities
func (s *approvalServiceImpl) Decide(ctx context.Context, in DecideInput) (*engine.DecisionResult, error) {
	decision, capability, err := ParseDecision(in.Decision)
	if err != nil {
		return nil, err
	}

	var result engine.DecisionResult
	_, err = s.mutate(ctx, in.ApprovalID, in.ActorID, func(req *approval.Request, batch *eventBatch) (*approval.Request, error) {
		caps := s.engine.Capabilities(req, in.ActorID, s.canViewAll(ctx, in.ActorID))
		if err := requireLive(req, caps); err != nil {
			return nil, err
		}
		if ok, reason := caps.Allows(capability); !ok {
			return nil, approval.NotAuthorized(string(capability), reason)
		}

		stepID := in.StepID
		if stepID == "" {
			stepID = caps.ActiveStepIDs[0]
		}

		res, err := s.engine.SubmitDecision(req, engine.DecisionInput{
			StepID:      stepID,
			ApproverID:  in.ActorID,
			Decision:    decision,
			Notes:       in.Notes,
			Attachments: in.Attachments,
		})
		if err != nil {
			return nil, err
		}

		batch.decision(res.Request, stepID, decision, in.Notes)
		batch.stepsActivated(res.Request, res.Activated)
		if res.Completed {
			batch.completed(res.Request)
		}
		result = res
		return res.Request, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Decision recorded",
		"approval_id", in.ApprovalID,
		"actor_id", in.ActorID,
		"decision", decision,
		"completed", result.Completed,
	)
	return &result, nil
}

// Cancel cancels a request on behalf of its requester
func (s *approvalServiceImpl) Cancel(ctx context.Context, id, actorID, reason string) (*approval.Request, error) {
	return s.mutate(ctx, id, actorID, func(req *approval.Request, batch *eventBatch) (*approval.Request, error) {
		caps := s.engine.Capabilities(req, actorID, s.canViewAll(ctx, actorID))
		if err := requireLive(req, caps); err != nil {
			return nil, err
		}
		if ok, denial := caps.Allows(engine.CapCancel); !ok {
			return nil, approval.NotAuthorized(string(engine.CapCancel), denial)
		}
		next, err := s.engine.Cancel(req, actorID, reason)
		if err != nil {
			return nil, err
		}
		batch.completed(next)
		return next, nil
	})
}

// requireLive rejects transitions on a request that already finished. Actors
// who cannot see the request are refused before its state is revealed.
func requireLive(req *approval.Request, caps engine.CapabilitySet) error {
	if !req.Status.IsTerminal() {
		return nil
	}
	if ok, reason := caps.Allows(engine.CapView); !ok {
		return approval.NotAuthorized(string(engine.CapView), reason)
	}
	return approval.NewError(approval.KindInvalidState, "approval %s is already %s", req.ID, req.Status)
}

// Escalate adds approvers to every active step. Only administrators and the
// system actor may escalate manually.
func (s *approvalServiceImpl) Escalate(ctx context.Context, id, actorID string, approverIDs []string, reason string) (*approval.Request, error) {
	if err := s.requireAdmin(ctx, actorID, "escalate"); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, actorID, func(req *approval.Request, batch *eventBatch) (*approval.Request, error) {
		next, err := s.engine.Escalate(req, approverIDs, reason)
		if err != nil {
			return nil, err
		}
		batch.escalated(next, addedApprovers(req, next), next.EscalationCount, reason)
		return next, nil
	})
}

// Expire expires a request immediately. Only administrators and the system actor may expire manually.
func (s *approvalServiceImpl) Expire(ctx context.Context, id, actorID string) (*approval.Request, error) {
	if err := s.requireAdmin(ctx, actorID, "expire"); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, actorID, func(req *approval.Request, batch *eventBatch) (*approval.Request, error) {
		next, err := s.engine.Expire(req)
		if err != nil {
			return nil, err
		}
		batch.completed(next)
		return next, nil
	})
}

// Capabilities projects what viewerID may do on the request
func (s *approvalServiceImpl) Capabilities(ctx context.Context, id, viewerID string) (*engine.CapabilitySet, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	caps := s.engine.Capabilities(req, viewerID, s.canViewAll(ctx, viewerID))
	return &caps, nil
}

// History returns the audit trail of a request the viewer may see
func (s *approvalServiceImpl) History(ctx context.Context, id, viewerID string) ([]*event.Event, error) {
	if _, err := s.Get(ctx, id, viewerID); err != nil {
		return nil, err
	}
	events, err := s.eventRepo.ListByApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Sweep applies the due timeouts of up to limit requests
func (s *approvalServiceImpl) Sweep(ctx context.Context, limit int) (*SweepReport, error) {
	now := s.engine.Now()
	due, err := s.repo.FindExpiredBefore(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due requests: %w", err)
	}

	report := &SweepReport{Scanned: len(due)}
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		applied := 0
		_, err := s.mutate(ctx, candidate.ID, engine.SystemActor, func(req *approval.Request, batch *eventBatch) (*approval.Request, error) {
			next, n, err := s.applyDueTimeouts(ctx, req, batch, report)
			applied = n
			return next, err
		})
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("Failed to apply timeouts", "error", err, "approval_id", candidate.ID)
		default:
			report.Applied += applied
		}
	}

	if report.Scanned > 0 {
		s.logger.Info("Timeout sweep finished",
			"scanned", report.Scanned,
			"applied", report.Applied,
			"escalated", report.Escalated,
			"expired", report.Expired,
			"completed", report.Completed,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// applyDueTimeouts applies due timeouts one at a time until none remain. A
// timeout that cannot be applied is skipped so later deadlines still fire.
func (s *approvalServiceImpl) applyDueTimeouts(ctx context.Context, req *approval.Request, batch *eventBatch, report *SweepReport) (*approval.Request, int, error) {
	now := s.engine.Now()
	current := req
	applied := 0
	skipped := map[string]bool{}

	for i := 0; i < s.cfg.MaxTimeoutsPerRequest; i++ {
		var next *engine.DueTimeout
		for _, d := range s.engine.DueTimeouts(current, now) {
			if !skipped[dueKey(d)] {
				next = &d
				break
			}
		}
		if next == nil {
			break
		}

		res, err := s.engine.ApplyTimeout(ctx, current, *next)
		if err != nil {
			if k := approval.KindOf(err); k == approval.KindInvalidState || k == approval.KindValidation {
				s.logger.Info("Timeout not applicable", "approval_id", current.ID, "kind", next.Kind, "reason", approval.Message(err))
				skipped[dueKey(*next)] = true
				continue
			}
			return nil, applied, err
		}
		applied++

		if next.Kind == engine.TimeoutLadder && len(res.Escalated) == 0 {
			s.logger.Info("Escalation ladder consumed without new approvers", "approval_id", current.ID, "level", next.Level)
		}
		if len(res.Escalated) > 0 {
			report.Escalated++
			batch.escalated(res.Request, res.Escalated, res.Level+1, fmt.Sprintf("%s passed", next.Kind))
		}
		batch.stepsActivated(res.Request, res.Activated)
		if res.Completed {
			if res.Request.Status == approval.StatusExpired {
				report.Expired++
			} else {
				report.Completed++
			}
			batch.completed(res.Request)
		}
		current = res.Request
		if current.Status.IsTerminal() {
			break
		}
	}

	if applied == 0 {
		return nil, 0, errNothingToApply
	}
	return current, applied, nil
}

// mutate serializes a read-modify-write of one request, then persists the
// result with its events in one transaction and dispatches the events.
func (s *approvalServiceImpl) mutate(
	ctx context.Context,
	id, actorID string,
	fn func(req *approval.Request, batch *eventBatch) (*approval.Request, error),
) (*approval.Request, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	batch := newEventBatch(req.ID, actorID, s.engine.Now())
	next, err := fn(req, batch)
	if errors.Is(err, errNothingToApply) {
		return req, nil
	}
	if err != nil {
		return nil, err
	}

	next.UpdatedAt = s.engine.Now()
	if err := s.persist(ctx, next, batch); err != nil {
		return nil, err
	}
	return next, nil
}

// persist saves req and appends the batch in one transaction, then dispatches
// the events asynchronously
func (s *approvalServiceImpl) persist(ctx context.Context, req *approval.Request, batch *eventBatch) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.Save(txCtx, req); err != nil {
			return fmt.Errorf("save approval: %w", err)
		}
		for _, evt := range batch.events {
			if err := s.eventRepo.Append(txCtx, evt); err != nil {
				return fmt.Errorf("append event %s: %w", evt.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist approval", "error", err, "approval_id", req.ID)
		return err
	}

	if s.dispatcher != nil {
		for _, evt := range batch.events {
			s.dispatcher.DispatchAsync(ctx, evt)
		}
	}
	return nil
}

func (s *approvalServiceImpl) load(ctx context.Context, id string) (*approval.Request, error) {
	if id == "" {
		return nil, approval.NewError(approval.KindValidation, "approval id is required")
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find approval: %w", err)
	}
	if req == nil {
		return nil, approval.NewError(approval.KindNotFound, "approval %s not found", id)
	}
	return req, nil
}

func (s *approvalServiceImpl) canViewAll(ctx context.Context, principalID string) bool {
	if s.roles == nil || principalID == "" {
		return false
	}
	if s.cfg.ViewerRole != "" && s.roles.HasRole(ctx, principalID, s.cfg.ViewerRole) {
		return true
	}
	return s.isAdmin(ctx, principalID)
}

func (s *approvalServiceImpl) isAdmin(ctx context.Context, principalID string) bool {
	if principalID == engine.SystemActor {
		return true
	}
	return s.roles != nil && s.cfg.AdminRole != "" && s.roles.HasRole(ctx, principalID, s.cfg.AdminRole)
}

func (s *approvalServiceImpl) requireAdmin(ctx context.Context, actorID, action string) error {
	if actorID == "" {
		return approval.NotAuthorized(action, "no viewer identity supplied")
	}
	if !s.isAdmin(ctx, actorID) {
		return approval.NotAuthorized(action, fmt.Sprintf("only administrators can %s an approval", action))
	}
	return nil
}

// ParseDecision maps a requested decision to the recorded vote and the
// capability it needs. request_changes is recorded as deferred.
func ParseDecision(s string) (approval.Decision, engine.Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return approval.DecisionApproved, engine.CapApprove, nil
	case "reject", "rejected":
		return approval.DecisionRejected, engine.CapReject, nil
	case "request_changes", "defer", "deferred":
		return approval.DecisionDeferred, engine.CapRequestChanges, nil
	case "escalate", "escalated":
		return approval.DecisionEscalated, engine.CapRequestChanges, nil
	}
	return "", "", approval.NewError(approval.KindValidation, "unknown decision %q", s)
}

var errNothingToApply = errors.New("no timeout applied")

func selectMatch(check engine.TriggerCheck, policyID string) (engine.PolicyMatch, bool) {
	if policyID == "" {
		return check.Top()
	}
	for _, m := range check.Matches {
		if m.Policy.ID == policyID {
			return m, true
		}
	}
	return engine.PolicyMatch{}, false
}

func objectLockKey(objectType, objectID, policyID string) string {
	return "object:" + objectType + ":" + objectID + ":" + policyID
}

func dueKey(d engine.DueTimeout) string {
	return fmt.Sprintf("%s/%s/%d", d.Kind, d.StepID, d.Level)
}

func activeStepIDs(req *approval.Request) []string {
	var ids []string
	for _, s := range req.ActiveSteps() {
		ids = append(ids, s.ID)
	}
	return ids
}

// addedApprovers lists the principals assigned on next's active steps but not on before's
func addedApprovers(before, next *approval.Request) []string {
	seen := map[string]bool{}
	var added []string
	for _, s := range next.ActiveSteps() {
		prev, _ := before.Step(s.ID)
		for _, a := range s.Approvers {
			if prev != nil {
				if _, ok := prev.Approver(a.PrincipalID); ok {
					continue
				}
			}
			if !seen[a.PrincipalID] {
				seen[a.PrincipalID] = true
				added = append(added, a.PrincipalID)
			}
		}
	}
	return added
}
