package engine

import (
	"context"
	"sort"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// CreationInput describes the triggering action a request is created for
type CreationInput struct {
	PolicyID      string         `json:"policy_id"`
	ObjectType    string         `json:"object_type"`
	ObjectID      string         `json:"object_id"`
	ObjectLabel   string         `json:"object_label,omitempty"`
	RequesterID   string         `json:"requester_id"`
	RequesterName string         `json:"requester_name,omitempty"`
	TriggerReason string         `json:"trigger_reason,omitempty"`
	TriggerData   map[string]any `json:"trigger_data,omitempty"`
	ObjectData    map[string]any `json:"object_data,omitempty"`
}

// CreateRequest instantiates wf for in. One step is built per template step
// in ascending Order, approvers are resolved, quorums become concrete counts,
// and the activation rule is applied before the request is returned.
// The request is not stored.
func (e *Engine) CreateRequest(ctx context.Context, in CreationInput, wf approval.WorkflowTemplate) (*approval.Request, error) {
	if err := validateCreation(in); err != nil {
		return nil, err
	}
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}

	now := e.now()
	mode := wf.Mode
	if mode == "" {
		mode = approval.ModeSequential
	}

	req := &approval.Request{
		ID:            e.newID(),
		PolicyID:      in.PolicyID,
		WorkflowID:    wf.ID,
		Object:        approval.ObjectRef{Type: in.ObjectType, ID: in.ObjectID, Label: in.ObjectLabel},
		Status:        approval.StatusPending,
		Mode:          mode,
		RequesterID:   in.RequesterID,
		RequesterName: in.RequesterName,
		TriggerReason: in.TriggerReason,
		TriggerData:   copyMap(in.TriggerData),
		ObjectData:    copyMap(in.ObjectData),
		CreatedAt:     now,
		UpdatedAt:     now,
		TimeoutAction: wf.TimeoutAction,
		Escalation:    append([]approval.EscalationLevel(nil), wf.Escalation...),
	}
	if wf.Timeout != nil {
		expires := wf.Timeout.AddTo(now)
		req.ExpiresAt = &expires
	}

	templates := append([]approval.StepTemplate(nil), wf.Steps...)
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Order < templates[j].Order
	})

	resolveIn := ResolveInput{
		PolicyID:    in.PolicyID,
		RequesterID: in.RequesterID,
		ObjectType:  in.ObjectType,
		ObjectID:    in.ObjectID,
		ObjectData:  in.ObjectData,
	}
	for _, tpl := range templates {
		step, err := e.buildStep(ctx, tpl, resolveIn, now)
		if err != nil {
			return nil, err
		}
		req.Steps = append(req.Steps, step)
	}

	if _, err := e.activate(req, now); err != nil {
		return nil, err
	}
	if allResolved(req) {
		if err := finish(req, approval.DecisionApproved, SystemActor, "no approval steps required", now); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (e *Engine) buildStep(ctx context.Context, tpl approval.StepTemplate, in ResolveInput, now time.Time) (approval.Step, error) {
	ids, err := e.ResolveApprovers(ctx, tpl.Approvers, in)
	if err != nil {
		return approval.Step{}, err
	}

	step := approval.Step{
		ID:                e.newID(),
		TemplateID:        tpl.ID,
		Name:              tpl.Name,
		Order:             tpl.Order,
		Status:            approval.StepPending,
		Approvers:         make([]approval.AssignedApprover, 0, len(ids)),
		RequiredApprovals: tpl.Required.Resolve(len(ids)),
		Decisions:         []approval.StepDecision{},
		TimeoutAction:     tpl.TimeoutAction,
		Conditions:        append([]approval.Trigger(nil), tpl.Conditions...),
	}
	if tpl.Timeout != nil {
		timeout := *tpl.Timeout
		step.Timeout = &timeout
	}
	for _, id := range ids {
		step.Approvers = append(step.Approvers, approval.AssignedApprover{PrincipalID: id, AssignedAt: now})
	}

	if len(ids) == 0 {
		switch e.emptyStep {
		case EmptyStepSkip:
			if err := skipStep(&step, now, "no resolvable approvers"); err != nil {
				return approval.Step{}, err
			}
		case EmptyStepStall:
		default:
			return approval.Step{}, approval.NewError(approval.KindValidation, "step %q has no resolvable approvers", tpl.Name)
		}
	}
	return step, nil
}

func validateCreation(in CreationInput) error {
	switch {
	case in.PolicyID == "":
		return approval.NewError(approval.KindValidation, "policy id is required")
	case in.ObjectID == "":
		return approval.NewError(approval.KindValidation, "object id is required")
	case in.RequesterID == "":
		return approval.NewError(approval.KindValidation, "requester id is required")
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
