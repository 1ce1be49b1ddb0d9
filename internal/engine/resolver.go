package engine

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// ResolveInput carries the request context available to approver resolution
type ResolveInput struct {
	PolicyID    string
	RequesterID string
	ObjectType  string
	ObjectID    string
	ObjectData  map[string]any
}

// ResolveApprovers expands spec into a deduplicated, ordered list of principal
// ids with the exclusion list applied. The requester is not excluded unless
// the exclusion list names them.
func (e *Engine) ResolveApprovers(ctx context.Context, spec approval.ApproverSpec, in ResolveInput) ([]string, error) {
	var ids []string

	switch spec.Type {
	case approval.ApproverExplicit:
		ids = spec.Value
	case approval.ApproverManager:
		if e.managers == nil || in.RequesterID == "" {
			break
		}
		manager, err := e.managers.ManagerOf(ctx, in.RequesterID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up manager of %s: %w", in.RequesterID, err)
		}
		if manager != "" {
			ids = []string{manager}
		}
	case approval.ApproverRole, approval.ApproverDepartment, approval.ApproverDynamic:
		if e.resolver == nil {
			break
		}
		resolved, err := e.resolver.ResolveApprovers(ctx, spec, in)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s approvers: %w", spec.Type, err)
		}
		ids = resolved
	default:
		return nil, approval.NewError(approval.KindValidation, "unknown approver type %q", spec.Type)
	}

	return filterApprovers(ids, spec.Exclude), nil
}

func filterApprovers(ids, exclude []string) []string {
	skip := make(map[string]bool, len(exclude)+len(ids))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || skip[id] {
			continue
		}
		skip[id] = true
		out = append(out, id)
	}
	return out
}

func resolveInputFor(req *approval.Request) ResolveInput {
	return ResolveInput{
		PolicyID:    req.PolicyID,
		RequesterID: req.RequesterID,
		ObjectType:  req.Object.Type,
		ObjectID:    req.Object.ID,
		ObjectData:  req.ObjectData,
	}
}
