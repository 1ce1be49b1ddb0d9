package engine

import (
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// Capability names an action a viewer may take on a request
type Capability string

const (
	CapView           Capability = "view"
	CapSubmit         Capability = "submit"
	CapApprove        Capability = "approve"
	CapReject         Capability = "reject"
	CapRequestChanges Capability = "request_changes"
	CapCancel         Capability = "cancel"
)

// CapabilitySet is what a viewer may currently do. Denials holds a reason
// for every capability that is not granted.
type CapabilitySet struct {
	CanView           bool                  `json:"can_view"`
	// CanSubmit is held by the requester while the request is pending and
	// nobody has voted. Creation does not count as submission, so a fresh
	// request still grants it.
	CanSubmit         bool                  `json:"can_submit"`
	CanApprove        bool                  `json:"can_approve"`
	CanReject         bool                  `json:"can_reject"`
	CanRequestChanges bool                  `json:"can_request_changes"`
	CanCancel         bool                  `json:"can_cancel"`
	ActiveStepIDs     []string              `json:"active_step_ids"`
	Denials           map[Capability]string `json:"denials"`
}

// Allows reports whether c is granted and the denial reason when it is not
func (s CapabilitySet) Allows(c Capability) (bool, string) {
	var ok bool
	switch c {
	case CapView:
		ok = s.CanView
	case CapSubmit:
		ok = s.CanSubmit
	case CapApprove:
		ok = s.CanApprove
	case CapReject:
		ok = s.CanReject
	case CapRequestChanges:
		ok = s.CanRequestChanges
	case CapCancel:
		ok = s.CanCancel
	default:
		return false, fmt.Sprintf("unknown capability %q", c)
	}
	if ok {
		return true, ""
	}
	return false, s.Denials[c]
}

// Capabilities projects what viewerID may do on req. ActiveStepIDs lists the
// active steps the viewer can still vote on. The result must be recomputed
// after every transition.
func (e *Engine) Capabilities(req *approval.Request, viewerID string, hasViewerRole bool) CapabilitySet {
	set := CapabilitySet{ActiveStepIDs: []string{}, Denials: map[Capability]string{}}
	deny := func(c Capability, reason string) {
		set.Denials[c] = reason
	}

	if req == nil {
		for _, c := range []Capability{CapView, CapSubmit, CapApprove, CapReject, CapRequestChanges, CapCancel} {
			deny(c, "approval request not found")
		}
		return set
	}
	if viewerID == "" {
		for _, c := range []Capability{CapSubmit, CapApprove, CapReject, CapRequestChanges, CapCancel} {
			deny(c, "no viewer identity supplied")
		}
		set.CanView = hasViewerRole
		if !set.CanView {
			deny(CapView, "no viewer identity supplied")
		}
		return set
	}

	isRequester := viewerID == req.RequesterID
	terminal := req.Status.IsTerminal()

	switch {
	case isRequester, hasViewerRole, req.IsAssigned(viewerID):
		set.CanView = true
	default:
		deny(CapView, "viewer is not a participant in this approval")
	}

	switch {
	case !isRequester:
		deny(CapSubmit, "only the requester can submit")
	case req.Status != approval.StatusPending || req.HasDecisions():
		deny(CapSubmit, fmt.Sprintf("approval has already been submitted and is %s", req.Status))
	default:
		set.CanSubmit = true
	}

	voteReason := ""
	switch {
	case terminal:
		voteReason = fmt.Sprintf("approval is %s", req.Status)
	default:
		responded := false
		for _, s := range req.ActiveSteps() {
			a, ok := s.Approver(viewerID)
			if !ok {
				continue
			}
			if a.Responded {
				responded = true
				continue
			}
			set.ActiveStepIDs = append(set.ActiveStepIDs, s.ID)
		}
		switch {
		case len(set.ActiveStepIDs) > 0:
		case responded:
			voteReason = "you have already responded on the active step"
		default:
			voteReason = "you are not an assigned approver on the active step"
		}
	}
	if voteReason == "" {
		set.CanApprove, set.CanReject, set.CanRequestChanges = true, true, true
	} else {
		deny(CapApprove, voteReason)
		deny(CapReject, voteReason)
		deny(CapRequestChanges, voteReason)
	}

	switch {
	case !isRequester:
		deny(CapCancel, "only the requester can cancel")
	case terminal:
		deny(CapCancel, fmt.Sprintf("approval is already %s", req.Status))
	default:
		set.CanCancel = true
	}
	return set
}
