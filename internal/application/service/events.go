package service

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// eventBatch collects the events of one operation under a shared correlation id
type eventBatch struct {
	approvalID    string
	actorID       string
	correlationID string
	at            time.Time
	events        []*event.Event
}

func newEventBatch(approvalID, actorID string, at time.Time) *eventBatch {
	return &eventBatch{approvalID: approvalID, actorID: actorID, at: at}
}

func (b *eventBatch) add(t event.Type, payload map[string]interface{}) {
	var evt *event.Event
	if b.correlationID == "" {
		evt = event.NewEvent(t, b.approvalID, b.actorID, payload)
		b.correlationID = evt.CorrelationID
	} else {
		evt = event.NewEventWithCorrelation(t, b.approvalID, b.actorID, payload, b.correlationID)
	}
	evt.Timestamp = b.at
	b.events = append(b.events, evt)
}

func (b *eventBatch) created(req *approval.Request) {
	b.add(event.TypeApprovalCreated, map[string]interface{}{
		event.KeyObjectType:  req.Object.Type,
		event.KeyObjectID:    req.Object.ID,
		event.KeyObjectLabel: req.Object.Label,
		event.KeyRequesterID: req.RequesterID,
		event.KeyStatus:      string(req.Status),
		event.KeyReason:      req.TriggerReason,
	})
}

func (b *eventBatch) stepsActivated(req *approval.Request, stepIDs []string) {
	for _, id := range stepIDs {
		s, ok := req.Step(id)
		if !ok || s.Status != approval.StepActive {
			continue
		}
		b.add(event.TypeStepActivated, map[string]interface{}{
			event.KeyStepID:    s.ID,
			event.KeyStepName:  s.Name,
			event.KeyApprovers: waitingApprovers(s),
		})
	}
}

func (b *eventBatch) decision(req *approval.Request, stepID string, d approval.Decision, notes string) {
	payload := map[string]interface{}{
		event.KeyStepID:   stepID,
		event.KeyDecision: string(d),
		event.KeyNotes:    notes,
		event.KeyStatus:   string(req.Status),
	}
	if s, ok := req.Step(stepID); ok {
		payload[event.KeyStepName] = s.Name
	}
	b.add(event.TypeDecisionRecorded, payload)
}

func (b *eventBatch) completed(req *approval.Request) {
	switch req.Status {
	case approval.StatusApproved, approval.StatusRejected:
		b.add(event.TypeApprovalCompleted, map[string]interface{}{
			event.KeyStatus:   string(req.Status),
			event.KeyDecision: string(req.FinalDecision),
			event.KeyNotes:    req.DecisionNotes,
		})
	case approval.StatusExpired:
		b.add(event.TypeApprovalExpired, map[string]interface{}{
			event.KeyStatus: string(req.Status),
		})
	case approval.StatusCancelled:
		b.add(event.TypeApprovalCancelled, map[string]interface{}{
			event.KeyStatus: string(req.Status),
			event.KeyReason: req.DecisionNotes,
		})
	}
}

func (b *eventBatch) escalated(req *approval.Request, added []string, level int, reason string) {
	b.add(event.TypeApprovalEscalated, map[string]interface{}{
		event.KeyApprovers: added,
		event.KeyLevel:     level,
		event.KeyReason:    reason,
		event.KeyStatus:    string(req.Status),
	})
}

// waitingApprovers lists the assigned approvers of s that have not responded
func waitingApprovers(s *approval.Step) []string {
	ids := make([]string, 0, len(s.Approvers))
	for _, a := range s.Approvers {
		if !a.Responded {
			ids = append(ids, a.PrincipalID)
		}
	}
	return ids
}
