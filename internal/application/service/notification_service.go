package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// NotificationService turns approval events into notification payloads and
// hands them to the sender
type NotificationService interface {
	// Build returns the notification for evt, or nil when nobody needs to be told
	Build(ctx context.Context, evt *event.Event) (*port.Notification, error)
	// Handle builds and sends the notification for evt
	Handle(ctx context.Context, evt *event.Event) error
	// Register subscribes Handle to every notifying event type
	Register(d dispatcher.Dispatcher) error
}

type notificationServiceImpl struct {
	repo    port.ApprovalRepository
	sender  port.NotificationSender
	baseURL string
	logger  Logger
}

// NewNotificationService creates a new NotificationService. baseURL prefixes
// the action link; an empty baseURL omits it.
func NewNotificationService(
	repo port.ApprovalRepository,
	sender port.NotificationSender,
	baseURL string,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		repo:    repo,
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

var notifyingEvents = []event.Type{
	event.TypeApprovalCreated,
	event.TypeStepActivated,
	event.TypeDecisionRecorded,
	event.TypeApprovalCompleted,
	event.TypeApprovalCancelled,
	event.TypeApprovalEscalated,
	event.TypeApprovalExpired,
}

// Register subscribes the service to the dispatcher
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) error {
	return d.Subscribe(dispatcher.Subscription{
		Name:    "notification",
		Types:   notifyingEvents,
		Handler: s.Handle,
	})
}

// Handle builds and sends the notification. Delivery failures are returned
// so the dispatcher logs them; they never affect the approval itself.
func (s *notificationServiceImpl) Handle(ctx context.Context, evt *event.Event) error {
	n, err := s.Build(ctx, evt)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	if err := s.sender.Send(ctx, n); err != nil {
		s.logger.Error("Failed to send notification",
			"error", err,
			"type", n.Type,
			"approval_id", n.ApprovalID,
			"recipients", len(n.Recipients),
		)
		return fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Notification sent",
		"type", n.Type,
		"approval_id", n.ApprovalID,
		"recipients", len(n.Recipients),
	)
	return nil
}

// Build assembles the payload for evt from the stored request
func (s *notificationServiceImpl) Build(ctx context.Context, evt *event.Event) (*port.Notification, error) {
	req, err := s.repo.FindByID(ctx, evt.ApprovalID)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if req == nil {
		return nil, approval.NewError(approval.KindNotFound, "approval %s not found", evt.ApprovalID)
	}

	label := objectLabel(req)
	stepName := evt.GetPayloadString(event.KeyStepName)
	var recipients []string
	var subject, body string
	exclude := evt.ActorID

	switch evt.Type {
	case event.TypeApprovalCreated:
		// the requester is both actor and recipient of the submission receipt
		recipients, exclude = []string{req.RequesterID}, ""
		subject = fmt.Sprintf("Approval requested: %s", label)
		body = fmt.Sprintf("%s was submitted for approval.", label)
		if req.TriggerReason != "" {
			body += fmt.Sprintf(" Reason: %s.", req.TriggerReason)
		}

	case event.TypeStepActivated:
		recipients = evt.GetPayloadStrings(event.KeyApprovers)
		subject = fmt.Sprintf("Approval needed: %s", label)
		body = fmt.Sprintf("%s requested by %s is waiting for your decision at step %q.", label, requesterName(req), stepName)

	case event.TypeDecisionRecorded:
		recipients = []string{req.RequesterID}
		decision := evt.GetPayloadString(event.KeyDecision)
		subject = fmt.Sprintf("Decision recorded on %s: %s", label, decision)
		body = fmt.Sprintf("%s recorded %s at step %q.", evt.ActorID, decision, stepName)
		if notes := evt.GetPayloadString(event.KeyNotes); notes != "" {
			body += fmt.Sprintf(" Notes: %s", notes)
		}

	case event.TypeApprovalCompleted:
		recipients = append([]string{req.RequesterID}, participants(req)...)
		subject = fmt.Sprintf("Approval %s: %s", req.Status, label)
		body = fmt.Sprintf("%s was %s.", label, req.Status)
		if req.DecisionNotes != "" {
			body += fmt.Sprintf(" %s", req.DecisionNotes)
		}

	case event.TypeApprovalCancelled:
		recipients = participants(req)
		subject = fmt.Sprintf("Approval cancelled: %s", label)
		body = fmt.Sprintf("%s was cancelled by %s.", label, evt.ActorID)
		if reason := evt.GetPayloadString(event.KeyReason); reason != "" {
			body += fmt.Sprintf(" Reason: %s", reason)
		}

	case event.TypeApprovalEscalated:
		recipients = evt.GetPayloadStrings(event.KeyApprovers)
		subject = fmt.Sprintf("Approval escalated to you: %s", label)
		body = fmt.Sprintf("%s requested by %s was escalated for your decision.", label, requesterName(req))
		if reason := evt.GetPayloadString(event.KeyReason); reason != "" {
			body += fmt.Sprintf(" Reason: %s", reason)
		}

	case event.TypeApprovalExpired:
		recipients = []string{req.RequesterID}
		subject = fmt.Sprintf("Approval expired: %s", label)
		body = fmt.Sprintf("%s expired before a decision was reached.", label)

	default:
		return nil, nil
	}

	recipients = dedupeRecipients(recipients, exclude)
	if len(recipients) == 0 {
		return nil, nil
	}

	metadata := map[string]interface{}{
		"eventId":       evt.ID,
		"correlationId": evt.CorrelationID,
		"objectType":    req.Object.Type,
		"objectId":      req.Object.ID,
		"status":        string(req.Status),
	}
	if stepID := evt.GetPayloadString(event.KeyStepID); stepID != "" {
		metadata["stepId"] = stepID
	}
	if decision := evt.GetPayloadString(event.KeyDecision); decision != "" {
		metadata["decision"] = decision
	}

	return &port.Notification{
		Type:       evt.Type.String(),
		Recipients: recipients,
		ApprovalID: req.ID,
		Subject:    subject,
		Body:       body,
		ActionURL:  s.actionURL(req.ID),
		Metadata:   metadata,
	}, nil
}

func (s *notificationServiceImpl) actionURL(id string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/approvals/" + id
}

func objectLabel(req *approval.Request) string {
	if req.Object.Label != "" {
		return req.Object.Label
	}
	return req.Object.Type + " " + req.Object.ID
}

func requesterName(req *approval.Request) string {
	if req.RequesterName != "" {
		return req.RequesterName
	}
	return req.RequesterID
}

// participants lists every assigned approver in step order
func participants(req *approval.Request) []string {
	var ids []string
	for i := range req.Steps {
		for _, a := range req.Steps[i].Approvers {
			ids = append(ids, a.PrincipalID)
		}
	}
	return ids
}

// dedupeRecipients drops duplicates, empty ids and the actor who caused the event
func dedupeRecipients(ids []string, actorID string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == actorID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
