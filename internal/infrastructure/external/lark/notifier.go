package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
)

// MessageSender sends one IM message. *SDKClient implements it.
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// ReceiveIDResolver maps a principal id to a Lark receive id
type ReceiveIDResolver interface {
	ReceiveID(principalID string) string
}

// Notifier implements port.NotificationSender by sending each recipient an
// interactive card
type Notifier struct {
	sender        MessageSender
	resolver      ReceiveIDResolver
	receiveIDType string
	logger        *zap.Logger
}

// NewNotifier creates a Lark notifier. receiveIDType is the Lark id kind
// ("open_id", "user_id", "email"); resolver may be nil when principal ids
// already are receive ids.
func NewNotifier(sender MessageSender, resolver ReceiveIDResolver, receiveIDType string, logger *zap.Logger) *Notifier {
	if receiveIDType == "" {
		receiveIDType = "open_id"
	}
	return &Notifier{
		sender:        sender,
		resolver:      resolver,
		receiveIDType: receiveIDType,
		logger:        logger,
	}
}

// Send delivers n to every recipient. A failed recipient does not stop the
// others; the joined error reports all failures.
func (l *Notifier) Send(ctx context.Context, n *port.Notification) error {
	if n == nil || len(n.Recipients) == 0 {
		return nil
	}

	content, err := json.Marshal(buildCard(n))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	var errs []error
	for _, principalID := range n.Recipients {
		receiveID := principalID
		if l.resolver != nil {
			receiveID = l.resolver.ReceiveID(principalID)
		}

		messageID, err := l.sender.SendMessage(ctx, l.receiveIDType, receiveID, "interactive", string(content))
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", principalID, err))
			continue
		}
		l.logger.Debug("Approval card sent",
			zap.String("approval_id", n.ApprovalID),
			zap.String("type", n.Type),
			zap.String("recipient", principalID),
			zap.String("message_id", messageID))
	}
	return errors.Join(errs...)
}

// Verify interface compliance
var _ port.NotificationSender = (*Notifier)(nil)
