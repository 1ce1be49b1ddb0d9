// Package notification holds notification senders that do not depend on an
// external transport.
package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
)

// LogSender writes notifications to the log instead of delivering them. It
// is used when no transport is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs n
func (s *LogSender) Send(ctx context.Context, n *port.Notification) error {
	if n == nil {
		return nil
	}
	s.logger.Info("Notification",
		zap.String("type", n.Type),
		zap.String("approval_id", n.ApprovalID),
		zap.Strings("recipients", n.Recipients),
		zap.String("subject", n.Subject),
		zap.String("action_url", n.ActionURL))
	return nil
}

// FanOut sends every notification through each sender in turn
type FanOut []port.NotificationSender

// Send calls every sender and joins their errors
func (f FanOut) Send(ctx context.Context, n *port.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Verify interface compliance
var (
	_ port.NotificationSender = (*LogSender)(nil)
	_ port.NotificationSender = FanOut(nil)
)
