package port

import (
	"context"
	"io"

	"github.com/garyjia/approval-engine/internal/domain/approval"
)

// Notification is the outbound message for an approval event
type Notification struct {
	Type       string                 `json:"type"`
	Recipients []string               `json:"recipients"`
	ApprovalID string                 `json:"approvalId"`
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body"`
	ActionURL  string                 `json:"actionUrl,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationSender delivers notifications to recipients
type NotificationSender interface {
	Send(ctx context.Context, n *Notification) error
}

// RequestExporter renders approval requests as a downloadable report
type RequestExporter interface {
	ContentType() string
	FileExtension() string
	Export(w io.Writer, reqs []*approval.Request) error
}
