package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/engine"
)

// ApprovalRepository defines persistence operations for approval requests.
// Finders return nil, nil when nothing matches.
type ApprovalRepository interface {
	// Save inserts a request with Version 0 or updates one whose stored
	// version equals req.Version. On success req.Version is incremented.
	// A stale version returns an approval.ErrConflict kind error.
	Save(ctx context.Context, req *approval.Request) error
	FindByID(ctx context.Context, id string) (*approval.Request, error)
	FindMany(ctx context.Context, filter engine.Filter, sort engine.Sort, page engine.Page) ([]*approval.Request, int, error)
	FindPendingFor(ctx context.Context, principalID string) ([]*approval.Request, error)
	FindByInitiator(ctx context.Context, requesterID string) ([]*approval.Request, error)
	// FindLive returns the non-terminal request for an object under a policy
	FindLive(ctx context.Context, objectType, objectID, policyID string) (*approval.Request, error)
	// FindExpiredBefore returns non-terminal requests with a deadline at or before t
	FindExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*approval.Request, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// EventRepository stores the audit trail of approval events
type EventRepository interface {
	Append(ctx context.Context, evt *event.Event) error
	ListByApproval(ctx context.Context, approvalID string) ([]*event.Event, error)
}

// PolicyRepository provides approval policies. Policies are read-only to the engine.
type PolicyRepository interface {
	ListActive(ctx context.Context, objectType string) ([]approval.Policy, error)
	GetByID(ctx context.Context, id string) (*approval.Policy, error)
	List(ctx context.Context) ([]approval.Policy, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
