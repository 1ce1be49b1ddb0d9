package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// EventRepository implements port.EventRepository as an append-only audit table
type EventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Append records evt
func (r *EventRepository) Append(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	query := `
		INSERT INTO approval_events (id, approval_id, type, actor_id, correlation_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		evt.ID,
		evt.ApprovalID,
		evt.Type.String(),
		evt.ActorID,
		evt.CorrelationID,
		string(payload),
		formatTime(evt.Timestamp),
	)
	if err != nil {
		r.logger.Error("Failed to append event",
			zap.String("event_id", evt.ID),
			zap.String("approval_id", evt.ApprovalID),
			zap.Error(err))
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListByApproval returns the events of one request in append order
func (r *EventRepository) ListByApproval(ctx context.Context, approvalID string) ([]*event.Event, error) {
	query := `
		SELECT id, approval_id, type, actor_id, correlation_id, payload, occurred_at
		FROM approval_events
		WHERE approval_id = ?
		ORDER BY seq ASC
	`
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, approvalID)
	if err != nil {
		r.logger.Error("Failed to list events", zap.String("approval_id", approvalID), zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*event.Event{}
	for rows.Next() {
		var evt event.Event
		var typ, payload, occurredAt string
		if err := rows.Scan(&evt.ID, &evt.ApprovalID, &typ, &evt.ActorID, &evt.CorrelationID, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.Type = event.Type(typ)
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		if evt.Timestamp, err = time.Parse(timeLayout, occurredAt); err != nil {
			return nil, fmt.Errorf("failed to parse event time: %w", err)
		}
		events = append(events, &evt)
	}
	return events, rows.Err()
}

// Verify interface compliance
var _ port.EventRepository = (*EventRepository)(nil)
