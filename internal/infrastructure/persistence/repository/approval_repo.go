package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/engine"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// timeLayout is fixed width in UTC so stored timestamps compare lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ApprovalRepository implements port.ApprovalRepository on sqlite. The
// request is stored as JSON; filter and sort columns are denormalized next
// to it, and approval_assignees indexes who may vote.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts or updates req with an optimistic version check
func (r *ApprovalRepository) Save(ctx context.Context, req *approval.Request) error {
	if req == nil || req.ID == "" {
		return approval.NewError(approval.KindValidation, "request id is required")
	}

	stored := *req
	stored.Version = req.Version + 1
	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode approval: %w", err)
	}

	err = r.inTx(ctx, func(ctx context.Context, ex sqlite.Executor) error {
		if req.Version == 0 {
			if err := r.insert(ctx, ex, &stored, payload); err != nil {
				return err
			}
		} else if err := r.update(ctx, ex, &stored, req.Version, payload); err != nil {
			return err
		}
		return r.replaceAssignees(ctx, ex, &stored)
	})
	if err != nil {
		if approval.KindOf(err) != approval.KindConflict {
			r.logger.Error("Failed to save approval", zap.String("id", req.ID), zap.Error(err))
		}
		return err
	}

	req.Version = stored.Version
	return nil
}

func (r *ApprovalRepository) insert(ctx context.Context, ex sqlite.Executor, req *approval.Request, payload []byte) error {
	query := `
		INSERT INTO approval_requests (
			id, policy_id, workflow_id, object_type, object_id,
			status, status_rank, requester_id, created_at, updated_at,
			expires_at, next_due_at, version, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := ex.ExecContext(ctx, query,
		req.ID,
		req.PolicyID,
		req.WorkflowID,
		req.Object.Type,
		req.Object.ID,
		string(req.Status),
		req.Status.Severity(),
		req.RequesterID,
		formatTime(req.CreatedAt),
		formatTime(req.UpdatedAt),
		nullTime(req.ExpiresAt),
		nullTime(engine.NextDeadline(req)),
		req.Version,
		string(payload),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
		return approval.NewError(approval.KindConflict, "approval %s already exists", req.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (r *ApprovalRepository) update(ctx context.Context, ex sqlite.Executor, req *approval.Request, expected int64, payload []byte) error {
	query := `
		UPDATE approval_requests SET
			status = ?, status_rank = ?, updated_at = ?, expires_at = ?,
			next_due_at = ?, version = ?, payload = ?
		WHERE id = ? AND version = ?
	`
	result, err := ex.ExecContext(ctx, query,
		string(req.Status),
		req.Status.Severity(),
		formatTime(req.UpdatedAt),
		nullTime(req.ExpiresAt),
		nullTime(engine.NextDeadline(req)),
		req.Version,
		string(payload),
		req.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return approval.NewError(approval.KindConflict, "approval %s changed since version %d", req.ID, expected)
	}
	return nil
}

func (r *ApprovalRepository) replaceAssignees(ctx context.Context, ex sqlite.Executor, req *approval.Request) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM approval_assignees WHERE approval_id = ?`, req.ID); err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}

	live := !req.Status.IsTerminal()
	for i := range req.Steps {
		step := &req.Steps[i]
		for _, a := range step.Approvers {
			pending := live && step.Status == approval.StepActive && !a.Responded
			_, err := ex.ExecContext(ctx,
				`INSERT OR IGNORE INTO approval_assignees (approval_id, step_id, principal_id, pending) VALUES (?, ?, ?, ?)`,
				req.ID, step.ID, a.PrincipalID, boolToInt(pending),
			)
			if err != nil {
				return fmt.Errorf("failed to insert assignee: %w", err)
			}
		}
	}
	return nil
}

// FindByID retrieves a request by id
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*approval.Request, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT version, payload FROM approval_requests WHERE id = ?`, id)

	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return req, nil
}

// FindMany returns one page of matching requests and the total match count
func (r *ApprovalRepository) FindMany(ctx context.Context, filter engine.Filter, sort engine.Sort, page engine.Page) ([]*approval.Request, int, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM approval_requests r` + where
	if err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count approvals", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count approvals: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT r.version, r.payload FROM approval_requests r` + where +
		` ORDER BY ` + orderBy(sort) + ` LIMIT ? OFFSET ?`
	reqs, err := r.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// FindPendingFor returns requests principalID can currently vote on, oldest first
func (r *ApprovalRepository) FindPendingFor(ctx context.Context, principalID string) ([]*approval.Request, error) {
	where, args := buildWhere(engine.Filter{PendingFor: principalID})
	return r.query(ctx, `SELECT r.version, r.payload FROM approval_requests r`+where+` ORDER BY r.created_at ASC, r.rowid ASC`, args...)
}

// FindByInitiator returns requests raised by requesterID, newest first
func (r *ApprovalRepository) FindByInitiator(ctx context.Context, requesterID string) ([]*approval.Request, error) {
	return r.query(ctx,
		`SELECT r.version, r.payload FROM approval_requests r WHERE r.requester_id = ? ORDER BY r.created_at DESC, r.rowid DESC`,
		requesterID,
	)
}

// FindLive returns the non-terminal request for an object under a policy
func (r *ApprovalRepository) FindLive(ctx context.Context, objectType, objectID, policyID string) (*approval.Request, error) {
	query := `
		SELECT r.version, r.payload FROM approval_requests r
		WHERE r.object_type = ? AND r.object_id = ? AND r.policy_id = ?
			AND r.status IN (?, ?)
		ORDER BY r.created_at DESC
		LIMIT 1
	`
	reqs, err := r.query(ctx, query, objectType, objectID, policyID,
		string(approval.StatusPending), string(approval.StatusInProgress))
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return reqs[0], nil
}

// FindExpiredBefore returns live requests whose next deadline is at or before t, most overdue first
func (r *ApprovalRepository) FindExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*approval.Request, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT r.version, r.payload FROM approval_requests r
		WHERE r.next_due_at IS NOT NULL AND r.next_due_at <= ?
		ORDER BY r.next_due_at ASC
		LIMIT ?
	`
	return r.query(ctx, query, formatTime(t), limit)
}

// Delete removes a request and its assignee rows. Audit events are kept.
func (r *ApprovalRepository) Delete(ctx context.Context, id string) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM approval_requests WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete approval", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete approval: %w", err)
	}
	return nil
}

// Exists reports whether a request with id is stored
func (r *ApprovalRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check approval: %w", err)
	}
	return exists, nil
}

func (r *ApprovalRepository) query(ctx context.Context, query string, args ...interface{}) ([]*approval.Request, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	reqs := []*approval.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// inTx runs fn in the transaction carried by ctx or in a new one
func (r *ApprovalRepository) inTx(ctx context.Context, fn func(ctx context.Context, ex sqlite.Executor) error) error {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return fn(ctx, tx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(sqlite.ContextWithTx(ctx, tx), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*approval.Request, error) {
	var version int64
	var payload string
	if err := s.Scan(&version, &payload); err != nil {
		return nil, err
	}
	var req approval.Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("failed to decode approval: %w", err)
	}
	req.Version = version
	return &req, nil
}

func buildWhere(f engine.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "r.status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.ObjectType != "" {
		clauses = append(clauses, "r.object_type = ?")
		args = append(args, f.ObjectType)
	}
	if f.ObjectID != "" {
		clauses = append(clauses, "r.object_id = ?")
		args = append(args, f.ObjectID)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "r.requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.ApproverID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM approval_assignees a WHERE a.approval_id = r.id AND a.principal_id = ?)")
		args = append(args, f.ApproverID)
	}
	if f.PendingFor != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM approval_assignees a WHERE a.approval_id = r.id AND a.principal_id = ? AND a.pending = 1)")
		args = append(args, f.PendingFor)
	}
	if f.CreatedFrom != nil {
		clauses = append(clauses, "r.created_at >= ?")
		args = append(args, formatTime(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		clauses = append(clauses, "r.created_at <= ?")
		args = append(args, formatTime(*f.CreatedTo))
	}
	if f.ExpiresFrom != nil {
		clauses = append(clauses, "r.expires_at IS NOT NULL AND r.expires_at >= ?")
		args = append(args, formatTime(*f.ExpiresFrom))
	}
	if f.ExpiresTo != nil {
		clauses = append(clauses, "r.expires_at IS NOT NULL AND r.expires_at <= ?")
		args = append(args, formatTime(*f.ExpiresTo))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// orderBy mirrors engine.SortRequests: stable on insertion order, and
// requests without an expiry last in both directions
func orderBy(s engine.Sort) string {
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	switch s.Field {
	case engine.SortUpdatedAt:
		return "r.updated_at " + dir + ", r.rowid ASC"
	case engine.SortExpiresAt:
		return "r.expires_at IS NULL, r.expires_at " + dir + ", r.rowid ASC"
	case engine.SortStatus:
		return "r.status_rank " + dir + ", r.rowid ASC"
	default:
		return "r.created_at " + dir + ", r.rowid ASC"
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// Verify interface compliance
var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
