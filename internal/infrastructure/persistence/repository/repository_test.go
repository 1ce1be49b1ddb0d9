package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/engine"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/pkg/database"
)

var t0 = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "approvals.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).RunMigrations(database.EmbeddedMigrations()))
	return db.DB
}

func ptr(t time.Time) *time.Time { return &t }

func newRequest(id, objectID string, created time.Time, approvers ...string) *approval.Request {
	assigned := make([]approval.AssignedApprover, 0, len(approvers))
	for _, a := range approvers {
		assigned = append(assigned, approval.AssignedApprover{PrincipalID: a, AssignedAt: created})
	}
	return &approval.Request{
		ID:          id,
		PolicyID:    "po-large",
		WorkflowID:  "wf-po",
		Object:      approval.ObjectRef{Type: "purchase_order", ID: objectID, Label: objectID + " chairs"},
		Status:      approval.StatusPending,
		Mode:        approval.ModeSequential,
		RequesterID: "requester",
		ObjectData:  map[string]any{"amount": 1500.0},
		Steps: []approval.Step{{
			ID:                id + "-s1",
			Name:              "manager review",
			Order:             1,
			Status:            approval.StepActive,
			Approvers:         assigned,
			RequiredApprovals: 1,
			ActivatedAt:       ptr(created),
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestApprovalRepository_SaveAndFind(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	req := newRequest("apr-1", "PO-1", t0, "alice", "bob")
	req.ExpiresAt = ptr(t0.Add(48 * time.Hour))
	require.NoError(t, repo.Save(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	got, err := repo.FindByID(ctx, "apr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "PO-1 chairs", got.Object.Label)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.True(t, got.ExpiresAt.Equal(t0.Add(48*time.Hour)))
	require.Len(t, got.Steps, 1)
	assert.Len(t, got.Steps[0].Approvers, 2)
	assert.Equal(t, 1500.0, got.ObjectData["amount"])

	exists, err := repo.Exists(ctx, "apr-1")
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApprovalRepository_OptimisticVersion(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	req := newRequest("apr-1", "PO-1", t0, "alice")
	require.NoError(t, repo.Save(ctx, req))

	err := repo.Save(ctx, newRequest("apr-1", "PO-1", t0, "alice"))
	assert.Equal(t, approval.KindConflict, approval.KindOf(err), "second insert of the same id")

	first, err := repo.FindByID(ctx, "apr-1")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "apr-1")
	require.NoError(t, err)

	first.Status = approval.StatusInProgress
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = approval.StatusCancelled
	err = repo.Save(ctx, second)
	assert.True(t, errors.Is(err, approval.ErrConflict))

	got, err := repo.FindByID(ctx, "apr-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestApprovalRepository_ConcurrentSavesOneWins(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, newRequest("apr-1", "PO-1", t0, "alice")))

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < writers; i++ {
		loaded, err := repo.FindByID(ctx, "apr-1")
		require.NoError(t, err)
		wg.Add(1)
		go func(req *approval.Request) {
			defer wg.Done()
			req.UpdatedAt = t0.Add(time.Minute)
			err := repo.Save(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if approval.KindOf(err) == approval.KindConflict {
				conflicts++
			}
		}(loaded)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, writers-1, conflicts)
}

func TestApprovalRepository_FindPendingFor(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	older := newRequest("apr-1", "PO-1", t0, "alice", "bob")
	newer := newRequest("apr-2", "PO-2", t0.Add(time.Hour), "alice")
	voted := newRequest("apr-3", "PO-3", t0.Add(2*time.Hour), "alice")
	voted.Steps[0].Approvers[0].Responded = true
	done := newRequest("apr-4", "PO-4", t0.Add(3*time.Hour), "alice")
	done.Status = approval.StatusCancelled
	for _, r := range []*approval.Request{newer, older, voted, done} {
		require.NoError(t, repo.Save(ctx, r))
	}

	pending, err := repo.FindPendingFor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"apr-1", "apr-2"}, ids(pending))

	pending, err = repo.FindPendingFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"apr-1"}, ids(pending))

	pending, err = repo.FindPendingFor(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovalRepository_FindManyMatchesInMemoryQuery(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	var all []*approval.Request
	for i, spec := range []struct {
		id      string
		status  approval.Status
		expires *time.Time
		who     string
	}{
		{"apr-1", approval.StatusPending, ptr(t0.Add(72 * time.Hour)), "alice"},
		{"apr-2", approval.StatusApproved, nil, "bob"},
		{"apr-3", approval.StatusInProgress, ptr(t0.Add(24 * time.Hour)), "alice"},
		{"apr-4", approval.StatusRejected, nil, "carol"},
		{"apr-5", approval.StatusPending, ptr(t0.Add(24 * time.Hour)), "bob"},
	} {
		r := newRequest(spec.id, "PO-"+spec.id, t0.Add(time.Duration(i)*time.Hour), spec.who)
		r.Status = spec.status
		r.ExpiresAt = spec.expires
		require.NoError(t, repo.Save(ctx, r))
		all = append(all, r)
	}

	tests := []struct {
		name   string
		filter engine.Filter
		sort   engine.Sort
		page   engine.Page
	}{
		{name: "default order", sort: engine.Sort{}},
		{name: "newest first", sort: engine.Sort{Descending: true}},
		{name: "by status", sort: engine.Sort{Field: engine.SortStatus}},
		{name: "by status descending", sort: engine.Sort{Field: engine.SortStatus, Descending: true}},
		{name: "by expiry nulls last", sort: engine.Sort{Field: engine.SortExpiresAt}},
		{name: "by expiry descending nulls last", sort: engine.Sort{Field: engine.SortExpiresAt, Descending: true}},
		{name: "status filter", filter: engine.Filter{Statuses: []approval.Status{approval.StatusPending, approval.StatusInProgress}}},
		{name: "approver filter", filter: engine.Filter{ApproverID: "alice"}},
		{name: "created window", filter: engine.Filter{CreatedFrom: ptr(t0.Add(time.Hour)), CreatedTo: ptr(t0.Add(3 * time.Hour))}},
		{name: "expiry window", filter: engine.Filter{ExpiresTo: ptr(t0.Add(48 * time.Hour))}},
		{name: "paged", page: engine.Page{Offset: 1, Limit: 2}},
		{name: "offset past end", page: engine.Page{Offset: 10, Limit: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, wantTotal := engine.Query(all, tt.filter, tt.sort, tt.page)
			got, total, err := repo.FindMany(ctx, tt.filter, tt.sort, tt.page)
			require.NoError(t, err)
			assert.Equal(t, wantTotal, total)
			assert.Equal(t, ids(want), ids(got))
		})
	}
}

func TestApprovalRepository_FindLive(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	closed := newRequest("apr-1", "PO-1", t0, "alice")
	closed.Status = approval.StatusRejected
	require.NoError(t, repo.Save(ctx, closed))

	live, err := repo.FindLive(ctx, "purchase_order", "PO-1", "po-large")
	require.NoError(t, err)
	assert.Nil(t, live)

	require.NoError(t, repo.Save(ctx, newRequest("apr-2", "PO-1", t0.Add(time.Hour), "alice")))
	live, err = repo.FindLive(ctx, "purchase_order", "PO-1", "po-large")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, "apr-2", live.ID)

	other, err := repo.FindLive(ctx, "purchase_order", "PO-1", "po-other")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestApprovalRepository_FindExpiredBefore(t *testing.T) {
	repo := NewApprovalRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	soon := newRequest("apr-1", "PO-1", t0, "alice")
	soon.ExpiresAt = ptr(t0.Add(time.Hour))
	stepDue := newRequest("apr-2", "PO-2", t0, "alice")
	stepDue.Steps[0].DeadlineAt = ptr(t0.Add(30 * time.Minute))
	later := newRequest("apr-3", "PO-3", t0, "alice")
	later.ExpiresAt = ptr(t0.Add(24 * time.Hour))
	finished := newRequest("apr-4", "PO-4", t0, "alice")
	finished.ExpiresAt = ptr(t0.Add(time.Minute))
	finished.Status = approval.StatusApproved
	for _, r := range []*approval.Request{soon, stepDue, later, finished} {
		require.NoError(t, repo.Save(ctx, r))
	}

	due, err := repo.FindExpiredBefore(ctx, t0.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"apr-2", "apr-1"}, ids(due), "most overdue first, terminal requests excluded")

	due, err = repo.FindExpiredBefore(ctx, t0.Add(2*time.Hour), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"apr-2"}, ids(due))
}

func TestApprovalRepository_FindByInitiatorAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())
	ctx := context.Background()

	first := newRequest("apr-1", "PO-1", t0, "alice")
	second := newRequest("apr-2", "PO-2", t0.Add(time.Hour), "alice")
	someoneElse := newRequest("apr-3", "PO-3", t0, "alice")
	someoneElse.RequesterID = "other"
	for _, r := range []*approval.Request{first, second, someoneElse} {
		require.NoError(t, repo.Save(ctx, r))
	}

	mine, err := repo.FindByInitiator(ctx, "requester")
	require.NoError(t, err)
	assert.Equal(t, []string{"apr-2", "apr-1"}, ids(mine))

	require.NoError(t, repo.Delete(ctx, "apr-2"))
	exists, err := repo.Exists(ctx, "apr-2")
	require.NoError(t, err)
	assert.False(t, exists)

	var assignees int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM approval_assignees WHERE approval_id = ?`, "apr-2").Scan(&assignees))
	assert.Zero(t, assignees)
}

func TestRepositories_TransactionRollback(t *testing.T) {
	db := setupTestDB(t)
	repo := NewApprovalRepository(db, zap.NewNop())
	events := NewEventRepository(db, zap.NewNop())
	tx := sqlite.NewDB(db, zap.NewNop())
	ctx := context.Background()

	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Save(ctx, newRequest("apr-1", "PO-1", t0, "alice")); err != nil {
			return err
		}
		if err := events.Append(ctx, event.NewEvent(event.TypeApprovalCreated, "apr-1", "requester", nil)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := repo.Exists(ctx, "apr-1")
	require.NoError(t, err)
	assert.False(t, exists)
	list, err := events.ListByApproval(ctx, "apr-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEventRepository_AppendAndList(t *testing.T) {
	events := NewEventRepository(setupTestDB(t), zap.NewNop())
	ctx := context.Background()

	created := event.NewEvent(event.TypeApprovalCreated, "apr-1", "requester", map[string]interface{}{
		event.KeyObjectType: "purchase_order",
	})
	created.Timestamp = t0
	activated := event.NewEventWithCorrelation(event.TypeStepActivated, "apr-1", "requester", map[string]interface{}{
		event.KeyStepID:    "s1",
		event.KeyApprovers: []string{"alice", "bob"},
	}, created.CorrelationID)
	activated.Timestamp = t0
	unrelated := event.NewEvent(event.TypeApprovalCreated, "apr-2", "requester", nil)

	for _, e := range []*event.Event{created, activated, unrelated} {
		require.NoError(t, events.Append(ctx, e))
	}
	assert.Error(t, events.Append(ctx, created), "event ids are unique")

	list, err := events.ListByApproval(ctx, "apr-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, event.TypeApprovalCreated, list[0].Type)
	assert.Equal(t, event.TypeStepActivated, list[1].Type)
	assert.Equal(t, created.CorrelationID, list[1].CorrelationID)
	assert.Equal(t, []string{"alice", "bob"}, list[1].GetPayloadStrings(event.KeyApprovers))
	assert.True(t, list[0].Timestamp.Equal(t0))
}

func ids(reqs []*approval.Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ID)
	}
	return out
}
