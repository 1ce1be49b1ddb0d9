package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/engine"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memApprovalRepo is an in-memory ApprovalRepository with version checks
type memApprovalRepo struct {
	mu      sync.Mutex
	items   map[string]*approval.Request
	saves   int
	saveErr error
}

func newMemApprovalRepo() *memApprovalRepo {
	return &memApprovalRepo{items: map[string]*approval.Request{}}
}

func (m *memApprovalRepo) Save(ctx context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.items[req.ID]
	switch {
	case !ok && req.Version != 0, ok && stored.Version != req.Version:
		return approval.NewError(approval.KindConflict, "approval %s was modified concurrently", req.ID)
	}
	req.Version++
	m.items[req.ID] = req.Clone()
	m.saves++
	return nil
}

func (m *memApprovalRepo) FindByID(ctx context.Context, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Clone(), nil
}

func (m *memApprovalRepo) all() []*approval.Request {
	out := make([]*approval.Request, 0, len(m.items))
	for _, r := range m.items {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memApprovalRepo) FindMany(ctx context.Context, f engine.Filter, s engine.Sort, p engine.Page) ([]*approval.Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, total := engine.Query(m.all(), f, s, p)
	return page, total, nil
}

func (m *memApprovalRepo) FindPendingFor(ctx context.Context, principalID string) ([]*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return engine.FilterRequests(m.all(), engine.Filter{PendingFor: principalID}), nil
}

func (m *memApprovalRepo) FindByInitiator(ctx context.Context, requesterID string) ([]*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return engine.FilterRequests(m.all(), engine.Filter{RequesterID: requesterID}), nil
}

func (m *memApprovalRepo) FindLive(ctx context.Context, objectType, objectID, policyID string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.all() {
		if r.Object.Type == objectType && r.Object.ID == objectID && r.PolicyID == policyID && !r.Status.IsTerminal() {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memApprovalRepo) FindExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*approval.Request
	for _, r := range m.all() {
		if next := engine.NextDeadline(r); next != nil && !next.After(t) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memApprovalRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memApprovalRepo) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *memEventRepo) Append(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *memEventRepo) ListByApproval(ctx context.Context, approvalID string) ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, e := range m.events {
		if e.ApprovalID == approvalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEventRepo) types(approvalID string) []event.Type {
	events, _ := m.ListByApproval(context.Background(), approvalID)
	out := make([]event.Type, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

type staticPolicies struct {
	policies []approval.Policy
}

func (s *staticPolicies) ListActive(ctx context.Context, objectType string) ([]approval.Policy, error) {
	var out []approval.Policy
	for _, p := range s.policies {
		if p.Active && p.ObjectType == objectType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *staticPolicies) GetByID(ctx context.Context, id string) (*approval.Policy, error) {
	for _, p := range s.policies {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *staticPolicies) List(ctx context.Context) ([]approval.Policy, error) {
	return s.policies, nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// recordingDispatcher captures dispatched events synchronously
type recordingDispatcher struct {
	dispatcher.Dispatcher
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

type staticRoles map[string][]string

func (s staticRoles) HasRole(ctx context.Context, principalID, role string) bool {
	for _, r := range s[principalID] {
		if r == role {
			return true
		}
	}
	return false
}

type mockSender struct {
	mu      sync.Mutex
	sent    []*port.Notification
	sendErr error
}

func (m *mockSender) Send(ctx context.Context, n *port.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, n)
	return nil
}

type fixture struct {
	svc      ApprovalService
	clock    *fakeClock
	repo     *memApprovalRepo
	events   *memEventRepo
	tx       *mockTxManager
	dispatch *recordingDispatcher
	logger   *mockLogger
}

func largePOPolicy(wf approval.WorkflowTemplate) approval.Policy {
	return approval.Policy{
		ID:         "po-large",
		Name:       "Large purchase orders",
		ObjectType: "purchase_order",
		Priority:   10,
		Active:     true,
		Triggers: []approval.Trigger{
			{Kind: approval.TriggerThreshold, Field: "amount", Operator: approval.OpGreater, Value: 1000},
		},
		Workflow: wf,
	}
}

func singleStep(quorum string, ids ...string) approval.WorkflowTemplate {
	q, err := approval.ParseQuorum(quorum)
	if err != nil {
		panic(err)
	}
	return approval.WorkflowTemplate{
		ID:   "wf-po",
		Mode: approval.ModeSequential,
		Steps: []approval.StepTemplate{{
			Name:      "manager review",
			Order:     1,
			Approvers: approval.ApproverSpec{Type: approval.ApproverExplicit, Value: ids},
			Required:  q,
		}},
	}
}

func newFixture(policies ...approval.Policy) *fixture {
	clock := &fakeClock{t: baseTime}
	n := 0
	var idMu sync.Mutex
	eng := engine.New(
		engine.WithClock(clock.Now),
		engine.WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	f := &fixture{
		clock:    clock,
		repo:     newMemApprovalRepo(),
		events:   &memEventRepo{},
		tx:       &mockTxManager{},
		dispatch: &recordingDispatcher{},
		logger:   &mockLogger{},
	}
	roles := staticRoles{
		"auditor": {"approval_viewer"},
		"ops":     {"approval_admin"},
	}
	f.svc = NewApprovalService(eng, f.repo, f.events, &staticPolicies{policies: policies}, f.tx, f.dispatch, roles,
		ApprovalServiceConfig{ViewerRole: "approval_viewer", AdminRole: "approval_admin"}, f.logger)
	return f
}

func poSubmit(amount float64) SubmitInput {
	return SubmitInput{
		ObjectType:    "purchase_order",
		ObjectID:      "PO-1001",
		ObjectLabel:   "PO-1001 office chairs",
		RequesterID:   "requester",
		RequesterName: "Riley Requester",
		Current:       map[string]any{"amount": amount},
	}
}

func (f *fixture) mustSubmit(t *testing.T, in SubmitInput) *approval.Request {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	return res.Request
}
