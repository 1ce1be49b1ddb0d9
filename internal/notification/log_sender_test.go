package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/approval-engine/internal/application/port"
)

type countingSender struct {
	calls int
	err   error
}

func (c *countingSender) Send(ctx context.Context, n *port.Notification) error {
	c.calls++
	return c.err
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), &port.Notification{
		Type:       "approval.created",
		ApprovalID: "apr-1",
		Recipients: []string{"riley"},
		Subject:    "Approval requested: PO-1",
	}))
	require.NoError(t, s.Send(context.Background(), nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "apr-1", entries[0].ContextMap()["approval_id"])
}

func TestFanOut(t *testing.T) {
	ok := &countingSender{}
	failing := &countingSender{err: errors.New("down")}
	after := &countingSender{}

	err := FanOut{ok, failing, after}.Send(context.Background(), &port.Notification{})
	require.Error(t, err)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, after.calls, "a failing sender does not stop the rest")

	assert.NoError(t, FanOut{ok}.Send(context.Background(), &port.Notification{}))
}
