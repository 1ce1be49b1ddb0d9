package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
)

type sentMessage struct {
	idType, id, msgType, content string
}

type fakeSender struct {
	sent    []sentMessage
	failFor map[string]bool
}

func (f *fakeSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if f.failFor[receiveID] {
		return "", errors.New("API error: code=230001, msg=invalid receive_id")
	}
	f.sent = append(f.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_" + receiveID, nil
}

type mapResolver map[string]string

func (m mapResolver) ReceiveID(principalID string) string {
	if id, ok := m[principalID]; ok {
		return id
	}
	return principalID
}

func sampleNotification() *port.Notification {
	return &port.Notification{
		Type:       "approval.step_activated",
		Recipients: []string{"alice", "bob"},
		ApprovalID: "apr-1",
		Subject:    "Approval needed: PO-1001",
		Body:       "PO-1001 requested by Riley is waiting for your decision.",
		ActionURL:  "https://approvals.example.com/approvals/apr-1",
		Metadata:   map[string]interface{}{"objectId": "PO-1001", "status": "pending"},
	}
}

func TestNotifier_SendsCardPerRecipient(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, mapResolver{"alice": "ou_alice"}, "", zap.NewNop())

	require.NoError(t, n.Send(context.Background(), sampleNotification()))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, sentMessage{idType: "open_id", id: "ou_alice", msgType: "interactive", content: sender.sent[0].content}, sender.sent[0])
	assert.Equal(t, "bob", sender.sent[1].id)

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sender.sent[0].content), &card))
	header := card["header"].(map[string]interface{})
	assert.Equal(t, "orange", header["template"])
	assert.Equal(t, "Approval needed: PO-1001", header["title"].(map[string]interface{})["content"])
	assert.Contains(t, sender.sent[0].content, "https://approvals.example.com/approvals/apr-1")
}

func TestNotifier_ContinuesPastFailures(t *testing.T) {
	sender := &fakeSender{failFor: map[string]bool{"alice": true}}
	n := NewNotifier(sender, nil, "user_id", zap.NewNop())

	err := n.Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient alice")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "bob", sender.sent[0].id)
	assert.Equal(t, "user_id", sender.sent[0].idType)
}

func TestNotifier_NothingToSend(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil, "", zap.NewNop())
	assert.NoError(t, n.Send(context.Background(), nil))
	assert.NoError(t, n.Send(context.Background(), &port.Notification{Type: "approval.created"}))
	assert.Empty(t, sender.sent)
}

func TestHeaderTemplate(t *testing.T) {
	tests := []struct {
		name string
		n    port.Notification
		want string
	}{
		{name: "approved", n: port.Notification{Type: "approval.completed", Metadata: map[string]interface{}{"status": "approved"}}, want: "green"},
		{name: "rejected", n: port.Notification{Type: "approval.completed", Metadata: map[string]interface{}{"status": "rejected"}}, want: "red"},
		{name: "rejecting vote", n: port.Notification{Type: "approval.decision_recorded", Metadata: map[string]interface{}{"decision": "rejected"}}, want: "red"},
		{name: "expired", n: port.Notification{Type: "approval.expired"}, want: "grey"},
		{name: "created", n: port.Notification{Type: "approval.created"}, want: "blue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, headerTemplate(&tt.n))
		})
	}
}
