package lark

import (
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// headerTemplate picks the card colour for a notification type
func headerTemplate(n *port.Notification) string {
	switch event.Type(n.Type) {
	case event.TypeStepActivated, event.TypeApprovalEscalated:
		return "orange"
	case event.TypeApprovalCancelled, event.TypeApprovalExpired:
		return "grey"
	case event.TypeApprovalCompleted:
		if n.Metadata["status"] == "rejected" {
			return "red"
		}
		return "green"
	case event.TypeDecisionRecorded:
		if n.Metadata["decision"] == "rejected" {
			return "red"
		}
		return "blue"
	default:
		return "blue"
	}
}

// buildCard renders a notification as a Lark interactive card
func buildCard(n *port.Notification) map[string]interface{} {
	elements := []interface{}{
		map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": n.Body,
			},
		},
	}

	var fields []map[string]interface{}
	for _, f := range []struct{ label, key string }{
		{"Object", "objectId"},
		{"Status", "status"},
	} {
		if v, ok := n.Metadata[f.key]; ok && v != "" {
			fields = append(fields, map[string]interface{}{
				"is_short": true,
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": fmt.Sprintf("**%s**\n%v", f.label, v),
				},
			})
		}
	}
	if len(fields) > 0 {
		elements = append(elements, map[string]interface{}{"tag": "hr"}, map[string]interface{}{
			"tag":    "div",
			"fields": fields,
		})
	}

	if n.ActionURL != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "action",
			"actions": []map[string]interface{}{
				{
					"tag":  "button",
					"type": "primary",
					"url":  n.ActionURL,
					"text": map[string]interface{}{
						"tag":     "plain_text",
						"content": "Open approval",
					},
				},
			},
		})
	}

	elements = append(elements, map[string]interface{}{
		"tag": "note",
		"elements": []map[string]interface{}{
			{
				"tag":     "plain_text",
				"content": fmt.Sprintf("Approval %s", n.ApprovalID),
			},
		},
	})

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": headerTemplate(n),
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": n.Subject,
			},
		},
		"elements": elements,
	}
}
