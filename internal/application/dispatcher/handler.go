package dispatcher

import (
	"context"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Handler processes approval events
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription binds a named handler to a set of event types.
// An empty Types list receives every event.
type Subscription struct {
	Name    string
	Types   []event.Type
	Handler Handler
}

func (s Subscription) matches(t event.Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}
