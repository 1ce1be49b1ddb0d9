package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

var (
	// ErrClosed is returned once the dispatcher has been closed
	ErrClosed = errors.New("dispatcher is closed")

	// ErrDuplicateSubscription is returned when a subscription name is reused
	ErrDuplicateSubscription = errors.New("subscription already exists")
)

// Dispatcher fans approval events out to subscribers
type Dispatcher interface {
	// Subscribe adds a subscription. Names are unique.
	Subscribe(sub Subscription) error

	// Unsubscribe removes a subscription by name and reports whether it existed
	Unsubscribe(name string) bool

	// Subscribers returns the names of subscriptions receiving an event type,
	// in subscription order
	Subscribers(eventType event.Type) []string

	// Dispatch runs every matching handler in order and joins their errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs the matching handlers on a background goroutine
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Close rejects new events and waits for pending async deliveries
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu   sync.RWMutex
	subs []Subscription

	logger Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an in-process event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(sub Subscription) error {
	if sub.Name == "" || sub.Handler == nil {
		return fmt.Errorf("subscription needs a name and a handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		if s.Name == sub.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.Name)
		}
	}
	sub.Types = append([]event.Type(nil), sub.Types...)
	d.subs = append(d.subs, sub)

	d.info("Subscription added", "name", sub.Name, "event_types", sub.Types)
	return nil
}

func (d *eventDispatcher) Unsubscribe(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.Name == name {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			d.info("Subscription removed", "name", name)
			return true
		}
	}
	return false
}

func (d *eventDispatcher) Subscribers(eventType event.Type) []string {
	matched := d.matching(eventType)
	names := make([]string, len(matched))
	for i, s := range matched {
		names[i] = s.Name
	}
	return names
}

// matching snapshots the subscriptions for eventType so handlers run unlocked
func (d *eventDispatcher) matching(eventType event.Type) []Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Subscription
	for _, s := range d.subs {
		if s.matches(eventType) {
			out = append(out, s)
		}
	}
	return out
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return d.deliver(ctx, evt, d.matching(evt.Type))
}

// DispatchAsync keeps the values of ctx but not its cancellation, so a
// finished HTTP request does not abort delivery.
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		d.error("Dropping event, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	subs := d.matching(evt.Type)
	if len(subs) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.deliver(detached, evt, subs)
	}()
}

// deliver runs every subscription even when an earlier one fails
func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event, subs []Subscription) error {
	var errs []error
	for _, s := range subs {
		if err := d.safeExecute(ctx, evt, s); err != nil {
			d.error("Subscriber failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"approval_id", evt.ApprovalID,
				"subscription", s.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.info("Closing dispatcher, waiting for async deliveries")
	d.wg.Wait()
	return nil
}

// safeExecute turns a handler panic into an error
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, s Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) error(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
