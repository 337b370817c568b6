package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowop/pkg/schema"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine, in publication order per subscriber.
type Handler func(evt *schema.Event)

// subscriber binds a handler to an optional event-type filter.
type subscriber struct {
	id    uint64
	types map[string]bool // nil = all types
	fn    Handler
}

// Bus is a synchronous, typed, multi-subscriber publish/subscribe channel.
// A panicking subscriber does not prevent delivery to the remaining
// subscribers, and subscription changes never affect an in-flight dispatch.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	subs   []*subscriber
	logger *slog.Logger
}

// NewBus creates an empty Bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler for the given event types (none = all).
// Returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(fn Handler, types ...string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &subscriber{id: b.seq, fn: fn}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Returns false if the ID is unknown.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers the event to every matching subscriber, in subscription
// order. The subscriber list is snapshotted before dispatch so concurrent
// Subscribe/Unsubscribe calls do not affect this emit.
func (b *Bus) Publish(evt *schema.Event) {
	if evt == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	snapshot := make([]*subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.types != nil && !sub.types[evt.Type] {
			continue
		}
		b.dispatch(sub, evt)
	}
}

// dispatch invokes one handler, isolating panics so the remaining
// subscribers still receive the event.
func (b *Bus) dispatch(sub *subscriber, evt *schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked",
				slog.Any("panic", r),
				slog.String("event_type", evt.Type),
				slog.Uint64("subscriber_id", sub.id))
		}
	}()
	sub.fn(evt)
}
