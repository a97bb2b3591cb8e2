package events

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Handler is a function that handles an event.
type Handler func(Event)

// subscription is one registered handler.
type subscription struct {
	id      uint64
	ticket  string // empty = all tickets
	handler Handler
}

// Bus is a synchronous pub-sub bus for lifecycle events. It lets the
// orchestrator and session registry notify observers without direct
// dependencies on the HTTP layer.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for events scoped to the given ticket.
// An empty ticketID subscribes to every event. Returns an ID for Unsubscribe.
func (b *Bus) Subscribe(ticketID string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subs = append(b.subs, subscription{id: id, ticket: ticketID, handler: handler})
	return id
}

// Unsubscribe removes a subscription by ID. Returns true if it existed.
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

// Publish dispatches an event to all matching handlers in registration
// order. A panicking handler is recovered and logged so one misbehaving
// observer cannot block delivery to the rest.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.ticket == "" || sub.ticket == ev.TicketID {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.safeCall(sub.handler, ev)
	}
}

func (b *Bus) safeCall(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", ev.Type, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	handler(ev)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
