// Package events provides the in-process event bus through which the store
// reports purchases, balance changes and failures to the host application.
package events

import "sync"

// Event is anything posted on the bus.
type Event interface {
	EventName() string
}

// Poster publishes events. *Bus implements it.
type Poster interface {
	Post(Event)
}

// Handler receives posted events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Handler
}

// Bus delivers events synchronously, on the posting goroutine, to every
// handler registered when Post was called, in registration order.
type Bus struct {
	mu   sync.RWMutex
	next Subscription
	subs []subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds fn and returns its subscription.
func (b *Bus) Register(fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs = append(b.subs, subscriber{id: b.next, fn: fn})
	return b.next
}

// Unregister removes a subscription. Unknown subscriptions are ignored.
func (b *Bus) Unregister(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == s {
			// Copy so snapshots taken by in-flight posts stay intact.
			subs := make([]subscriber, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return
		}
	}
}

// Post delivers e to the current subscribers and returns once all have run.
// Handlers registered or removed during delivery take effect on the next post.
func (b *Bus) Post(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
