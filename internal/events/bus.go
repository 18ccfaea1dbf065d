// Package events provides the publish/subscribe bus that connects the core
// managers to the view layer. Handlers are registered per event name and
// must be explicitly unsubscribed on teardown.
package events

import "sync"

// Handler receives the payload published for an event.
type Handler func(payload any)

// Token identifies a single subscription for later removal.
type Token struct {
	event string
	id    uint64
}

// Bus is a minimal event bus: named events, any number of handlers per
// event, unsubscribe by token. Handlers are invoked synchronously on the
// publishing goroutine, outside the bus lock.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe registers a handler for the named event and returns a token
// that must be passed to Unsubscribe when the handler is no longer needed.
func (b *Bus) Subscribe(event string, h Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	m, ok := b.subs[event]
	if !ok {
		m = make(map[uint64]Handler)
		b.subs[event] = m
	}
	m[b.nextID] = h
	return Token{event: event, id: b.nextID}
}

// Unsubscribe removes the subscription identified by token. Unsubscribing
// an unknown or already-removed token is a no-op.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.subs[tok.event]; ok {
		delete(m, tok.id)
		if len(m) == 0 {
			delete(b.subs, tok.event)
		}
	}
}

// Publish delivers payload to every handler registered for event. Handlers
// are copied under the lock and fired outside it so a handler may safely
// subscribe or unsubscribe.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	m := b.subs[event]
	handlers := make([]Handler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}
