// Package events provides a process-local publish/subscribe bus for resource
// lifecycle events.
package events

import (
	"sync"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/logger"
)

// Handler consumes a single event. Handlers run on the publisher's dispatch
// goroutine per subscriber; slow handlers delay that subscriber only.
type Handler func(event core.Event)

// subscriberBuffer bounds the per-subscriber queue. A full queue blocks
// publishing rather than dropping, preserving at-least-once delivery.
const subscriberBuffer = 64

// Bus fans events out to all subscribers. Delivery is at-least-once and
// ordered per subscriber; consumers must be idempotent.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan core.Event
	nextID int
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan core.Event)}
}

// Subscribe registers a handler for all events. The returned function
// cancels the subscription and waits for in-flight deliveries.
func (b *Bus) Subscribe(handler Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan core.Event, subscriberBuffer)
	b.subs[id] = ch

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			handler(event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber. Events are published only
// after the underlying state transition is durable.
func (b *Bus) Publish(eventType core.EventType, resourceID string, fieldsChanged ...string) {
	event := core.Event{
		Type:          eventType,
		ResourceID:    resourceID,
		Timestamp:     time.Now().UTC(),
		FieldsChanged: fieldsChanged,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	logger.Debug("publishing event", "type", string(eventType), "resource_id", resourceID)
	for _, ch := range b.subs {
		ch <- event
	}
}

// Close cancels all subscriptions and waits for handlers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
