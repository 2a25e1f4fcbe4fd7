// Package bus provides the in-process publish/subscribe channel between the
// connectors and the UI layer. Subscribers filter by event-kind namespace
// prefix (e.g. "whatsapp." or "" for everything). Delivery is non-blocking:
// a slow subscriber drops events rather than stalling ingestion.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Event is a connector event published for the UI layer.
type Event struct {
	// Kind is "<platform>.<event>", e.g. "telegram.challenge",
	// "whatsapp.message".
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Bus is an in-process pub/sub event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an event bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish sends the event to every subscriber whose namespace is a prefix of
// evt.Kind. Fire-and-forget: full subscriber buffers drop the event.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber for events matching the namespace prefix.
// Returns the receive channel and an unsubscribe function. Unsubscribing
// closes the channel, so consumers ranging over it terminate. Publish holds
// the read lock for the whole send loop and unsubscribe takes the write
// lock, so the close never races a send. Safe to call more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	if bufSize <= 0 {
		bufSize = 16
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
}
