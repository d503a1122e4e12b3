// Package bus implements the in-process probe event bus.
package bus

import (
	"sync"

	"github.com/openusage/meterd/internal/meter"
)

// EventKind discriminates bus events.
type EventKind string

// Supported event kinds.
const (
	// EventResult carries one source's output for an open batch. Emitted zero
	// or more times per batch, in arbitrary order.
	EventResult EventKind = "probe:result"
	// EventBatchComplete signals the dispatcher considers the batch finished.
	// Emitted exactly once per batch.
	EventBatchComplete EventKind = "probe:batch-complete"
)

// Event is one bus message. Output is meaningful only for EventResult.
type Event struct {
	Kind    EventKind
	BatchID string
	Output  meter.PluginOutput
}

// Handler consumes bus events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

// Unsubscribe releases one subscription. Safe to call more than once.
type Unsubscribe func()

// Bus fans events out to subscribers. Delivery is synchronous and in publish
// order; it is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: map[int]Handler{}}
}

// Subscribe registers a handler for every subsequent publish and returns its
// release handle.
func (b *Bus) Subscribe(h Handler) Unsubscribe {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers evt to every current subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

// SubscriptionSet collects unsubscribe handles so a component can release
// everything it registered in one call, regardless of how many there were.
type SubscriptionSet struct {
	mu      sync.Mutex
	handles []Unsubscribe
}

// Add records a handle for later release.
func (s *SubscriptionSet) Add(u Unsubscribe) {
	if u == nil {
		return
	}
	s.mu.Lock()
	s.handles = append(s.handles, u)
	s.mu.Unlock()
}

// Close releases every recorded handle. Safe to call more than once.
func (s *SubscriptionSet) Close() {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()
	for _, u := range handles {
		u()
	}
}
