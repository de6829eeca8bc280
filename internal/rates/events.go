package rates

import (
	"sync"
	"time"
)

// EventKind identifies a coordinator broadcast.
type EventKind string

const (
	EventRateCacheUpdated       EventKind = "rateCacheUpdated"
	EventProdCacheLoadSucceeded EventKind = "productionCacheLoadSucceeded"
	EventProdCacheLoadFailed    EventKind = "productionCacheLoadFailed"
)

// Event carries no data; subscribers re-read the stores.
type Event struct {
	Kind EventKind `json:"event"`
	At   time.Time `json:"at"`
}

// Handler receives events on the coordinator's main goroutine and must not block.
type Handler func(Event)

// Bus is the observer list owned by the coordinator.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers an event of kind to every handler.
func (b *Bus) Publish(kind EventKind) {
	ev := Event{Kind: kind, At: time.Now()}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
