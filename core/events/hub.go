package events

import (
	"sync"

	"tokenvesting/core/types"
)

// Hub pushes rendered events to live subscribers. A subscriber that falls
// behind loses events rather than stalling the ledger.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan *types.Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan *types.Event)}
}

// Subscribe registers a subscriber with the given channel depth. The returned
// cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(depth int) (<-chan *types.Event, func()) {
	if depth <= 0 {
		depth = 64
	}
	ch := make(chan *types.Event, depth)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- rendered.Clone():
		default:
		}
	}
}
