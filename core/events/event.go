package events

import (
	"sync"

	"tokenvesting/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as a generic
// types.Event for RPC consumers and indexers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events raised inside a unit of work so they can be
// released only after the work commits.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards every buffered event to dst in order and clears the buffer.
func (b *Buffer) Flush(dst Emitter) {
	if dst == nil {
		dst = NoopEmitter{}
	}
	for _, evt := range b.pending {
		dst.Emit(evt)
	}
	b.pending = nil
}

// Discard drops the buffered events.
func (b *Buffer) Discard() { b.pending = nil }

// Recorder keeps the rendered payload of every emitted event. The RPC layer
// serves recent events from it.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*types.Event
}

// NewRecorder keeps at most limit events; older ones are dropped first.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rendered)
	if overflow := len(r.events) - r.limit; overflow > 0 {
		r.events = append([]*types.Event(nil), r.events[overflow:]...)
	}
}

// Events returns copies of the recorded events, oldest first.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Clone())
	}
	return out
}

// Fanout emits every event to each of its emitters.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
