package events

import "dscengine/core/types"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (journal, websocket
// streams, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory. Tests use it to assert on the
// exact sequence an operation produced.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(ev Event) {
	if r == nil || ev == nil {
		return
	}
	r.Events = append(r.Events, ev)
}

// Types returns the event types in emission order.
func (r *Recorder) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.EventType())
	}
	return out
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(ev Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(ev)
		}
	}
}
