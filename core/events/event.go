package events

import (
	"log"
	"strings"
	"sync"

	"slidingoracle/core/types"
)

// Event represents a structured state change emitted by the oracle.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. logs, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// LogEmitter writes every event as a single key=value line.
type LogEmitter struct {
	Logger *log.Logger
}

// Emit implements the Emitter interface.
func (e LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := e.Logger
	if logger == nil {
		logger = log.Default()
	}
	rendered := evt.Event()
	parts := make([]string, 0, len(rendered.Attributes))
	for _, key := range rendered.Keys() {
		parts = append(parts, key+"="+rendered.Attributes[key])
	}
	logger.Printf("event %s %s", rendered.Type, strings.Join(parts, " "))
}

// Recorder buffers events in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Fanout forwards each event to every non-nil emitter.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
