// Package events is an in-process pub/sub bus for observing the sensing and
// reporting tasks. Observers never feed back into either task.
package events

import (
	"log/slog"
	"sync"
)

// Event types and the Data keys each carries.
const (
	// EventMotion: "timestamp" (uint64 µs) of the recorded motion.
	EventMotion = "motion"
	// EventReport: "sensor_id" (string), "occupants" (int, 0 or 1),
	// "outcome" (string) and "status" (int HTTP status, 0 when unsent).
	EventReport = "report"
)

// Event is a single notification. Data is a flat map of plain values so the
// same event can be matched by Lua handler filters, converted to a Lua table
// and sent as JSON to console clients without per-type codecs.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger,
	}
}

// On registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit delivers an event synchronously. A panicking handler is recovered.
// Emit on a nil bus is a no-op.
func (b *Bus) Emit(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
