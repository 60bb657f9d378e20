package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus implements an asynchronous publish-subscribe event system. It is the
// fan-out point between the RCON session manager and the collaborator
// layers: the CLI, MQTT telemetry, and the shutdown hook in main subscribe
// here rather than to individual clients. The history store is written by
// the session manager directly, not through the bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a new Bus instance.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging and for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered
}

// Emit publishes an event to all subscribed handlers asynchronously. Each
// handler runs in its own goroutine so a slow subscriber cannot stall the
// engine goroutine that emitted the event.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	handlers := b.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]handlerEntry, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Stop signals the Bus to stop accepting new events and waits for all
// in-flight handlers to complete.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
