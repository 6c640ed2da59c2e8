package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type subscription[E any] struct {
	id      uint64
	handler Handler[E]
}

// Bus is an in-memory Emitter that stores subscribed handlers and delivers
// events to them synchronously, in subscription order.
type Bus[E any] struct {
	mu       sync.RWMutex
	handlers []subscription[E]
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates a new, empty Bus. The name is attached to log records so
// that several buses can be told apart.
func NewBus[E any](name string, logger *slog.Logger) *Bus[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[E]{
		logger: logger.With("component", "event_bus", "bus", name),
	}
}

// Subscribe registers a handler and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus[E]) Subscribe(handler Handler[E]) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription[E]{id: id, handler: handler})
	count := len(b.handlers)
	b.mu.Unlock()

	b.logger.Debug("registered event handler", "handler_count", count)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[E]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.handlers {
		if s.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed handlers.
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Emit publishes the given event to all subscribed handlers.
// If any handler fails, the event is still sent to all other handlers,
// and the first error encountered is returned.
func (b *Bus[E]) Emit(ctx context.Context, event E) error {
	b.mu.RLock()
	handlers := make([]subscription[E], len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	var firstErr error
	for i, s := range handlers {
		if err := b.deliver(ctx, s.handler, event); err != nil {
			b.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// deliver runs one handler, converting a panic into an error.
func (b *Bus[E]) deliver(ctx context.Context, h Handler[E], event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return h.HandleEvent(ctx, event)
}
