package events

import "context"

// Handler defines an interface for components that can handle events.
type Handler[E any] interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event E) error
}

// HandlerFunc adapts an ordinary function into a Handler.
type HandlerFunc[E any] func(ctx context.Context, event E) error

// HandleEvent implements Handler.
func (f HandlerFunc[E]) HandleEvent(ctx context.Context, event E) error {
	return f(ctx, event)
}

// Listener adapts a function that cannot fail into a Handler.
func Listener[E any](fn func(event E)) Handler[E] {
	return HandlerFunc[E](func(_ context.Context, event E) error {
		fn(event)
		return nil
	})
}

// Emitter defines an interface for components that can emit events.
type Emitter[E any] interface {
	// Emit publishes the given event to all subscribed handlers.
	Emit(ctx context.Context, event E) error
}
