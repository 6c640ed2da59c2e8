// Package events provides a small synchronous publish/subscribe bus.
//
// The bus decouples components that report lifecycle changes (the task
// queue, the coordinator) from the components that react to them (metrics,
// logging, WebSocket streams). Publishers never learn which handlers exist.
//
// The primary components are:
// - Handler: interface for components that can handle events of type E
// - HandlerFunc: adapter turning a plain function into a Handler
// - Bus: delivers each published event to every subscribed handler
//
// Delivery is synchronous and isolated per handler: a handler that returns
// an error or panics is logged and skipped, and the remaining handlers still
// receive the event.
package events
