// Package api exposes the coordinator over HTTP. Handlers decode and
// validate JSON requests, call the coordinator, and map its errors onto
// status codes with sanitized messages. Run and queue events are streamed
// to websocket clients by EventStream.
package api
