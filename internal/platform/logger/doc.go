// Package logger provides structured logging functionality for the application
// using Go's standard library log/slog package. Setup builds the JSON logger
// from server configuration; the context helpers carry a request-scoped
// logger and request ID through handlers, the coordinator and workers.
package logger
