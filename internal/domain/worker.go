package domain

import "context"

// Worker is the single-call capability the coordinator dispatches to.
// Implementations may fail; failures are isolated by the caller.
type Worker interface {
	// Name identifies the worker in results, weights and events.
	Name() string

	// Execute transforms the request into a result.
	Execute(ctx context.Context, req Request) (*WorkerResult, error)
}

// WorkerFunc adapts a plain function into a named Worker.
type WorkerFunc struct {
	WorkerName string
	Fn         func(ctx context.Context, req Request) (*WorkerResult, error)
}

// Name implements Worker.
func (w WorkerFunc) Name() string { return w.WorkerName }

// Execute implements Worker.
func (w WorkerFunc) Execute(ctx context.Context, req Request) (*WorkerResult, error) {
	return w.Fn(ctx, req)
}

// EstimateTokens approximates the token count of a text at four characters
// per token, rounding up.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
