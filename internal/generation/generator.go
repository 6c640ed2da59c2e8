package generation

import (
	"context"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Response is the output of one generation call.
type Response struct {
	Variants     []domain.Variant
	Reasoning    string
	InputTokens  int
	OutputTokens int
}

// Generator defines the interface for producing candidate variants from a
// request. This interface serves as a boundary between the application core
// and external AI/LLM services.
type Generator interface {
	// GenerateVariants returns up to req.Options.MaxVariants candidate
	// rewrites of req.Input, or an error from errors.go.
	GenerateVariants(ctx context.Context, req domain.Request) (*Response, error)
}
