package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/generation"
)

// Pricing is the per-million-token price used to estimate LLM cost.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing approximates Gemini Flash list prices in USD.
var DefaultPricing = Pricing{InputPerMillion: 0.10, OutputPerMillion: 0.40}

// LLM is a worker backed by a remote text generator.
type LLM struct {
	name      string
	generator generation.Generator
	pricing   Pricing
	logger    *slog.Logger
}

// NewLLM creates an LLM worker named NameLLM.
func NewLLM(generator generation.Generator, pricing Pricing, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		name:      NameLLM,
		generator: generator,
		pricing:   pricing,
		logger:    logger.With("worker", NameLLM),
	}
}

// Name implements domain.Worker.
func (l *LLM) Name() string { return l.name }

// Execute implements domain.Worker.
func (l *LLM) Execute(ctx context.Context, req domain.Request) (*domain.WorkerResult, error) {
	start := time.Now()

	resp, err := l.generator.GenerateVariants(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm generation: %w", err)
	}
	if len(resp.Variants) == 0 {
		return nil, fmt.Errorf("llm generation: %w", generation.ErrInvalidResponse)
	}

	best := resp.Variants[0]
	var sum float64
	for _, v := range resp.Variants {
		sum += v.Score
		if v.Score > best.Score {
			best = v
		}
	}

	cost := float64(resp.InputTokens)/1e6*l.pricing.InputPerMillion +
		float64(resp.OutputTokens)/1e6*l.pricing.OutputPerMillion

	l.logger.DebugContext(ctx, "llm worker finished",
		"variant_count", len(resp.Variants),
		"cost", cost)

	return &domain.WorkerResult{
		Content:        best.Content,
		Variants:       resp.Variants,
		Reasoning:      resp.Reasoning,
		SelectedTarget: req.Context.Target,
		Metrics: domain.Metrics{
			EstimatedAccuracy: sum / float64(len(resp.Variants)),
			Latency:           time.Since(start),
			Cost:              cost,
			InputTokens:       resp.InputTokens,
			OutputTokens:      resp.OutputTokens,
		},
	}, nil
}
