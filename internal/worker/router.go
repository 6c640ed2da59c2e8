package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Target is a model the router can send a prompt to.
type Target struct {
	Name string
	// Strengths maps an intent to how well the target handles it, 0 to 1.
	Strengths map[string]float64
	// LongInput is the bonus applied to high-complexity prompts.
	LongInput float64
	// Format adapts a prompt to the target's preferred layout.
	Format func(input string) string
}

// DefaultTargets is the built-in routing catalogue.
func DefaultTargets() []Target {
	return []Target{
		{
			Name:      "gpt-4o",
			Strengths: map[string]float64{"code": 0.9, "analysis": 0.85, "extraction": 0.8, "creative": 0.75, "general": 0.8},
			Format:    func(in string) string { return "### Task\n" + in },
		},
		{
			Name:      "claude",
			Strengths: map[string]float64{"code": 0.88, "analysis": 0.9, "extraction": 0.8, "creative": 0.88, "general": 0.8},
			LongInput: 0.05,
			Format:    func(in string) string { return "<task>\n" + in + "\n</task>" },
		},
		{
			Name:      "gemini-flash",
			Strengths: map[string]float64{"code": 0.75, "analysis": 0.75, "extraction": 0.88, "creative": 0.7, "general": 0.82},
			Format:    func(in string) string { return in },
		},
	}
}

// Router selects the target model best suited to a prompt.
type Router struct {
	logger  *slog.Logger
	targets []Target
}

// NewRouter creates the router worker with the default catalogue.
func NewRouter(logger *slog.Logger) *Router {
	return NewRouterWithTargets(DefaultTargets(), logger)
}

// NewRouterWithTargets creates a router over a custom catalogue.
func NewRouterWithTargets(targets []Target, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:  logger.With("worker", NameRouter),
		targets: targets,
	}
}

// Name implements domain.Worker.
func (r *Router) Name() string { return NameRouter }

// Execute implements domain.Worker. A target requested in the context wins
// outright when it is in the catalogue.
func (r *Router) Execute(ctx context.Context, req domain.Request) (*domain.WorkerResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(r.targets) == 0 {
		return nil, fmt.Errorf("router has no targets configured")
	}

	intent := tagValue(req.Context.Tags, "intent")
	if intent == "" {
		intent = "general"
	}
	long := tagValue(req.Context.Tags, "complexity") == "high"

	variants := make([]domain.Variant, 0, len(r.targets))
	for _, t := range r.targets {
		score, ok := t.Strengths[intent]
		if !ok {
			score = t.Strengths["general"]
		}
		if long {
			score += t.LongInput
		}
		if req.Context.Target == t.Name {
			score = 1
		}
		variants = append(variants, domain.Variant{
			Content:   t.Format(req.Input),
			Technique: "format:" + t.Name,
			Score:     clamp01(score),
			Target:    t.Name,
		})
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Score > variants[j].Score
	})

	best := variants[0]
	reason := fmt.Sprintf("Routed to %s, the strongest match for %s prompts.", best.Target, intent)
	if req.Context.Target == best.Target {
		reason = fmt.Sprintf("Routed to %s as requested.", best.Target)
	}

	outputs := make([]string, 0, len(variants))
	for _, v := range variants {
		outputs = append(outputs, v.Content)
	}

	r.logger.DebugContext(ctx, "router selected target",
		"target", best.Target,
		"intent", intent,
		"score", best.Score)

	return &domain.WorkerResult{
		Content:        best.Content,
		Variants:       variants,
		SelectedTarget: best.Target,
		Reasoning:      reason,
		Metrics:        heuristicMetrics(start, best.Score, req.Input, outputs...),
	}, nil
}
