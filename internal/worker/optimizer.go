package worker

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
)

const defaultOptimizerVariants = 3

// technique rewrites an input. apply returns false when the technique has
// nothing to contribute for this request.
type technique struct {
	name  string
	score float64
	apply func(req domain.Request) (string, bool)
}

var roles = map[string]string{
	"code":       "You are a senior software engineer.",
	"analysis":   "You are a careful analyst who explains your reasoning.",
	"creative":   "You are an imaginative writer with a clear voice.",
	"extraction": "You are a precise assistant that extracts exactly what is asked.",
	"general":    "You are a knowledgeable, helpful assistant.",
}

var techniques = []technique{
	{
		name:  "role",
		score: 0.7,
		apply: func(req domain.Request) (string, bool) {
			role, ok := roles[tagValue(req.Context.Tags, "intent")]
			if !ok {
				role = roles["general"]
			}
			return role + " " + req.Input, true
		},
	},
	{
		name:  "structure",
		score: 0.75,
		apply: func(req domain.Request) (string, bool) {
			return req.Input + "\n\nOrganize the answer as numbered steps followed by a one-line summary.", true
		},
	},
	{
		name:  "specificity",
		score: 0.72,
		apply: func(req domain.Request) (string, bool) {
			return req.Input + "\n\nBe specific: state any assumptions and keep the answer under 200 words.", true
		},
	},
	{
		name:  "constraints",
		score: 0.8,
		apply: func(req domain.Request) (string, bool) {
			if len(req.Context.Constraints) == 0 {
				return "", false
			}
			return req.Input + "\n\n" + bullets("Requirements", req.Context.Constraints), true
		},
	},
	{
		name:  "hints",
		score: 0.78,
		apply: func(req domain.Request) (string, bool) {
			if len(req.Context.Hints) == 0 {
				return "", false
			}
			return req.Input + "\n\n" + bullets("Keep in mind", req.Context.Hints), true
		},
	},
	{
		name:  "few_shot",
		score: 0.85,
		apply: func(req domain.Request) (string, bool) {
			if len(req.Context.Examples) == 0 {
				return "", false
			}
			return req.Input + "\n\n" + bullets("Examples", req.Context.Examples), true
		},
	},
}

// Optimizer rewrites a prompt using a fixed catalogue of prompting
// techniques and returns the rewrites as variants.
type Optimizer struct {
	logger *slog.Logger
}

// NewOptimizer creates the optimizer worker.
func NewOptimizer(logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{logger: logger.With("worker", NameOptimizer)}
}

// Name implements domain.Worker.
func (o *Optimizer) Name() string { return NameOptimizer }

// Execute implements domain.Worker.
func (o *Optimizer) Execute(ctx context.Context, req domain.Request) (*domain.WorkerResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(req.Options.Techniques))
	for _, t := range req.Options.Techniques {
		allowed[strings.ToLower(t)] = true
	}

	// Short prompts gain the most from rewriting.
	boost := 0.0
	if domain.EstimateTokens(req.Input) < 20 {
		boost = 0.05
	}

	var variants []domain.Variant
	for _, t := range techniques {
		if len(allowed) > 0 && !allowed[t.name] {
			continue
		}
		content, ok := t.apply(req)
		if !ok {
			continue
		}
		variants = append(variants, domain.Variant{
			Content:   content,
			Technique: t.name,
			Score:     clamp01(t.score + boost),
			Target:    req.Context.Target,
		})
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Score > variants[j].Score
	})
	limit := req.Options.MaxVariants
	if limit <= 0 {
		limit = defaultOptimizerVariants
	}
	if len(variants) > limit {
		variants = variants[:limit]
	}

	result := &domain.WorkerResult{Content: req.Input, Variants: variants}
	outputs := make([]string, 0, len(variants))
	for _, v := range variants {
		outputs = append(outputs, v.Content)
	}
	accuracy := 0.0
	if len(variants) > 0 {
		result.Content = variants[0].Content
		result.Reasoning = "Applied the " + variants[0].Technique + " technique for the strongest rewrite."
		accuracy = variants[0].Score
	}
	result.Metrics = heuristicMetrics(start, accuracy, req.Input, outputs...)

	o.logger.DebugContext(ctx, "optimizer finished",
		"variant_count", len(variants),
		"techniques", req.Options.Techniques)

	return result, nil
}
