package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Evaluation dimensions reported in WorkerResult.Scores. DimensionOverall is
// the mean of the others.
const (
	DimensionClarity     = "clarity"
	DimensionSpecificity = "specificity"
	DimensionStructure   = "structure"
	DimensionContext     = "context"
	DimensionConciseness = "conciseness"
	DimensionOverall     = "overall"
)

// Dimensions lists the scored dimensions in report order.
var Dimensions = []string{
	DimensionClarity,
	DimensionSpecificity,
	DimensionStructure,
	DimensionContext,
	DimensionConciseness,
}

var vagueWords = map[string]bool{
	"something": true, "stuff": true, "things": true, "thing": true,
	"etc": true, "maybe": true, "somehow": true, "whatever": true, "some": true,
}

var precisionWords = []string{"must", "exactly", "at least", "at most", "only", "format", "include", "list"}

// Evaluator scores a prompt on several quality dimensions.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates the evaluator worker.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger.With("worker", NameEvaluator)}
}

// Name implements domain.Worker.
func (e *Evaluator) Name() string { return NameEvaluator }

// Execute implements domain.Worker. The result's content is the input
// itself; when a dimension scores poorly a suggested rewrite is added as a
// variant.
func (e *Evaluator) Execute(ctx context.Context, req domain.Request) (*domain.WorkerResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scores := Score(req)
	weakest := DimensionClarity
	for _, d := range Dimensions {
		if scores[d] < scores[weakest] {
			weakest = d
		}
	}

	result := &domain.WorkerResult{
		Content: req.Input,
		Scores:  scores,
		Variants: []domain.Variant{{
			Content:   req.Input,
			Technique: "original",
			Score:     scores[DimensionOverall],
		}},
		Reasoning: fmt.Sprintf("Overall quality %.2f; weakest dimension is %s (%.2f).",
			scores[DimensionOverall], weakest, scores[weakest]),
	}

	if suggestion, ok := suggest(req.Input, weakest); ok && scores[weakest] < 0.6 {
		result.Variants = append(result.Variants, domain.Variant{
			Content:   suggestion,
			Technique: "fix:" + weakest,
			Score:     clamp01(scores[DimensionOverall] + 0.1),
		})
	}

	outputs := make([]string, 0, len(result.Variants))
	for _, v := range result.Variants {
		outputs = append(outputs, v.Content)
	}
	result.Metrics = heuristicMetrics(start, scores[DimensionOverall], req.Input, outputs...)

	e.logger.DebugContext(ctx, "evaluation finished",
		"overall", scores[DimensionOverall],
		"weakest", weakest)

	return result, nil
}

// Score rates a request on every dimension, each in [0, 1].
func Score(req domain.Request) map[string]float64 {
	input := req.Input
	lower := strings.ToLower(input)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	vague := 0
	digits := 0
	for _, w := range words {
		if vagueWords[w] {
			vague++
		}
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			digits++
		}
	}

	precise := 0
	for _, p := range precisionWords {
		if strings.Contains(lower, p) {
			precise++
		}
	}

	scores := map[string]float64{
		DimensionClarity:     clamp01(1 - 0.15*float64(vague)),
		DimensionSpecificity: clamp01(0.4 + 0.1*float64(digits) + 0.15*float64(precise)),
		DimensionStructure:   structureScore(input),
		DimensionContext:     contextScore(req.Context),
		DimensionConciseness: concisenessScore(domain.EstimateTokens(input)),
	}

	var sum float64
	for _, d := range Dimensions {
		sum += scores[d]
	}
	scores[DimensionOverall] = sum / float64(len(Dimensions))
	return scores
}

func structureScore(input string) float64 {
	score := 0.4
	lines := strings.Split(strings.TrimSpace(input), "\n")
	if len(lines) > 1 {
		score += 0.2
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "-") || strings.HasPrefix(l, "*") ||
			(len(l) > 1 && unicode.IsDigit(rune(l[0])) && (l[1] == '.' || l[1] == ')')) {
			score += 0.2
			break
		}
	}
	if strings.ContainsAny(input, ".?!") {
		score += 0.2
	}
	return clamp01(score)
}

func contextScore(c domain.Context) float64 {
	score := 0.4
	for _, present := range []bool{len(c.Hints) > 0, len(c.Examples) > 0, len(c.Constraints) > 0} {
		if present {
			score += 0.2
		}
	}
	return clamp01(score)
}

func concisenessScore(tokens int) float64 {
	switch {
	case tokens < 5:
		return 0.5
	case tokens <= 200:
		return 1
	default:
		return clamp01(1 - float64(tokens-200)/800)
	}
}

func suggest(input, dimension string) (string, bool) {
	switch dimension {
	case DimensionClarity:
		return input + "\n\nReplace vague words with the exact items you mean.", true
	case DimensionSpecificity:
		return input + "\n\nSpecify the expected output format and length.", true
	case DimensionStructure:
		return input + "\n\nBreak the request into numbered steps.", true
	case DimensionContext:
		return input + "\n\nAdd background: who the answer is for and why it is needed.", true
	default:
		return "", false
	}
}
