package worker

import (
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Names of the built-in workers.
const (
	NameOptimizer = "optimizer"
	NameRouter    = "router"
	NameEvaluator = "evaluator"
	NameLLM       = "llm"
)

// Defaults returns the heuristic workers in dispatch order.
func Defaults(logger *slog.Logger) []domain.Worker {
	return []domain.Worker{
		NewOptimizer(logger),
		NewRouter(logger),
		NewEvaluator(logger),
	}
}

// tagValue returns the value of the internal tag named key, if present.
func tagValue(tags []string, key string) string {
	prefix := "[[internal:" + key + "="
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) && strings.HasSuffix(t, "]]") {
			return strings.TrimSuffix(strings.TrimPrefix(t, prefix), "]]")
		}
	}
	return ""
}

// heuristicMetrics fills the metrics shared by the local workers. They cost
// nothing and their token counts are estimates of the text handled.
func heuristicMetrics(start time.Time, accuracy float64, input string, outputs ...string) domain.Metrics {
	out := 0
	for _, o := range outputs {
		out += domain.EstimateTokens(o)
	}
	return domain.Metrics{
		EstimatedAccuracy: accuracy,
		Latency:           time.Since(start),
		InputTokens:       domain.EstimateTokens(input),
		OutputTokens:      out,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func bullets(title string, items []string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":")
	for _, it := range items {
		b.WriteString("\n- ")
		b.WriteString(it)
	}
	return b.String()
}
