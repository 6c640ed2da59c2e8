package aggregate

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(cfg Config) *Aggregator {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// single builds a worker result whose only candidate is its primary content
func single(content string, score, accuracy float64) *domain.WorkerResult {
	return &domain.WorkerResult{
		Content:  content,
		Variants: []domain.Variant{{Content: content, Technique: "test", Score: score}},
		Metrics:  domain.Metrics{EstimatedAccuracy: accuracy},
	}
}

func TestAggregate_Errors(t *testing.T) {
	agg := newTestAggregator(Config{})

	_, err := agg.Aggregate(nil, nil)
	assert.ErrorIs(t, err, ErrNoResults)

	_, err = agg.Aggregate([]*domain.WorkerResult{single("a", 1, 1)}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrSourceMismatch)
}

func TestAggregate_DeduplicatesKeepingHigherScore(t *testing.T) {
	agg := newTestAggregator(Config{})

	results := []*domain.WorkerResult{
		single("Write a clear summary of the article.", 0.6, 0.8),
		single("write a CLEAR summary of the article", 0.9, 0.8),
	}

	out, err := agg.Aggregate(results, []string{"alpha", "beta"})
	require.NoError(t, err)

	require.Len(t, out.Variants, 1)
	assert.Equal(t, 0.9, out.Variants[0].OriginalScore)
	assert.Equal(t, "beta", out.Variants[0].Source)
	assert.Equal(t, 2, out.Metrics.Aggregation.VariantsReceived)
	assert.Equal(t, 1, out.Metrics.Aggregation.AfterDedup)
	assert.Equal(t, 1, out.Metrics.Aggregation.Final)
	assert.Equal(t, 2, out.WorkerCount)
}

func TestAggregate_BestOfAllReturnsOneRankedVariant(t *testing.T) {
	agg := newTestAggregator(Config{})

	results := []*domain.WorkerResult{
		{
			Content: "Summarize the quarterly report in three bullet points.",
			Variants: []domain.Variant{
				{Content: "Summarize the quarterly report in three bullet points.", Score: 0.7},
				{Content: "List the key revenue figures from the report.", Score: 0.9},
			},
		},
		single("Explain the report to a new employee.", 0.5, 0.6),
	}

	out, err := agg.AggregateWithStrategy(results, []string{"optimizer", "router"}, domain.StrategyBestOfAll)
	require.NoError(t, err)

	require.Len(t, out.Variants, 1)
	assert.Equal(t, 1, out.Variants[0].Rank)
	assert.Equal(t, out.Variants[0].Content, out.Content)
	assert.Equal(t, domain.StrategyBestOfAll, out.Strategy)
}

func TestAggregate_VotingFavorsWidelySupportedGroup(t *testing.T) {
	agg := newTestAggregator(Config{})

	// Both contents have the same length so only worker support differs.
	lone := "omega sigma kappa zeta"
	shared := "alpha beta gamma delta"
	require.Equal(t, len(lone), len(shared))

	results := []*domain.WorkerResult{
		single(lone, 0.8, 0.8),
		single(shared, 0.8, 0.8),
		single(shared, 0.8, 0.8),
		single(shared, 0.8, 0.8),
	}
	sources := []string{"w4", "w1", "w2", "w3"}

	out, err := agg.AggregateWithStrategy(results, sources, domain.StrategyVoting)
	require.NoError(t, err)

	require.Len(t, out.Variants, 2)
	assert.Equal(t, shared, out.Variants[0].Content)
	assert.Equal(t, 1, out.Variants[0].Rank)
	assert.Equal(t, lone, out.Variants[1].Content)
	assert.InDelta(t, 0.2, out.Variants[0].AggregatedScore-out.Variants[1].AggregatedScore, 1e-9)
}

func TestAggregate_EnsembleFlagsTopVariants(t *testing.T) {
	agg := newTestAggregator(Config{MaxVariants: 2})

	results := []*domain.WorkerResult{
		single("Translate the paragraph into French.", 0.9, 0.9),
		single("Rewrite the paragraph for children.", 0.7, 0.9),
		single("Count the verbs in this paragraph.", 0.5, 0.9),
	}

	out, err := agg.AggregateWithStrategy(results, []string{"a", "b", "c"}, domain.StrategyEnsemble)
	require.NoError(t, err)

	require.Len(t, out.Variants, 2)
	for i, v := range out.Variants {
		assert.True(t, v.InEnsemble)
		assert.Equal(t, i+1, v.Rank)
	}
	assert.Equal(t, 0.9, out.Variants[0].OriginalScore)
}

func TestAggregate_ConfidenceWeighted(t *testing.T) {
	agg := newTestAggregator(Config{})

	results := []*domain.WorkerResult{
		single("Draft a polite reminder email.", 1.0, 0.2),
		single("Draft a short thank you note.", 0.8, 0.9),
	}

	out, err := agg.AggregateWithStrategy(results, []string{"low", "high"}, domain.StrategyConfidenceWeighted)
	require.NoError(t, err)

	require.Len(t, out.Variants, 2)
	assert.Equal(t, "high", out.Variants[0].Source)
	for _, v := range out.Variants {
		plain := agg.ScoreVariant(v.Variant, v.Source, v.SourceConfidence)
		assert.InDelta(t, plain.AggregatedScore*v.SourceConfidence, v.AggregatedScore, 1e-9)
	}
}

func TestAggregate_AddsSyntheticPrimaryVariant(t *testing.T) {
	agg := newTestAggregator(Config{})

	result := &domain.WorkerResult{
		Content:  "Primary answer to the question.",
		Variants: []domain.Variant{{Content: "A different alternative phrasing.", Score: 0.5}},
	}

	out, err := agg.Aggregate([]*domain.WorkerResult{result}, []string{"solo"})
	require.NoError(t, err)

	require.Len(t, out.Variants, 2)
	var primary *domain.ScoredVariant
	for i := range out.Variants {
		if out.Variants[i].Technique == "primary" {
			primary = &out.Variants[i]
		}
	}
	require.NotNil(t, primary)
	assert.Equal(t, "Primary answer to the question.", primary.Content)
	assert.Equal(t, 1.0, primary.OriginalScore)
	assert.Equal(t, 0.5, primary.SourceConfidence)
}

func TestAggregate_BuildsCombinedResult(t *testing.T) {
	agg := newTestAggregator(Config{})

	results := []*domain.WorkerResult{
		{
			Content:        "Use a numbered list.",
			SelectedTarget: "gpt",
			Reasoning:      "Lists scan well.",
			Metrics: domain.Metrics{
				EstimatedAccuracy: 0.8,
				Latency:           200 * time.Millisecond,
				Cost:              0.01,
				InputTokens:       100,
				OutputTokens:      50,
			},
		},
		{
			Content:        "Keep the answer under fifty words.",
			SelectedTarget: "claude",
			Reasoning:      "Short answers are cheaper.",
			Metrics: domain.Metrics{
				EstimatedAccuracy: 0.6,
				Latency:           500 * time.Millisecond,
				Cost:              0.02,
				InputTokens:       30,
				OutputTokens:      20,
			},
		},
		{
			Content:        "Address the reader directly.",
			SelectedTarget: "claude",
		},
	}

	out, err := agg.Aggregate(results, []string{"optimizer", "router", "evaluator"})
	require.NoError(t, err)

	assert.Equal(t, "claude", out.SelectedTarget)
	assert.Equal(t, "Lists scan well. Additionally, Short answers are cheaper.", out.Reasoning)
	assert.Equal(t, 500*time.Millisecond, out.Metrics.Latency)
	assert.InDelta(t, 0.03, out.Metrics.Cost, 1e-9)
	assert.Equal(t, 120, out.Metrics.InputTokens)
	assert.Equal(t, 80, out.Metrics.OutputTokens)
	assert.InDelta(t, 0.7, out.Metrics.EstimatedAccuracy, 1e-9)
	assert.Len(t, out.Metrics.PerWorker, 3)
	assert.Equal(t, 3, out.WorkerCount)
	assert.Equal(t, out.Variants[0].Content, out.Content)
}

func TestAggregate_TargetTieGoesToFirstSeen(t *testing.T) {
	agg := newTestAggregator(Config{})

	results := []*domain.WorkerResult{
		{Content: "one", SelectedTarget: "gpt"},
		{Content: "two", SelectedTarget: "claude"},
	}

	out, err := agg.Aggregate(results, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "gpt", out.SelectedTarget)
}

func TestAggregate_SkipsNilResults(t *testing.T) {
	agg := newTestAggregator(Config{})

	out, err := agg.Aggregate(
		[]*domain.WorkerResult{nil, single("Only real answer here.", 0.8, 0.8)},
		[]string{"broken", "ok"},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, out.WorkerCount)
	assert.NotContains(t, out.Metrics.PerWorker, "broken")
}

func TestScoreVariant(t *testing.T) {
	agg := newTestAggregator(Config{})
	content := strings.Repeat("word ", 80) // 100 tokens, inside the optimal band

	t.Run("known worker weight", func(t *testing.T) {
		sv := agg.ScoreVariant(domain.Variant{Content: content, Score: 1}, "router", 1)
		assert.InDelta(t, 0.925*0.8, sv.AggregatedScore, 1e-9)
		assert.Equal(t, 1.0, sv.OriginalScore)
		assert.Equal(t, "router", sv.Source)
	})

	t.Run("unknown worker defaults to 1", func(t *testing.T) {
		sv := agg.ScoreVariant(domain.Variant{Content: content, Score: 1}, "stranger", 1)
		assert.InDelta(t, 0.925, sv.AggregatedScore, 1e-9)
	})
}

func TestTokenEfficiency(t *testing.T) {
	band := DefaultConfig().TokenBand

	tests := []struct {
		name  string
		chars int
		want  float64
	}{
		{"empty", 0, 0.3},
		{"short", 40, 0.5},
		{"optimal", 400, 1.0},
		{"long", 2000, 0.8},
		{"very long", 5200, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenEfficiency(strings.Repeat("x", tt.chars), band)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.WorkerResult
		want   float64
	}{
		{"reported accuracy", &domain.WorkerResult{Metrics: domain.Metrics{EstimatedAccuracy: 0.92}}, 0.92},
		{"mean variant score", &domain.WorkerResult{Variants: []domain.Variant{{Score: 0.4}, {Score: 0.8}}}, 0.6},
		{"default", &domain.WorkerResult{}, defaultConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateConfidence(tt.result), 1e-9)
		})
	}
}

func TestRank_StableDescending(t *testing.T) {
	agg := newTestAggregator(Config{})

	in := []domain.ScoredVariant{
		{Variant: domain.Variant{Content: "a"}, AggregatedScore: 0.5},
		{Variant: domain.Variant{Content: "b"}, AggregatedScore: 0.9},
		{Variant: domain.Variant{Content: "c"}, AggregatedScore: 0.5},
	}

	ranked := agg.Rank(in)

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{ranked[0].Content, ranked[1].Content, ranked[2].Content})
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
	assert.Equal(t, 0, in[0].Rank, "input must not be modified")
}

func TestSelectBestAndEnsemble(t *testing.T) {
	agg := newTestAggregator(Config{})

	_, ok := agg.SelectBest(nil)
	assert.False(t, ok)

	variants := []domain.ScoredVariant{
		{Variant: domain.Variant{Content: "low"}, AggregatedScore: 0.1},
		{Variant: domain.Variant{Content: "high"}, AggregatedScore: 0.9},
		{Variant: domain.Variant{Content: "mid"}, AggregatedScore: 0.5},
	}

	best, ok := agg.SelectBest(variants)
	require.True(t, ok)
	assert.Equal(t, "high", best.Content)
	assert.Equal(t, 1, best.Rank)

	members := agg.CreateEnsemble(variants, 2)
	require.Len(t, members, 2)
	assert.Equal(t, "high", members[0].Content)
	assert.Equal(t, "mid", members[1].Content)
	assert.True(t, members[1].InEnsemble)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	agg := newTestAggregator(Config{})

	variants := []domain.ScoredVariant{
		{Variant: domain.Variant{Content: "Hello, world!"}, AggregatedScore: 0.4, Source: "a"},
		{Variant: domain.Variant{Content: "hello world"}, AggregatedScore: 0.7, Source: "b"},
		{Variant: domain.Variant{Content: "something else entirely"}, AggregatedScore: 0.5, Source: "c"},
	}

	once := agg.Deduplicate(variants)
	twice := agg.Deduplicate(once)

	require.Len(t, once, 2)
	assert.Equal(t, "b", once[0].Source)
	assert.Equal(t, once, twice)
}

func TestSetAgentWeight_Clamps(t *testing.T) {
	agg := newTestAggregator(Config{})

	agg.SetAgentWeight("greedy", 5)
	agg.SetAgentWeight("negative", -1)
	agg.SetAgentWeight("normal", 1.3)

	weights := agg.Config().AgentWeights
	assert.Equal(t, 2.0, weights["greedy"])
	assert.Equal(t, 0.0, weights["negative"])
	assert.Equal(t, 1.3, weights["normal"])
	assert.Equal(t, 0.8, weights["router"])
}

func TestConfigure_MergesPartialUpdates(t *testing.T) {
	agg := newTestAggregator(Config{})

	agg.Configure(Config{MaxVariants: 2, AgentWeights: map[string]float64{"router": 1.5}})

	cfg := agg.Config()
	assert.Equal(t, 2, cfg.MaxVariants)
	assert.Equal(t, domain.StrategyWeightedMerge, cfg.Strategy)
	assert.Equal(t, 0.85, cfg.SimilarityThreshold)
	assert.Equal(t, 1.5, cfg.AgentWeights["router"])
	assert.Equal(t, 1.0, cfg.AgentWeights["optimizer"])

	// Returned config is a copy
	cfg.AgentWeights["router"] = 0
	assert.Equal(t, 1.5, agg.Config().AgentWeights["router"])
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Hello, World!", "hello world"))
	assert.Equal(t, 0.0, Similarity("red green", "blue yellow"))
	assert.InDelta(t, 0.5, Similarity("a b c", "a b d"), 1e-9)
	assert.Equal(t, 1.0, Similarity("", "  "))
	assert.Equal(t, "hello world", Normalize("  Hello,   WORLD! "))
}
