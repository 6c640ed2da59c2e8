package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Common errors returned by the Aggregator
var (
	ErrNoResults      = errors.New("no worker results to aggregate")
	ErrSourceMismatch = errors.New("results and source names differ in length")
)

const (
	// primaryScore is the raw quality given to a worker's primary content.
	primaryScore = 1.0

	// defaultConfidence applies when a worker reports neither accuracy nor
	// scored variants.
	defaultConfidence = 0.7

	// diversityBaseline is the constant diversity term of the score.
	diversityBaseline = 0.5

	// votingBonus is the score added per three distinct supporting workers.
	votingBonus = 0.3

	// inputTokenShare splits summed token counts into input and output.
	inputTokenShare = 0.6
)

// Weights split the aggregated score between its components.
type Weights struct {
	Quality         float64 `json:"quality"`
	Confidence      float64 `json:"confidence"`
	TokenEfficiency float64 `json:"token_efficiency"`
	Diversity       float64 `json:"diversity"`
}

// TokenBand is the token-length range considered optimal for content.
type TokenBand struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Config holds the aggregator settings.
type Config struct {
	Strategy            domain.Strategy    `json:"strategy"`
	MaxVariants         int                `json:"max_variants"`
	SimilarityThreshold float64            `json:"similarity_threshold"`
	Weights             Weights            `json:"weights"`
	AgentWeights        map[string]float64 `json:"agent_weights"`
	TokenBand           TokenBand          `json:"token_band"`
}

// DefaultConfig returns the default aggregator settings.
func DefaultConfig() Config {
	return Config{
		Strategy:            domain.StrategyWeightedMerge,
		MaxVariants:         5,
		SimilarityThreshold: 0.85,
		Weights: Weights{
			Quality:         0.4,
			Confidence:      0.3,
			TokenEfficiency: 0.15,
			Diversity:       0.15,
		},
		AgentWeights: map[string]float64{
			"optimizer": 1.0,
			"router":    0.8,
			"evaluator": 0.9,
		},
		TokenBand: TokenBand{Min: 20, Max: 300},
	}
}

// Aggregator scores, deduplicates and ranks candidate variants from several
// workers. Apart from its configuration it keeps no state between calls and
// is safe for concurrent use.
type Aggregator struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger
}

// New creates an Aggregator. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		cfg:    DefaultConfig(),
		logger: logger.With("component", "aggregator"),
	}
	a.Configure(cfg)
	return a
}

// Config returns a copy of the current configuration.
func (a *Aggregator) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.configLocked()
}

func (a *Aggregator) configLocked() Config {
	cfg := a.cfg
	cfg.AgentWeights = make(map[string]float64, len(a.cfg.AgentWeights))
	for k, v := range a.cfg.AgentWeights {
		cfg.AgentWeights[k] = v
	}
	return cfg
}

// Configure merges a partial configuration into the current one. Zero
// values leave the matching setting unchanged; agent weights are merged
// key by key.
func (a *Aggregator) Configure(update Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if update.Strategy != "" {
		a.cfg.Strategy = update.Strategy
	}
	if update.MaxVariants > 0 {
		a.cfg.MaxVariants = update.MaxVariants
	}
	if update.SimilarityThreshold > 0 {
		a.cfg.SimilarityThreshold = math.Min(update.SimilarityThreshold, 1)
	}
	if update.Weights != (Weights{}) {
		a.cfg.Weights = update.Weights
	}
	if update.TokenBand.Max > 0 && update.TokenBand.Max >= update.TokenBand.Min {
		a.cfg.TokenBand = update.TokenBand
	}
	for name, w := range update.AgentWeights {
		a.cfg.AgentWeights[name] = clampWeight(w)
	}
}

// SetAgentWeight sets the per-worker multiplier, clamped to [0, 2].
func (a *Aggregator) SetAgentWeight(name string, weight float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.AgentWeights[name] = clampWeight(weight)
}

func clampWeight(w float64) float64 {
	return math.Max(0, math.Min(2, w))
}

// Aggregate merges worker results using the configured strategy.
func (a *Aggregator) Aggregate(results []*domain.WorkerResult, sources []string) (*domain.AggregatedResult, error) {
	return a.AggregateWithStrategy(results, sources, "")
}

// AggregateWithStrategy merges worker results using the given strategy, or
// the configured one when strategy is empty.
func (a *Aggregator) AggregateWithStrategy(
	results []*domain.WorkerResult,
	sources []string,
	strategy domain.Strategy,
) (*domain.AggregatedResult, error) {
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	if len(results) != len(sources) {
		return nil, fmt.Errorf("%w: %d results, %d sources", ErrSourceMismatch, len(results), len(sources))
	}

	cfg := a.Config()
	if strategy == "" {
		strategy = cfg.Strategy
	}

	collected := collect(results, sources)
	scored := make([]domain.ScoredVariant, len(collected))
	for i, c := range collected {
		scored[i] = scoreVariant(cfg, c.variant, c.source, c.confidence)
	}

	var (
		final      []domain.ScoredVariant
		afterDedup int
	)
	switch strategy {
	case domain.StrategyVoting:
		final = vote(scored, cfg.SimilarityThreshold)
		afterDedup = len(final)
		final = truncate(final, cfg.MaxVariants)
	default:
		deduped := deduplicate(scored, cfg.SimilarityThreshold)
		afterDedup = len(deduped)
		final = selectByStrategy(deduped, strategy, cfg.MaxVariants)
	}

	out := build(results, sources, final, strategy)
	out.Metrics.Aggregation.VariantsReceived = len(scored)
	out.Metrics.Aggregation.AfterDedup = afterDedup

	a.logger.Debug("aggregation completed",
		"strategy", strategy,
		"workers", len(results),
		"variants_received", len(scored),
		"after_dedup", afterDedup,
		"final", len(final))

	return out, nil
}

type collectedVariant struct {
	variant    domain.Variant
	source     string
	confidence float64
}

// collect flattens every worker's variants, adding a synthetic primary
// variant when the worker's primary content is not already among them.
func collect(results []*domain.WorkerResult, sources []string) []collectedVariant {
	var out []collectedVariant
	for i, r := range results {
		if r == nil {
			continue
		}
		source := sources[i]
		confidence := EstimateConfidence(r)

		hasPrimary := r.Content == ""
		for _, v := range r.Variants {
			if v.Content == r.Content {
				hasPrimary = true
			}
			out = append(out, collectedVariant{variant: v, source: source, confidence: confidence})
		}
		if !hasPrimary {
			out = append(out, collectedVariant{
				variant: domain.Variant{
					Content:   r.Content,
					Technique: "primary",
					Score:     primaryScore,
					Target:    r.SelectedTarget,
				},
				source:     source,
				confidence: confidence,
			})
		}
	}
	return out
}

// EstimateConfidence returns the worker's reported accuracy when present,
// otherwise the mean of its variant scores, otherwise a neutral default.
func EstimateConfidence(r *domain.WorkerResult) float64 {
	if r.Metrics.EstimatedAccuracy > 0 {
		return r.Metrics.EstimatedAccuracy
	}
	if len(r.Variants) > 0 {
		var sum float64
		for _, v := range r.Variants {
			sum += v.Score
		}
		return sum / float64(len(r.Variants))
	}
	return defaultConfidence
}

// ScoreVariant computes the aggregated score of a single variant.
func (a *Aggregator) ScoreVariant(v domain.Variant, source string, confidence float64) domain.ScoredVariant {
	return scoreVariant(a.Config(), v, source, confidence)
}

func scoreVariant(cfg Config, v domain.Variant, source string, confidence float64) domain.ScoredVariant {
	w := cfg.Weights
	base := v.Score*w.Quality +
		confidence*w.Confidence +
		tokenEfficiency(v.Content, cfg.TokenBand)*w.TokenEfficiency +
		diversityBaseline*w.Diversity

	agentWeight, ok := cfg.AgentWeights[source]
	if !ok {
		agentWeight = 1.0
	}

	return domain.ScoredVariant{
		Variant:          v,
		OriginalScore:    v.Score,
		AggregatedScore:  base * agentWeight,
		Source:           source,
		SourceConfidence: confidence,
	}
}

// tokenEfficiency is 1.0 inside the optimal band and degrades outside it,
// never dropping below 0.3.
func tokenEfficiency(content string, band TokenBand) float64 {
	tokens := domain.EstimateTokens(content)
	switch {
	case tokens < band.Min:
		return math.Max(0.3, float64(tokens)/float64(band.Min))
	case tokens > band.Max:
		return math.Max(0.3, 1-float64(tokens-band.Max)/1000)
	default:
		return 1.0
	}
}

// Deduplicate drops near-duplicate variants, keeping whichever of each
// similar pair has the higher aggregated score.
func (a *Aggregator) Deduplicate(variants []domain.ScoredVariant) []domain.ScoredVariant {
	return deduplicate(variants, a.Config().SimilarityThreshold)
}

func deduplicate(variants []domain.ScoredVariant, threshold float64) []domain.ScoredVariant {
	kept := make([]domain.ScoredVariant, 0, len(variants))
	for _, v := range variants {
		dup := false
		for i := range kept {
			if Similarity(v.Content, kept[i].Content) >= threshold {
				dup = true
				if v.AggregatedScore > kept[i].AggregatedScore {
					kept[i] = v
				}
				break
			}
		}
		if !dup {
			kept = append(kept, v)
		}
	}
	return kept
}

// Rank sorts variants by descending aggregated score, keeping input order
// among equal scores, and assigns 1-based ranks. The input is not modified.
func (a *Aggregator) Rank(variants []domain.ScoredVariant) []domain.ScoredVariant {
	return rank(variants)
}

func rank(variants []domain.ScoredVariant) []domain.ScoredVariant {
	out := append([]domain.ScoredVariant(nil), variants...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AggregatedScore > out[j].AggregatedScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// SelectBest returns the single highest-scoring variant with rank 1.
func (a *Aggregator) SelectBest(variants []domain.ScoredVariant) (domain.ScoredVariant, bool) {
	ranked := rank(variants)
	if len(ranked) == 0 {
		return domain.ScoredVariant{}, false
	}
	return ranked[0], true
}

// CreateEnsemble ranks variants and flags the top count as ensemble members.
func (a *Aggregator) CreateEnsemble(variants []domain.ScoredVariant, count int) []domain.ScoredVariant {
	return ensemble(variants, count)
}

func ensemble(variants []domain.ScoredVariant, count int) []domain.ScoredVariant {
	ranked := truncate(rank(variants), count)
	for i := range ranked {
		ranked[i].InEnsemble = true
	}
	return ranked
}

func selectByStrategy(variants []domain.ScoredVariant, strategy domain.Strategy, maxVariants int) []domain.ScoredVariant {
	switch strategy {
	case domain.StrategyBestOfAll:
		return truncate(rank(variants), 1)
	case domain.StrategyEnsemble:
		return ensemble(variants, maxVariants)
	case domain.StrategyConfidenceWeighted:
		weighted := append([]domain.ScoredVariant(nil), variants...)
		for i := range weighted {
			weighted[i].AggregatedScore *= weighted[i].SourceConfidence
		}
		return truncate(rank(weighted), maxVariants)
	default:
		return truncate(rank(variants), maxVariants)
	}
}

type voteGroup struct {
	best    domain.ScoredVariant
	members []domain.ScoredVariant
	workers map[string]struct{}
}

// vote groups mutually similar variants and ranks the groups by their best
// member's score plus a bonus for the number of distinct workers behind them.
func vote(variants []domain.ScoredVariant, threshold float64) []domain.ScoredVariant {
	var groups []*voteGroup
	for _, v := range variants {
		var target *voteGroup
		for _, g := range groups {
			if similarToAll(v, g.members, threshold) {
				target = g
				break
			}
		}
		if target == nil {
			target = &voteGroup{best: v, workers: map[string]struct{}{}}
			groups = append(groups, target)
		} else if v.AggregatedScore > target.best.AggregatedScore {
			target.best = v
		}
		target.members = append(target.members, v)
		target.workers[v.Source] = struct{}{}
	}

	out := make([]domain.ScoredVariant, 0, len(groups))
	for _, g := range groups {
		winner := g.best
		winner.AggregatedScore += float64(len(g.workers)) / 3 * votingBonus
		out = append(out, winner)
	}
	return rank(out)
}

func similarToAll(v domain.ScoredVariant, members []domain.ScoredVariant, threshold float64) bool {
	for _, m := range members {
		if Similarity(v.Content, m.Content) < threshold {
			return false
		}
	}
	return true
}

func truncate(variants []domain.ScoredVariant, n int) []domain.ScoredVariant {
	if n > 0 && len(variants) > n {
		return variants[:n]
	}
	return variants
}

// build assembles the final result from the selected variants and the raw
// worker results.
func build(
	results []*domain.WorkerResult,
	sources []string,
	final []domain.ScoredVariant,
	strategy domain.Strategy,
) *domain.AggregatedResult {
	out := &domain.AggregatedResult{
		Variants: final,
		Strategy: strategy,
		Metrics: domain.CombinedMetrics{
			PerWorker: make(map[string]domain.Metrics, len(results)),
		},
	}
	if len(final) > 0 {
		out.Content = final[0].Content
	}

	var (
		reasonings  []string
		targetVotes = map[string]int{}
		targetOrder []string
		totalTokens int
		accuracySum float64
		accuracyN   int
	)
	for i, r := range results {
		if r == nil {
			continue
		}
		out.WorkerCount++
		m := r.Metrics
		out.Metrics.PerWorker[sources[i]] = m
		if m.Latency > out.Metrics.Latency {
			out.Metrics.Latency = m.Latency
		}
		out.Metrics.Cost += m.Cost
		totalTokens += m.TotalTokens()
		if m.EstimatedAccuracy > 0 {
			accuracySum += m.EstimatedAccuracy
			accuracyN++
		}

		if r.SelectedTarget != "" {
			if _, seen := targetVotes[r.SelectedTarget]; !seen {
				targetOrder = append(targetOrder, r.SelectedTarget)
			}
			targetVotes[r.SelectedTarget]++
		}
		if strings.TrimSpace(r.Reasoning) != "" {
			reasonings = append(reasonings, strings.TrimSpace(r.Reasoning))
		}
	}

	out.Metrics.InputTokens = int(math.Round(float64(totalTokens) * inputTokenShare))
	out.Metrics.OutputTokens = totalTokens - out.Metrics.InputTokens
	if accuracyN > 0 {
		out.Metrics.EstimatedAccuracy = accuracySum / float64(accuracyN)
	}

	best := 0
	for _, t := range targetOrder {
		if targetVotes[t] > best {
			best = targetVotes[t]
			out.SelectedTarget = t
		}
	}
	out.Reasoning = strings.Join(reasonings, " Additionally, ")

	stats := &out.Metrics.Aggregation
	stats.Final = len(final)
	if len(final) > 0 {
		var confSum float64
		hi, lo := final[0].AggregatedScore, final[0].AggregatedScore
		for _, v := range final {
			confSum += v.SourceConfidence
			hi = math.Max(hi, v.AggregatedScore)
			lo = math.Min(lo, v.AggregatedScore)
		}
		stats.AverageConfidence = confSum / float64(len(final))
		stats.ScoreSpread = hi - lo
	}

	return out
}
