package domain

import "fmt"

// Strategy selects how aggregated variants are ranked and trimmed.
type Strategy string

// Supported aggregation strategies.
const (
	StrategyBestOfAll          Strategy = "best_of_all"
	StrategyWeightedMerge      Strategy = "weighted_merge"
	StrategyEnsemble           Strategy = "ensemble"
	StrategyVoting             Strategy = "voting"
	StrategyConfidenceWeighted Strategy = "confidence_weighted"
)

// Strategies lists every supported strategy in declaration order.
var Strategies = []Strategy{
	StrategyBestOfAll,
	StrategyWeightedMerge,
	StrategyEnsemble,
	StrategyVoting,
	StrategyConfidenceWeighted,
}

// ParseStrategy converts a name into a Strategy.
// An empty name yields StrategyWeightedMerge.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return StrategyWeightedMerge, nil
	}
	for _, s := range Strategies {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
}
