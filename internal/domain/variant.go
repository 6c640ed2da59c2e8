package domain

// Variant is one candidate output produced by a worker.
type Variant struct {
	Content   string  `json:"content"`
	Technique string  `json:"technique"`
	Score     float64 `json:"score"`
	Target    string  `json:"target,omitempty"`
}

// ScoredVariant is a Variant annotated during aggregation. It is created
// fresh for every aggregation call and not mutated once ranked.
type ScoredVariant struct {
	Variant

	OriginalScore    float64 `json:"original_score"`
	AggregatedScore  float64 `json:"aggregated_score"`
	Source           string  `json:"source"`
	SourceConfidence float64 `json:"source_confidence"`
	Rank             int     `json:"rank"`
	InEnsemble       bool    `json:"in_ensemble"`
}
