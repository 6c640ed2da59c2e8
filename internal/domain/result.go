package domain

import "time"

// Metrics are a worker's self-reported estimates. None of them are measured
// hardware facts.
type Metrics struct {
	EstimatedAccuracy float64       `json:"estimated_accuracy"`
	Latency           time.Duration `json:"latency"`
	Cost              float64       `json:"cost"`
	InputTokens       int           `json:"input_tokens"`
	OutputTokens      int           `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (m Metrics) TotalTokens() int {
	return m.InputTokens + m.OutputTokens
}

// WorkerResult is the output of one completed worker call.
type WorkerResult struct {
	Content        string             `json:"content"`
	Variants       []Variant          `json:"variants"`
	Metrics        Metrics            `json:"metrics"`
	SelectedTarget string             `json:"selected_target,omitempty"`
	Reasoning      string             `json:"reasoning,omitempty"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *WorkerResult) Clone() *WorkerResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Variants = append([]Variant(nil), r.Variants...)
	if r.Scores != nil {
		out.Scores = make(map[string]float64, len(r.Scores))
		for k, v := range r.Scores {
			out.Scores[k] = v
		}
	}
	return &out
}

// AggregationStats describe what happened inside one aggregation call.
type AggregationStats struct {
	VariantsReceived  int     `json:"variants_received"`
	AfterDedup        int     `json:"after_dedup"`
	Final             int     `json:"final"`
	AverageConfidence float64 `json:"average_confidence"`
	ScoreSpread       float64 `json:"score_spread"`
}

// CombinedMetrics merge the metrics of every contributing worker.
type CombinedMetrics struct {
	Metrics
	PerWorker   map[string]Metrics `json:"per_worker"`
	Aggregation AggregationStats   `json:"aggregation"`
}

// AggregatedResult is the merged, ranked output of several workers.
type AggregatedResult struct {
	Content        string          `json:"content"`
	Variants       []ScoredVariant `json:"variants"`
	Metrics        CombinedMetrics `json:"metrics"`
	Strategy       Strategy        `json:"strategy"`
	WorkerCount    int             `json:"worker_count"`
	SelectedTarget string          `json:"selected_target,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
}
