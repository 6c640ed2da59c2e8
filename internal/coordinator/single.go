package coordinator

import (
	"context"
	"fmt"
	"math"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/worker"
)

// tieMargin is the overall score difference below which two prompts tie.
const tieMargin = 0.01

// RunWorker sends input to a single named worker, bypassing aggregation.
// The result is stripped of internal tags like any run output.
func (c *Coordinator) RunWorker(ctx context.Context, name, input string, opts RunOptions) (*WorkerRun, error) {
	opts.Workers = []string{name}
	r, err := c.newRun(input, opts)
	if err != nil {
		return nil, err
	}
	r.req = c.enricher.Enrich(ctx, r.req)

	res, err := c.call(ctx, r.id, r.workers[0], r.req)
	if err != nil {
		return nil, err
	}
	return &WorkerRun{RunID: r.id, Worker: name, WorkerResult: *res}, nil
}

// Optimize runs the optimizer worker alone.
func (c *Coordinator) Optimize(ctx context.Context, input string, opts RunOptions) (*WorkerRun, error) {
	return c.RunWorker(ctx, worker.NameOptimizer, input, opts)
}

// Route runs the router worker alone.
func (c *Coordinator) Route(ctx context.Context, input string, opts RunOptions) (*WorkerRun, error) {
	return c.RunWorker(ctx, worker.NameRouter, input, opts)
}

// Evaluate runs the evaluator worker alone.
func (c *Coordinator) Evaluate(ctx context.Context, input string, opts RunOptions) (*WorkerRun, error) {
	return c.RunWorker(ctx, worker.NameEvaluator, input, opts)
}

// Compare evaluates two prompts and reports which scores higher overall.
func (c *Coordinator) Compare(ctx context.Context, a, b string) (*ComparisonResult, error) {
	ra, err := c.Evaluate(ctx, a, RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("evaluate prompt a: %w", err)
	}
	rb, err := c.Evaluate(ctx, b, RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("evaluate prompt b: %w", err)
	}

	out := &ComparisonResult{
		ScoreA:     ra.Scores[worker.DimensionOverall],
		ScoreB:     rb.Scores[worker.DimensionOverall],
		Dimensions: make(map[string]DimensionScores, len(worker.Dimensions)),
	}
	for _, d := range worker.Dimensions {
		out.Dimensions[d] = DimensionScores{A: ra.Scores[d], B: rb.Scores[d]}
	}

	switch diff := out.ScoreA - out.ScoreB; {
	case math.Abs(diff) < tieMargin:
		out.Winner = WinnerTie
	case diff > 0:
		out.Winner = WinnerA
	default:
		out.Winner = WinnerB
	}
	return out, nil
}

// WorkerRun is the output of a single-worker call.
type WorkerRun struct {
	RunID  string `json:"run_id"`
	Worker string `json:"worker"`
	domain.WorkerResult
}

// Comparison outcomes
const (
	WinnerA   = "a"
	WinnerB   = "b"
	WinnerTie = "tie"
)

// DimensionScores holds both prompts' scores on one dimension.
type DimensionScores struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// ComparisonResult is the output of Compare.
type ComparisonResult struct {
	Winner     string                     `json:"winner"`
	ScoreA     float64                    `json:"score_a"`
	ScoreB     float64                    `json:"score_b"`
	Dimensions map[string]DimensionScores `json:"dimensions"`
}
