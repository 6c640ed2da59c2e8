package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/task"
)

// outcome is what one worker produced during a run.
type outcome struct {
	worker string
	result *domain.WorkerResult
	err    error
}

// run carries the state of one call to Run or RunQueued.
type run struct {
	id      string
	mode    Mode
	opts    RunOptions
	req     domain.Request
	workers []domain.Worker
	state   State
	start   time.Time
}

func (c *Coordinator) newRun(input string, opts RunOptions) (*run, error) {
	cfg := c.Config()

	mode := opts.Mode
	if mode == "" {
		mode = cfg.Mode
	}
	if opts.MaxVariants <= 0 {
		opts.MaxVariants = cfg.MaxVariants
	}
	if opts.Strategy != "" {
		if _, err := domain.ParseStrategy(string(opts.Strategy)); err != nil {
			return nil, err
		}
	}

	req := domain.Request{
		Input: input,
		Context: domain.Context{
			Hints:       opts.Hints,
			Examples:    opts.Examples,
			Constraints: opts.Constraints,
			Target:      opts.Target,
		},
		Options: domain.Options{
			MaxVariants: opts.MaxVariants,
			Techniques:  opts.Techniques,
		},
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	workers, err := c.selectWorkers(opts.Workers)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:      uuid.NewString(),
		mode:    mode,
		opts:    opts,
		req:     req,
		workers: workers,
		state:   StateIdle,
		start:   time.Now(),
	}
	return r, nil
}

func (c *Coordinator) transition(ctx context.Context, r *run, s State) {
	r.state = s
	c.logger.DebugContext(ctx, "run state changed",
		"run_id", r.id,
		"state", s)
}

// Run sends input to the selected workers and aggregates their results.
// It fails only when no worker produced a usable result.
func (c *Coordinator) Run(ctx context.Context, input string, opts RunOptions) (*Result, error) {
	r, err := c.newRun(input, opts)
	if err != nil {
		return nil, err
	}

	c.emit(ctx, Event{Type: EventRunStarted, RunID: r.id, WorkerCount: len(r.workers)})
	c.logger.InfoContext(ctx, "run started",
		"run_id", r.id,
		"mode", r.mode,
		"workers", len(r.workers))

	r.req = c.enricher.Enrich(ctx, r.req)
	c.transition(ctx, r, StateContextBuilt)

	var outcomes []outcome
	if r.mode == ModeSequential {
		outcomes = c.dispatchSequential(ctx, r)
	} else {
		outcomes = c.dispatchParallel(ctx, r)
	}
	c.transition(ctx, r, StateDispatched)

	return c.finalize(ctx, r, outcomes)
}

func (c *Coordinator) dispatchParallel(ctx context.Context, r *run) []outcome {
	outcomes := make([]outcome, len(r.workers))
	var wg sync.WaitGroup
	for i, w := range r.workers {
		wg.Add(1)
		go func(i int, w domain.Worker) {
			defer wg.Done()
			res, err := c.call(ctx, r.id, w, r.req)
			outcomes[i] = outcome{worker: w.Name(), result: res, err: err}
		}(i, w)
	}
	wg.Wait()
	return outcomes
}

func (c *Coordinator) dispatchSequential(ctx context.Context, r *run) []outcome {
	outcomes := make([]outcome, 0, len(r.workers))
	for _, w := range r.workers {
		if ctx.Err() != nil {
			outcomes = append(outcomes, outcome{worker: w.Name(), err: ctx.Err()})
			continue
		}
		res, err := c.call(ctx, r.id, w, r.req)
		outcomes = append(outcomes, outcome{worker: w.Name(), result: res, err: err})
	}
	return outcomes
}

// call executes one worker under the configured timeout, isolating panics,
// and returns its sanitized result.
func (c *Coordinator) call(ctx context.Context, runID string, w domain.Worker, req domain.Request) (*domain.WorkerResult, error) {
	name := w.Name()
	c.emit(ctx, Event{Type: EventWorkerStarted, RunID: runID, Worker: name})
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.Config().WorkerTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("worker panicked: %v", p)}
			}
		}()
		res, err := w.Execute(ctx, req)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	if out.err == nil && out.result == nil {
		out.err = errors.New("worker returned no result")
	}

	elapsed := time.Since(start)
	if out.err != nil {
		c.recordWorker(name, false)
		c.logger.WarnContext(ctx, "worker failed",
			"run_id", runID,
			"worker", name,
			"duration", elapsed,
			"error", c.enricher.Strip(out.err.Error()))
		c.emit(ctx, Event{Type: EventWorkerFailed, RunID: runID, Worker: name, Error: out.err.Error(), Duration: elapsed})
		return nil, fmt.Errorf("worker %s: %w", name, out.err)
	}

	c.recordWorker(name, true)
	c.emit(ctx, Event{Type: EventWorkerCompleted, RunID: runID, Worker: name, Duration: elapsed})
	return c.sanitize(out.result), nil
}

// sanitize returns a copy of res with internal tags removed from every
// user-facing field.
func (c *Coordinator) sanitize(res *domain.WorkerResult) *domain.WorkerResult {
	out := res.Clone()
	out.Content = c.enricher.Strip(out.Content)
	out.Reasoning = c.enricher.Strip(out.Reasoning)
	out.SelectedTarget = c.enricher.Strip(out.SelectedTarget)
	for i := range out.Variants {
		out.Variants[i].Content = c.enricher.Strip(out.Variants[i].Content)
		out.Variants[i].Technique = c.enricher.Strip(out.Variants[i].Technique)
		out.Variants[i].Target = c.enricher.Strip(out.Variants[i].Target)
	}
	return out
}

// finalize aggregates the successful outcomes, derives the run metrics and
// re-checks the output for leaked internal tags.
func (c *Coordinator) finalize(ctx context.Context, r *run, outcomes []outcome) (*Result, error) {
	var (
		results  []*domain.WorkerResult
		sources  []string
		failures []WorkerFailure
		errs     []error
	)
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, WorkerFailure{Worker: o.worker, Error: c.enricher.Strip(o.err.Error())})
			errs = append(errs, o.err)
			continue
		}
		results = append(results, o.result)
		sources = append(sources, o.worker)
	}

	if len(results) == 0 {
		err := fmt.Errorf("%w: %w", ErrAggregationFailed, errors.Join(errs...))
		return nil, c.fail(ctx, r, err)
	}

	agg, err := c.agg.AggregateWithStrategy(results, sources, r.opts.Strategy)
	if err != nil {
		return nil, c.fail(ctx, r, fmt.Errorf("%w: %w", ErrAggregationFailed, err))
	}
	c.transition(ctx, r, StateAggregated)
	c.emit(ctx, Event{
		Type:        EventAggregationCompleted,
		RunID:       r.id,
		WorkerCount: agg.WorkerCount,
		Duration:    time.Since(r.start),
	})

	if n := r.opts.MaxVariants; n > 0 && len(agg.Variants) > n {
		agg.Variants = agg.Variants[:n]
		agg.Metrics.Aggregation.Final = len(agg.Variants)
	}

	result := &Result{
		AggregatedResult: *agg,
		RunID:            r.id,
		Mode:             r.mode,
		Failures:         failures,
	}
	if len(agg.Variants) > 0 {
		result.Improvement = improvement(agg.Variants[0].SourceConfidence)
	}
	c.verifyClean(ctx, r.id, result)

	c.transition(ctx, r, StateFinalized)
	result.State = r.state
	result.Duration = time.Since(r.start)
	c.recordRun(result.Duration, true)

	c.emit(ctx, Event{
		Type:        EventRunCompleted,
		RunID:       r.id,
		WorkerCount: result.WorkerCount,
		Duration:    result.Duration,
	})
	c.logger.InfoContext(ctx, "run completed",
		"run_id", r.id,
		"workers_succeeded", len(results),
		"workers_failed", len(failures),
		"variants", len(result.Variants),
		"improvement", result.Improvement,
		"duration", result.Duration)

	return result, nil
}

// improvement maps the top variant's source confidence onto 0..100, where
// a confidence of 0.5 or less counts as no improvement.
func improvement(topConfidence float64) float64 {
	return math.Max(0, (topConfidence-0.5)/0.5*100)
}

// verifyClean is the last line of defense against internal tags reaching
// the caller. A leak here means a sanitizing step was skipped upstream.
func (c *Coordinator) verifyClean(ctx context.Context, runID string, res *Result) {
	fields := []*string{&res.Content, &res.Reasoning, &res.SelectedTarget}
	for i := range res.Variants {
		fields = append(fields, &res.Variants[i].Content, &res.Variants[i].Technique, &res.Variants[i].Target)
	}

	leaks := 0
	for _, f := range fields {
		if !c.enricher.VerifyClean(*f) {
			leaks++
			*f = c.enricher.Strip(*f)
		}
	}
	if leaks > 0 {
		c.logger.ErrorContext(ctx, "internal tags leaked into final result",
			"severity", "critical",
			"run_id", runID,
			"fields", leaks)
	}
}

func (c *Coordinator) fail(ctx context.Context, r *run, err error) error {
	c.transition(ctx, r, StateFailed)
	d := time.Since(r.start)
	c.recordRun(d, false)
	c.emit(ctx, Event{Type: EventRunFailed, RunID: r.id, Error: err.Error(), Duration: d})
	c.logger.ErrorContext(ctx, "run failed",
		"run_id", r.id,
		"error", c.enricher.Strip(err.Error()),
		"duration", d)
	return err
}

// RunQueued works like Run but dispatches each worker call as a task on
// the coordinator's queue, at opts.Priority, and waits for all of them.
func (c *Coordinator) RunQueued(ctx context.Context, input string, opts RunOptions) (*Result, error) {
	if c.queue == nil {
		return nil, ErrQueueUnavailable
	}
	r, err := c.newRun(input, opts)
	if err != nil {
		return nil, err
	}
	r.mode = ModeQueued

	c.emit(ctx, Event{Type: EventRunStarted, RunID: r.id, WorkerCount: len(r.workers)})
	c.logger.InfoContext(ctx, "queued run started",
		"run_id", r.id,
		"workers", len(r.workers),
		"priority", opts.Priority)

	r.req = c.enricher.Enrich(ctx, r.req)
	c.transition(ctx, r, StateContextBuilt)

	timeout := c.Config().WorkerTimeout
	subs := make([]task.Submission, 0, len(r.workers))
	for _, w := range r.workers {
		subs = append(subs, task.Submission{
			Task:    task.Task{Worker: w, Request: r.req},
			Options: task.EnqueueOptions{Priority: opts.Priority, Timeout: timeout},
		})
	}

	queued, err := c.queue.EnqueueAll(subs)
	if err != nil {
		for _, qt := range queued {
			c.queue.Cancel(qt.ID)
		}
		return nil, c.fail(ctx, r, fmt.Errorf("enqueue run: %w", err))
	}
	for _, qt := range queued {
		c.emit(ctx, Event{Type: EventWorkerStarted, RunID: r.id, Worker: qt.WorkerName()})
	}
	c.transition(ctx, r, StateDispatched)

	outcomes := make([]outcome, 0, len(queued))
	for _, qt := range queued {
		done, err := c.queue.WaitFor(ctx, qt.ID, 0)
		if err == nil && done.Status != task.StatusCompleted {
			err = done.Err
			if err == nil {
				err = fmt.Errorf("task %s ended %s", done.ID, done.Status)
			}
		}

		name := qt.WorkerName()
		if err != nil {
			c.recordWorker(name, false)
			c.emit(ctx, Event{Type: EventWorkerFailed, RunID: r.id, Worker: name, Error: err.Error(), Duration: done.Duration()})
			outcomes = append(outcomes, outcome{worker: name, err: fmt.Errorf("worker %s: %w", name, err)})
			continue
		}
		if done.Result == nil {
			err := errors.New("worker returned no result")
			c.recordWorker(name, false)
			c.emit(ctx, Event{Type: EventWorkerFailed, RunID: r.id, Worker: name, Error: err.Error()})
			outcomes = append(outcomes, outcome{worker: name, err: fmt.Errorf("worker %s: %w", name, err)})
			continue
		}

		c.recordWorker(name, true)
		c.emit(ctx, Event{Type: EventWorkerCompleted, RunID: r.id, Worker: name, Duration: done.Duration()})
		outcomes = append(outcomes, outcome{worker: name, result: c.sanitize(done.Result)})
	}

	return c.finalize(ctx, r, outcomes)
}
