package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/prism-api/internal/aggregate"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/enrich"
	"github.com/phrazzld/prism-api/internal/events"
	"github.com/phrazzld/prism-api/internal/mocks"
	"github.com/phrazzld/prism-api/internal/platform/logger"
	"github.com/phrazzld/prism-api/internal/task"
	"github.com/phrazzld/prism-api/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(content string, score float64) *domain.WorkerResult {
	return &domain.WorkerResult{
		Content:  content,
		Variants: []domain.Variant{{Content: content, Technique: "test", Score: score}},
		Metrics:  domain.Metrics{EstimatedAccuracy: score, InputTokens: 10, OutputTokens: 10},
	}
}

func newTestCoordinator(t *testing.T, workers ...domain.Worker) (*Coordinator, *logger.TestLogBuffer) {
	t.Helper()
	log, buf := logger.GetTestLogger(t)
	c, err := New(workers, enrich.NewTagger(nil, log), aggregate.New(aggregate.Config{}, log), nil, Config{}, log)
	require.NoError(t, err)
	return c, buf
}

// recorder collects events from concurrent emitters.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handler() events.Handler[Event] {
	return events.Listener(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func count(types []EventType, want EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestNew(t *testing.T) {
	t.Run("no workers", func(t *testing.T) {
		_, err := New(nil, nil, nil, nil, Config{}, nil)
		assert.ErrorIs(t, err, ErrNoWorkers)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := New([]domain.Worker{
			mocks.NewMockWorker("a", result("x", 0.5)),
			mocks.NewMockWorker("a", result("y", 0.5)),
		}, nil, nil, nil, Config{}, nil)
		assert.ErrorIs(t, err, ErrDuplicateWorker)
	})

	t.Run("defaults and order", func(t *testing.T) {
		c, err := New([]domain.Worker{
			mocks.NewMockWorker("b", result("x", 0.5)),
			mocks.NewMockWorker("a", result("y", 0.5)),
		}, nil, nil, nil, Config{MaxVariants: 2}, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"b", "a"}, c.Workers())
		assert.Equal(t, ModeParallel, c.Config().Mode)
		assert.Equal(t, 2, c.Config().MaxVariants)
		assert.Equal(t, 30*time.Second, c.Config().WorkerTimeout)
		assert.NotNil(t, c.Aggregator())
		assert.Nil(t, c.Queue())
	})
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"", "parallel", "sequential"} {
		m, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, Mode(name), m)
	}

	_, err := ParseMode("queued")
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestRun_PartialFailure(t *testing.T) {
	c, _ := newTestCoordinator(t,
		mocks.NewMockWorker("a", result("first answer about caching", 0.9)),
		mocks.NewFailingWorker("b", errors.New("boom")),
		mocks.NewMockWorker("c", result("second answer about queues", 0.6)),
	)

	res, err := c.Run(context.Background(), "Explain caching", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.WorkerCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].Worker)
	assert.Contains(t, res.Failures[0].Error, "boom")
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, ModeParallel, res.Mode)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "first answer about caching", res.Content)
	assert.InDelta(t, 80, res.Improvement, 1e-9)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.WorkerFailures["b"])
	assert.Equal(t, 1, stats.WorkerCalls["a"])
}

func TestRun_AllWorkersFail(t *testing.T) {
	c, _ := newTestCoordinator(t,
		mocks.NewFailingWorker("a", errors.New("down")),
		mocks.NewFailingWorker("b", errors.New("down")),
	)
	rec := &recorder{}
	c.Subscribe(rec.handler())

	_, err := c.Run(context.Background(), "hello", RunOptions{})

	assert.ErrorIs(t, err, ErrAggregationFailed)
	assert.Equal(t, 1, c.Stats().Failed)
	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventRunFailed, types[len(types)-1])
}

func TestRun_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t, mocks.NewMockWorker("a", result("x", 0.5)))
	ctx := context.Background()

	_, err := c.Run(ctx, "  ", RunOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.Run(ctx, "hi", RunOptions{Strategy: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = c.Run(ctx, "hi", RunOptions{Workers: []string{"missing"}})
	assert.ErrorIs(t, err, ErrUnknownWorker)

	assert.Zero(t, c.Stats().Runs, "rejected requests are not runs")
}

func TestRun_StripsInternalTags(t *testing.T) {
	echo := &mocks.MockWorker{
		WorkerName: "echo",
		ExecuteFn: func(_ context.Context, req domain.Request) (*domain.WorkerResult, error) {
			tagged := strings.Join(req.Context.Tags, " ") + " " + req.Input
			return &domain.WorkerResult{
				Content:   tagged,
				Reasoning: "because " + enrich.Tag("secret", "1"),
				Variants:  []domain.Variant{{Content: tagged, Technique: enrich.Tag("t", "x") + "echo", Score: 0.8}},
			}, nil
		},
	}
	c, _ := newTestCoordinator(t, echo)

	res, err := c.Run(context.Background(), "Write a poem", RunOptions{})
	require.NoError(t, err)

	reqs := echo.Requests()
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].Context.Tags, "workers receive enriched context")

	assert.Equal(t, "Write a poem", res.Content)
	assert.Equal(t, "because", res.Reasoning)
	for _, v := range res.Variants {
		assert.True(t, enrich.VerifyClean(v.Content))
		assert.True(t, enrich.VerifyClean(v.Technique))
	}
}

func TestVerifyClean_RestripsAndLogsLeak(t *testing.T) {
	c, buf := newTestCoordinator(t, mocks.NewMockWorker("a", result("x", 0.5)))
	res := &Result{}
	res.Content = "answer " + enrich.Tag("k", "v")
	res.Variants = []domain.ScoredVariant{{Variant: domain.Variant{Content: enrich.Tag("k", "v") + "text"}}}

	c.verifyClean(context.Background(), "run-1", res)

	assert.Equal(t, "answer ", res.Content)
	assert.Equal(t, "text", res.Variants[0].Content)
	logger.AssertLogContains(t, buf, "internal tags leaked into final result")
	logger.AssertLogField(t, buf, "severity", "critical")
}

func TestRun_Events(t *testing.T) {
	c, _ := newTestCoordinator(t,
		mocks.NewMockWorker("a", result("alpha", 0.7)),
		mocks.NewFailingWorker("b", errors.New("bad "+enrich.Tag("k", "v"))),
	)
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.handler())

	_, err := c.Run(context.Background(), "hello", RunOptions{})
	require.NoError(t, err)

	types := rec.types()
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunCompleted, types[len(types)-1])
	assert.Equal(t, 2, count(types, EventWorkerStarted))
	assert.Equal(t, 1, count(types, EventWorkerCompleted))
	assert.Equal(t, 1, count(types, EventWorkerFailed))
	assert.Equal(t, 1, count(types, EventAggregationCompleted))

	rec.mu.Lock()
	for _, e := range rec.events {
		assert.True(t, enrich.VerifyClean(e.Error))
		assert.False(t, e.Timestamp.IsZero())
	}
	rec.mu.Unlock()

	unsubscribe()
	_, err = c.Run(context.Background(), "hello", RunOptions{})
	require.NoError(t, err)
	assert.Len(t, rec.types(), len(types))
}

func TestRun_Sequential(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	ordered := func(name string) *mocks.MockWorker {
		return &mocks.MockWorker{
			WorkerName: name,
			ExecuteFn: func(_ context.Context, req domain.Request) (*domain.WorkerResult, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return result(name+" output text", 0.5), nil
			},
		}
	}
	c, _ := newTestCoordinator(t, ordered("one"), ordered("two"), ordered("three"))

	res, err := c.Run(context.Background(), "hello", RunOptions{Mode: ModeSequential})
	require.NoError(t, err)

	assert.Equal(t, ModeSequential, res.Mode)
	assert.Equal(t, []string{"one", "two", "three"}, order)
}

func TestRun_SelectedWorkersAndMaxVariants(t *testing.T) {
	a := mocks.NewMockWorker("a", &domain.WorkerResult{
		Content: "one two three",
		Variants: []domain.Variant{
			{Content: "one two three", Score: 0.9},
			{Content: "four five six", Score: 0.8},
			{Content: "seven eight nine", Score: 0.7},
		},
	})
	b := mocks.NewMockWorker("b", result("ten", 0.5))
	c, _ := newTestCoordinator(t, a, b)

	res, err := c.Run(context.Background(), "hello", RunOptions{Workers: []string{"a", "a"}, MaxVariants: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, res.WorkerCount)
	assert.Len(t, res.Variants, 2)
	assert.Equal(t, 2, res.Metrics.Aggregation.Final)
	assert.Equal(t, 1, a.CallCount())
	assert.Zero(t, b.CallCount())
}

func TestRun_WorkerTimeoutAndPanic(t *testing.T) {
	slow := &mocks.MockWorker{
		WorkerName: "slow",
		ExecuteFn: func(ctx context.Context, _ domain.Request) (*domain.WorkerResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	panicky := &mocks.MockWorker{
		WorkerName: "panicky",
		ExecuteFn: func(context.Context, domain.Request) (*domain.WorkerResult, error) {
			panic("kaboom")
		},
	}
	c, _ := newTestCoordinator(t, slow, panicky, mocks.NewMockWorker("ok", result("fine", 0.8)))
	c.Configure(Config{WorkerTimeout: 20 * time.Millisecond})

	res, err := c.Run(context.Background(), "hello", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.WorkerCount)
	require.Len(t, res.Failures, 2)
	byWorker := map[string]string{}
	for _, f := range res.Failures {
		byWorker[f.Worker] = f.Error
	}
	assert.Contains(t, byWorker["slow"], context.DeadlineExceeded.Error())
	assert.Contains(t, byWorker["panicky"], "kaboom")
}

func TestRunQueued(t *testing.T) {
	log, _ := logger.GetTestLogger(t)

	t.Run("no queue", func(t *testing.T) {
		c, _ := newTestCoordinator(t, mocks.NewMockWorker("a", result("x", 0.5)))
		_, err := c.RunQueued(context.Background(), "hello", RunOptions{})
		assert.ErrorIs(t, err, ErrQueueUnavailable)
	})

	t.Run("dispatches through the queue", func(t *testing.T) {
		q := task.NewQueue(task.Config{Concurrency: 2, DefaultMaxRetries: 0, RetryDelay: -1}, log)
		defer q.Close()

		c, err := New([]domain.Worker{
			mocks.NewMockWorker("a", result("alpha answer", 0.9)),
			mocks.NewFailingWorker("b", errors.New("nope")),
			mocks.NewMockWorker("c", result("gamma answer", 0.6)),
		}, enrich.NewTagger(nil, log), nil, q, Config{}, log)
		require.NoError(t, err)

		res, err := c.RunQueued(context.Background(), "hello", RunOptions{Priority: 5})
		require.NoError(t, err)

		assert.Equal(t, ModeQueued, res.Mode)
		assert.Equal(t, 2, res.WorkerCount)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, "b", res.Failures[0].Worker)
		assert.Equal(t, 3, len(q.Completed()))

		stats := c.Stats()
		require.NotNil(t, stats.Queue)
		assert.Equal(t, 2, stats.Queue.Completed)
		assert.Equal(t, 1, stats.Queue.Failed)
	})
}

func TestRunWorker(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	c, err := New(worker.Defaults(log), enrich.NewTagger(nil, log), nil, nil, Config{}, log)
	require.NoError(t, err)
	ctx := context.Background()

	opt, err := c.Optimize(ctx, "Explain recursion", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, worker.NameOptimizer, opt.Worker)
	assert.NotEmpty(t, opt.Variants)
	assert.True(t, enrich.VerifyClean(opt.Content))

	route, err := c.Route(ctx, "Write a poem", RunOptions{Target: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", route.SelectedTarget)

	eval, err := c.Evaluate(ctx, "Write something", RunOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.51, eval.Scores[worker.DimensionOverall], 1e-9)

	_, err = c.RunWorker(ctx, "llm", "hi", RunOptions{})
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestCompare(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	c, err := New(worker.Defaults(log), enrich.NewTagger(nil, log), nil, nil, Config{}, log)
	require.NoError(t, err)
	ctx := context.Background()

	strong := "List exactly 3 risks of the migration plan.\n- include one mitigation each\n- format the answer as a table"

	res, err := c.Compare(ctx, "Write something", strong)
	require.NoError(t, err)
	assert.Equal(t, WinnerB, res.Winner)
	assert.Greater(t, res.ScoreB, res.ScoreA)
	assert.Len(t, res.Dimensions, len(worker.Dimensions))

	res, err = c.Compare(ctx, strong, "Write something")
	require.NoError(t, err)
	assert.Equal(t, WinnerA, res.Winner)

	res, err = c.Compare(ctx, "Write something", "Write something")
	require.NoError(t, err)
	assert.Equal(t, WinnerTie, res.Winner)

	_, err = c.Compare(ctx, "", "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
