package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/prism-api/internal/aggregate"
	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/events"
	"github.com/phrazzld/prism-api/internal/task"
)

// Common errors returned by the Coordinator
var (
	ErrAggregationFailed = errors.New("aggregation failed: no usable worker results")
	ErrUnknownWorker     = errors.New("unknown worker")
	ErrNoWorkers         = errors.New("no workers configured")
	ErrDuplicateWorker   = errors.New("duplicate worker name")
	ErrQueueUnavailable  = errors.New("no task queue configured")
)

// Mode selects how a run dispatches to its workers.
type Mode string

// Dispatch modes
const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"

	// ModeQueued is reported by runs made through RunQueued.
	ModeQueued Mode = "queued"
)

// ParseMode converts a name into a Mode. An empty name yields "".
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case "", ModeParallel, ModeSequential:
		return Mode(name), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidMode, name)
	}
}

// State is the stage a run has reached.
type State string

// Run states, in order. StateFailed may follow any of the others.
const (
	StateIdle         State = "idle"
	StateContextBuilt State = "context_built"
	StateDispatched   State = "dispatched"
	StateAggregated   State = "aggregated"
	StateFinalized    State = "finalized"
	StateFailed       State = "failed"
)

// Enricher builds the per-call context and removes its internal parts from
// worker output.
type Enricher interface {
	Enrich(ctx context.Context, req domain.Request) domain.Request
	Strip(text string) string
	VerifyClean(text string) bool
}

// Config holds the coordinator settings.
type Config struct {
	Mode          Mode          `json:"mode"`
	MaxVariants   int           `json:"max_variants"`
	WorkerTimeout time.Duration `json:"worker_timeout"`
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeParallel,
		MaxVariants:   5,
		WorkerTimeout: 30 * time.Second,
	}
}

// RunOptions are the per-run choices a caller can make. Zero values fall
// back to the coordinator configuration.
type RunOptions struct {
	Mode        Mode
	Workers     []string
	Strategy    domain.Strategy
	MaxVariants int
	Hints       []string
	Examples    []string
	Constraints []string
	Target      string
	Techniques  []string

	// Priority is only used by RunQueued.
	Priority int
}

// WorkerFailure records a worker that was left out of a run.
type WorkerFailure struct {
	Worker string `json:"worker"`
	Error  string `json:"error"`
}

// Result is the output of a run.
type Result struct {
	domain.AggregatedResult

	RunID       string          `json:"run_id"`
	Mode        Mode            `json:"mode"`
	State       State           `json:"state"`
	Improvement float64         `json:"improvement"`
	Failures    []WorkerFailure `json:"failures,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// Stats summarize the coordinator's activity since it was created.
type Stats struct {
	Runs           int            `json:"runs"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	AvgRunDuration time.Duration  `json:"avg_run_duration"`
	Workers        []string       `json:"workers"`
	WorkerCalls    map[string]int `json:"worker_calls"`
	WorkerFailures map[string]int `json:"worker_failures"`
	Queue          *task.Stats    `json:"queue,omitempty"`
}

// Coordinator owns a fixed set of workers and runs requests through them.
type Coordinator struct {
	mu  sync.RWMutex
	cfg Config

	workers map[string]domain.Worker
	order   []string

	enricher Enricher
	agg      *aggregate.Aggregator
	queue    *task.Queue
	bus      *events.Bus[Event]
	logger   *slog.Logger

	statsMu        sync.Mutex
	runs           int
	succeeded      int
	failed         int
	totalDuration  time.Duration
	workerCalls    map[string]int
	workerFailures map[string]int
}

// New creates a Coordinator. Workers keep the given order, which is also
// the order their results are aggregated in. queue may be nil, in which
// case RunQueued is unavailable.
func New(
	workers []domain.Worker,
	enricher Enricher,
	agg *aggregate.Aggregator,
	queue *task.Queue,
	cfg Config,
	logger *slog.Logger,
) (*Coordinator, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	if enricher == nil {
		enricher = passthrough{}
	}
	if agg == nil {
		agg = aggregate.New(aggregate.Config{}, logger)
	}

	c := &Coordinator{
		cfg:            DefaultConfig(),
		workers:        make(map[string]domain.Worker, len(workers)),
		enricher:       enricher,
		agg:            agg,
		queue:          queue,
		logger:         logger.With("component", "coordinator"),
		bus:            events.NewBus[Event]("coordinator", logger),
		workerCalls:    make(map[string]int),
		workerFailures: make(map[string]int),
	}
	for _, w := range workers {
		name := w.Name()
		if _, dup := c.workers[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateWorker, name)
		}
		c.workers[name] = w
		c.order = append(c.order, name)
	}
	c.Configure(cfg)

	return c, nil
}

// Subscribe registers a handler for run events and returns a function that
// removes it.
func (c *Coordinator) Subscribe(handler events.Handler[Event]) (unsubscribe func()) {
	return c.bus.Subscribe(handler)
}

// Config returns the current configuration.
func (c *Coordinator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Configure merges a partial configuration. Zero values leave the matching
// setting unchanged.
func (c *Coordinator) Configure(update Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if update.Mode != "" {
		c.cfg.Mode = update.Mode
	}
	if update.MaxVariants > 0 {
		c.cfg.MaxVariants = update.MaxVariants
	}
	if update.WorkerTimeout > 0 {
		c.cfg.WorkerTimeout = update.WorkerTimeout
	}
}

// Workers returns the registered worker names in dispatch order.
func (c *Coordinator) Workers() []string {
	return append([]string(nil), c.order...)
}

// Aggregator returns the aggregator used for runs.
func (c *Coordinator) Aggregator() *aggregate.Aggregator {
	return c.agg
}

// Queue returns the task queue used by RunQueued, or nil.
func (c *Coordinator) Queue() *task.Queue {
	return c.queue
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	s := Stats{
		Runs:           c.runs,
		Succeeded:      c.succeeded,
		Failed:         c.failed,
		Workers:        c.Workers(),
		WorkerCalls:    make(map[string]int, len(c.workerCalls)),
		WorkerFailures: make(map[string]int, len(c.workerFailures)),
	}
	if c.runs > 0 {
		s.AvgRunDuration = c.totalDuration / time.Duration(c.runs)
	}
	for k, v := range c.workerCalls {
		s.WorkerCalls[k] = v
	}
	for k, v := range c.workerFailures {
		s.WorkerFailures[k] = v
	}
	c.statsMu.Unlock()

	if c.queue != nil {
		qs := c.queue.Stats()
		s.Queue = &qs
	}
	return s
}

func (c *Coordinator) recordRun(d time.Duration, ok bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.runs++
	c.totalDuration += d
	if ok {
		c.succeeded++
	} else {
		c.failed++
	}
}

func (c *Coordinator) recordWorker(name string, ok bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.workerCalls[name]++
	if !ok {
		c.workerFailures[name]++
	}
}

func (c *Coordinator) emit(ctx context.Context, e Event) {
	e.Timestamp = time.Now()
	if e.Error != "" {
		e.Error = c.enricher.Strip(e.Error)
	}
	// Handler failures are logged by the bus.
	_ = c.bus.Emit(ctx, e)
}

// selectWorkers resolves the requested names, or every worker when none
// are named.
func (c *Coordinator) selectWorkers(names []string) ([]domain.Worker, error) {
	if len(names) == 0 {
		names = c.order
	}
	out := make([]domain.Worker, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		w, ok := c.workers[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, n)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, w)
	}
	return out, nil
}

// passthrough is used when no Enricher is supplied.
type passthrough struct{}

func (passthrough) Enrich(_ context.Context, req domain.Request) domain.Request { return req }
func (passthrough) Strip(text string) string                                    { return text }
func (passthrough) VerifyClean(string) bool                                     { return true }
