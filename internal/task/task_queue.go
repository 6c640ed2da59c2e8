package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
	"github.com/phrazzld/prism-api/internal/events"
)

// Common errors returned by the Queue
var (
	ErrQueueClosed  = errors.New("task queue is closed")
	ErrQueueFull    = errors.New("task queue is full")
	ErrInvalidTask  = errors.New("invalid task")
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskTimeout  = errors.New("task execution timed out")
	ErrWaitTimeout  = errors.New("timed out waiting for task")
)

// Config holds configuration options for the queue
type Config struct {
	// Concurrency is the maximum number of tasks running at once.
	Concurrency int

	// MaxPending caps the pending list. Zero or negative means unbounded.
	MaxPending int

	// DefaultTimeout applies to tasks enqueued without their own timeout.
	DefaultTimeout time.Duration

	// DefaultMaxRetries applies to tasks enqueued without MaxRetries.
	DefaultMaxRetries int

	// RetryDelay is how long a failed task waits before returning to the
	// front of the pending list.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:       3,
		MaxPending:        100,
		DefaultTimeout:    30 * time.Second,
		DefaultMaxRetries: 2,
		RetryDelay:        time.Second,
	}
}

// Queue is a priority-ordered, concurrency-limited, dependency-aware task
// scheduler. All collections are guarded by mu; events are published only
// after mu has been released so handlers may call back into the queue.
type Queue struct {
	mu sync.Mutex

	cfg    Config
	closed bool

	pending   []*QueuedTask
	running   map[string]*QueuedTask
	completed map[string]*QueuedTask
	tasks     map[string]*QueuedTask
	retries   map[string]*time.Timer

	seq            uint64
	totalProcessed int
	succeeded      int
	avgExecution   time.Duration

	// changed is closed and replaced on every state change to wake waiters.
	changed chan struct{}

	wg     sync.WaitGroup
	bus    *events.Bus[Event]
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue creates a new queue. Zero fields in cfg fall back to DefaultConfig.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_queue")

	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		if cfg.Concurrency < 0 {
			logger.Warn("invalid concurrency specified, using default",
				"specified", cfg.Concurrency,
				"default", defaults.Concurrency)
		}
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	return &Queue{
		cfg:       cfg,
		running:   make(map[string]*QueuedTask),
		completed: make(map[string]*QueuedTask),
		tasks:     make(map[string]*QueuedTask),
		retries:   make(map[string]*time.Timer),
		changed:   make(chan struct{}),
		bus:       events.NewBus[Event]("task_queue", logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe registers a handler for queue events and returns a function
// that removes it.
func (q *Queue) Subscribe(handler events.Handler[Event]) (unsubscribe func()) {
	return q.bus.Subscribe(handler)
}

// Enqueue adds a task to the pending list and triggers a scheduling pass.
// Returns ErrQueueFull when the pending list is at capacity.
func (q *Queue) Enqueue(t Task, opts EnqueueOptions) (QueuedTask, error) {
	if t.Worker == nil {
		return QueuedTask{}, fmt.Errorf("%w: worker is required", ErrInvalidTask)
	}

	q.mu.Lock()
	qt, evs, err := q.enqueueLocked(t, opts)
	if err == nil {
		evs = q.scheduleLocked(evs)
		q.signalLocked()
	}
	q.mu.Unlock()

	q.publish(evs)
	return qt, err
}

// EnqueueAll enqueues each submission in order. It stops at the first
// error and returns the tasks enqueued before it.
func (q *Queue) EnqueueAll(subs []Submission) ([]QueuedTask, error) {
	out := make([]QueuedTask, 0, len(subs))
	for _, s := range subs {
		qt, err := q.Enqueue(s.Task, s.Options)
		if err != nil {
			return out, err
		}
		out = append(out, qt)
	}
	return out, nil
}

func (q *Queue) enqueueLocked(t Task, opts EnqueueOptions) (QueuedTask, []Event, error) {
	if q.closed {
		return QueuedTask{}, nil, ErrQueueClosed
	}
	if q.cfg.MaxPending > 0 && len(q.pending) >= q.cfg.MaxPending {
		q.logger.Warn("rejecting task, queue is full",
			"worker", t.Worker.Name(),
			"pending", len(q.pending),
			"max_pending", q.cfg.MaxPending)
		evs := []Event{q.newEvent(EventQueueFull, nil, nil)}
		return QueuedTask{}, evs, fmt.Errorf("%w: pending capacity %d reached", ErrQueueFull, q.cfg.MaxPending)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}
	maxRetries := q.cfg.DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = max(*opts.MaxRetries, 0)
	}

	q.seq++
	qt := &QueuedTask{
		ID:         fmt.Sprintf("task-%06d", q.seq),
		Seq:        q.seq,
		Task:       t,
		Priority:   opts.Priority,
		Status:     StatusPending,
		EnqueuedAt: q.now(),
		Timeout:    timeout,
		DependsOn:  append([]string(nil), opts.DependsOn...),
		MaxRetries: maxRetries,
	}
	q.tasks[qt.ID] = qt
	q.insertByPriorityLocked(qt)

	q.logger.Debug("task enqueued",
		"task_id", qt.ID,
		"worker", t.Worker.Name(),
		"priority", qt.Priority,
		"depends_on", qt.DependsOn,
		"pending", len(q.pending))

	return qt.snapshot(), []Event{q.newEvent(EventEnqueued, qt, nil)}, nil
}

// insertByPriorityLocked places qt before the first pending task with a
// strictly lower priority, keeping FIFO order among equal priorities.
func (q *Queue) insertByPriorityLocked(qt *QueuedTask) {
	idx := len(q.pending)
	for i, p := range q.pending {
		if p.Priority < qt.Priority {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = qt
}

// dependenciesMetLocked reports whether every dependency has completed
// successfully. Unknown or unfinished dependencies keep the task blocked.
func (q *Queue) dependenciesMetLocked(qt *QueuedTask) bool {
	for _, dep := range qt.DependsOn {
		done, ok := q.completed[dep]
		if !ok || done.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// scheduleLocked starts runnable pending tasks until the concurrency limit
// is reached or no runnable task remains.
func (q *Queue) scheduleLocked(evs []Event) []Event {
	for len(q.running) < q.cfg.Concurrency {
		idx := -1
		for i, p := range q.pending {
			if q.dependenciesMetLocked(p) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		qt := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

		qt.Status = StatusRunning
		qt.StartedAt = q.now()
		qt.CompletedAt = time.Time{}
		q.running[qt.ID] = qt
		evs = append(evs, q.newEvent(EventStarted, qt, nil))

		q.logger.Debug("task started",
			"task_id", qt.ID,
			"worker", qt.WorkerName(),
			"attempt", qt.RetryCount+1,
			"running", len(q.running))

		q.wg.Add(1)
		go q.execute(qt, qt.Task, qt.Timeout)
	}
	return evs
}

type outcome struct {
	result *domain.WorkerResult
	err    error
}

// execute runs one attempt of a task, racing the worker against the task's
// timeout. The worker receives the deadline through its context but the
// queue does not wait for it once the deadline has passed.
func (q *Queue) execute(qt *QueuedTask, t Task, timeout time.Duration) {
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("worker panicked: %v", r)}
			}
		}()
		res, err := t.Worker.Execute(ctx, t.Request)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	timedOut := false
	select {
	case out = <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil {
			timedOut = true
		}
	case <-ctx.Done():
		timedOut = true
	}

	q.finish(qt, out, timedOut)
}

func (q *Queue) finish(qt *QueuedTask, out outcome, timedOut bool) {
	q.mu.Lock()

	delete(q.running, qt.ID)
	qt.CompletedAt = q.now()
	logger := q.logger.With("task_id", qt.ID, "worker", qt.WorkerName())

	var evs []Event
	switch {
	case timedOut:
		qt.Status = StatusTimeout
		qt.Err = fmt.Errorf("%w after %s", ErrTaskTimeout, qt.Timeout)
		q.completed[qt.ID] = qt
		q.totalProcessed++
		logger.Warn("task timed out", "timeout", qt.Timeout)
		evs = append(evs, q.newEvent(EventTimeout, qt, qt.Err))

	case out.err == nil:
		qt.Status = StatusCompleted
		qt.Result = out.result
		qt.Err = nil
		q.completed[qt.ID] = qt
		q.totalProcessed++
		q.succeeded++
		elapsed := qt.Duration()
		q.avgExecution += (elapsed - q.avgExecution) / time.Duration(q.succeeded)
		logger.Debug("task completed", "duration", elapsed)
		evs = append(evs, q.newEvent(EventCompleted, qt, nil))

	case qt.RetryCount < qt.MaxRetries && !q.closed:
		qt.RetryCount++
		qt.Status = StatusPending
		qt.Err = out.err
		logger.Info("task failed, scheduling retry",
			"error", out.err,
			"retry_count", qt.RetryCount,
			"max_retries", qt.MaxRetries,
			"delay", q.cfg.RetryDelay)
		evs = append(evs, q.newEvent(EventRetry, qt, out.err))
		if q.cfg.RetryDelay <= 0 {
			q.pending = append([]*QueuedTask{qt}, q.pending...)
		} else {
			q.retries[qt.ID] = time.AfterFunc(q.cfg.RetryDelay, func() { q.requeue(qt) })
		}

	default:
		qt.Status = StatusFailed
		qt.Err = out.err
		q.completed[qt.ID] = qt
		q.totalProcessed++
		logger.Error("task failed", "error", out.err, "retry_count", qt.RetryCount)
		evs = append(evs, q.newEvent(EventFailed, qt, out.err))
	}

	evs = q.scheduleLocked(evs)
	evs = q.appendEmptyLocked(evs)
	q.signalLocked()
	q.mu.Unlock()

	q.publish(evs)
}

// requeue returns a task waiting for its retry to the front of the pending
// list.
func (q *Queue) requeue(qt *QueuedTask) {
	q.mu.Lock()
	if _, ok := q.retries[qt.ID]; !ok {
		// Cancelled while waiting.
		q.mu.Unlock()
		return
	}
	delete(q.retries, qt.ID)
	q.pending = append([]*QueuedTask{qt}, q.pending...)
	evs := q.scheduleLocked(nil)
	q.signalLocked()
	q.mu.Unlock()

	q.publish(evs)
}

// Cancel removes a pending task and marks it cancelled. It returns false
// when the task is unknown, already running, or finished.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	qt, ok := q.cancelLocked(id)
	var evs []Event
	if ok {
		evs = append(evs, q.newEvent(EventCancelled, qt, nil))
		evs = q.appendEmptyLocked(evs)
		q.signalLocked()
	}
	q.mu.Unlock()

	q.publish(evs)
	return ok
}

// CancelAll cancels every pending task and returns how many were cancelled.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	evs := q.cancelAllLocked()
	count := len(evs)
	if count > 0 {
		evs = q.appendEmptyLocked(evs)
		q.signalLocked()
	}
	q.mu.Unlock()

	q.publish(evs)
	return count
}

func (q *Queue) cancelAllLocked() []Event {
	ids := make([]string, 0, len(q.pending)+len(q.retries))
	for _, p := range q.pending {
		ids = append(ids, p.ID)
	}
	for id := range q.retries {
		ids = append(ids, id)
	}

	var evs []Event
	for _, id := range ids {
		if qt, ok := q.cancelLocked(id); ok {
			evs = append(evs, q.newEvent(EventCancelled, qt, nil))
		}
	}
	return evs
}

func (q *Queue) cancelLocked(id string) (*QueuedTask, bool) {
	qt, ok := q.tasks[id]
	if !ok || qt.Status != StatusPending {
		return nil, false
	}

	if timer, waiting := q.retries[id]; waiting {
		timer.Stop()
		delete(q.retries, id)
	} else {
		for i, p := range q.pending {
			if p.ID == id {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
	}

	qt.Status = StatusCancelled
	qt.CompletedAt = q.now()
	q.completed[id] = qt
	q.logger.Debug("task cancelled", "task_id", id)
	return qt, true
}

// WaitFor blocks until the task leaves the pending and running states, the
// timeout elapses (ErrWaitTimeout) or ctx is done. A non-positive timeout
// waits without a deadline.
func (q *Queue) WaitFor(ctx context.Context, id string, timeout time.Duration) (QueuedTask, error) {
	expired := deadline(timeout)
	for {
		q.mu.Lock()
		qt, ok := q.tasks[id]
		if !ok {
			q.mu.Unlock()
			return QueuedTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if qt.Status.Terminal() {
			snap := qt.snapshot()
			q.mu.Unlock()
			return snap, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-expired:
			return QueuedTask{}, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, id, timeout)
		case <-ctx.Done():
			return QueuedTask{}, ctx.Err()
		}
	}
}

// WaitForAll blocks until no task is pending, running or awaiting a retry.
func (q *Queue) WaitForAll(ctx context.Context, timeout time.Duration) error {
	expired := deadline(timeout)
	for {
		q.mu.Lock()
		idle := q.idleLocked()
		changed := q.changed
		q.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-changed:
		case <-expired:
			return fmt.Errorf("%w: queue did not drain within %s", ErrWaitTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func deadline(timeout time.Duration) <-chan time.Time {
	if timeout <= 0 {
		return nil
	}
	return time.After(timeout)
}

// GetTask returns a snapshot of the task with the given ID.
func (q *Queue) GetTask(id string) (QueuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	qt, ok := q.tasks[id]
	if !ok {
		return QueuedTask{}, false
	}
	return qt.snapshot(), true
}

// Pending returns the pending tasks in scheduling order.
func (q *Queue) Pending() []QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedTask, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.snapshot())
	}
	return out
}

// Running returns the running tasks ordered by start sequence.
func (q *Queue) Running() []QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedSnapshots(q.running)
}

// Completed returns every task in a terminal state ordered by sequence.
func (q *Queue) Completed() []QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedSnapshots(q.completed)
}

func sortedSnapshots(m map[string]*QueuedTask) []QueuedTask {
	out := make([]QueuedTask, 0, len(m))
	for _, qt := range m {
		out = append(out, qt.snapshot())
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Seq < out[j-1].Seq; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Stats returns a point-in-time summary of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:          len(q.pending) + len(q.retries),
		Running:          len(q.running),
		AwaitingRetry:    len(q.retries),
		TotalProcessed:   q.totalProcessed,
		AvgExecutionTime: q.avgExecution,
		Concurrency:      len(q.running),
		MaxConcurrency:   q.cfg.Concurrency,
	}
	for _, qt := range q.completed {
		switch qt.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusTimeout:
			s.TimedOut++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Config returns the current configuration.
func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Configure updates the queue configuration. Zero fields leave the current
// setting unchanged; MaxPending and RetryDelay accept negative values to
// mean "unbounded" and "no delay". Raising the concurrency starts waiting
// tasks immediately.
func (q *Queue) Configure(update Config) {
	q.mu.Lock()
	if update.Concurrency > 0 {
		q.cfg.Concurrency = update.Concurrency
	}
	if update.MaxPending != 0 {
		q.cfg.MaxPending = max(update.MaxPending, 0)
	}
	if update.DefaultTimeout > 0 {
		q.cfg.DefaultTimeout = update.DefaultTimeout
	}
	if update.DefaultMaxRetries > 0 {
		q.cfg.DefaultMaxRetries = update.DefaultMaxRetries
	}
	if update.RetryDelay != 0 {
		q.cfg.RetryDelay = max(update.RetryDelay, 0)
	}
	q.logger.Info("queue reconfigured",
		"concurrency", q.cfg.Concurrency,
		"max_pending", q.cfg.MaxPending,
		"default_timeout", q.cfg.DefaultTimeout,
		"default_max_retries", q.cfg.DefaultMaxRetries,
		"retry_delay", q.cfg.RetryDelay)
	evs := q.scheduleLocked(nil)
	q.signalLocked()
	q.mu.Unlock()

	q.publish(evs)
}

// Close rejects further submissions, cancels every pending task and waits
// for running tasks to finish their current attempt.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	evs := q.cancelAllLocked()
	evs = q.appendEmptyLocked(evs)
	q.signalLocked()
	q.mu.Unlock()

	q.publish(evs)
	q.wg.Wait()
	q.logger.Info("task queue closed")
}

func (q *Queue) idleLocked() bool {
	return len(q.pending) == 0 && len(q.running) == 0 && len(q.retries) == 0
}

func (q *Queue) appendEmptyLocked(evs []Event) []Event {
	if q.idleLocked() {
		evs = append(evs, q.newEvent(EventQueueEmpty, nil, nil))
	}
	return evs
}

func (q *Queue) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) newEvent(typ EventType, qt *QueuedTask, err error) Event {
	ev := Event{Type: typ, Timestamp: q.now()}
	if qt != nil {
		ev.Task = qt.snapshot()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (q *Queue) publish(evs []Event) {
	for _, ev := range evs {
		_ = q.bus.Emit(context.Background(), ev)
	}
}
