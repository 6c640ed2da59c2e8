package task

import (
	"time"

	"github.com/phrazzld/prism-api/internal/domain"
)

// Status represents the current state of a queued task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is an opaque unit of work: the worker to call and the request to
// hand it. A Task is copied on submission and never modified afterwards.
type Task struct {
	Worker  domain.Worker
	Request domain.Request
}

// EnqueueOptions control how a task is scheduled.
type EnqueueOptions struct {
	// Priority orders pending tasks; higher runs first.
	Priority int

	// Timeout bounds a single execution attempt. Zero uses the queue default.
	Timeout time.Duration

	// DependsOn lists task IDs that must complete successfully first.
	DependsOn []string

	// MaxRetries overrides the queue default when non-nil.
	MaxRetries *int
}

// Retries is a convenience for setting EnqueueOptions.MaxRetries.
func Retries(n int) *int {
	return &n
}

// Submission pairs a task with its options for EnqueueAll.
type Submission struct {
	Task    Task
	Options EnqueueOptions
}

// QueuedTask wraps a Task with scheduling metadata. Values returned from the
// queue are snapshots; the queue's own copy is only changed under its lock.
type QueuedTask struct {
	ID          string               `json:"id"`
	Seq         uint64               `json:"seq"`
	Task        Task                 `json:"-"`
	Priority    int                  `json:"priority"`
	Status      Status               `json:"status"`
	EnqueuedAt  time.Time            `json:"enqueued_at"`
	StartedAt   time.Time            `json:"started_at,omitempty"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
	Timeout     time.Duration        `json:"timeout"`
	DependsOn   []string             `json:"depends_on,omitempty"`
	RetryCount  int                  `json:"retry_count"`
	MaxRetries  int                  `json:"max_retries"`
	Result      *domain.WorkerResult `json:"result,omitempty"`
	Err         error                `json:"-"`
}

// WorkerName returns the name of the worker the task will call.
func (t QueuedTask) WorkerName() string {
	if t.Task.Worker == nil {
		return ""
	}
	return t.Task.Worker.Name()
}

// Duration returns how long the last execution attempt took, or zero when
// the task has not finished one.
func (t QueuedTask) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

func (t *QueuedTask) snapshot() QueuedTask {
	out := *t
	out.DependsOn = append([]string(nil), t.DependsOn...)
	return out
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Pending          int           `json:"pending"`
	Running          int           `json:"running"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	TimedOut         int           `json:"timed_out"`
	Cancelled        int           `json:"cancelled"`
	AwaitingRetry    int           `json:"awaiting_retry"`
	TotalProcessed   int           `json:"total_processed"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	Concurrency      int           `json:"concurrency"`
	MaxConcurrency   int           `json:"max_concurrency"`
}
