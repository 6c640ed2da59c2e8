package coordinator

import "time"

// EventType names a coordinator lifecycle stage.
type EventType string

// Coordinator event types
const (
	EventRunStarted           EventType = "run_started"
	EventWorkerStarted        EventType = "worker_started"
	EventWorkerCompleted      EventType = "worker_completed"
	EventWorkerFailed         EventType = "worker_failed"
	EventAggregationCompleted EventType = "aggregation_completed"
	EventRunCompleted         EventType = "run_completed"
	EventRunFailed            EventType = "run_failed"
)

// Event reports one stage of a run. Worker is set for worker events,
// WorkerCount for aggregation and completion events.
type Event struct {
	Type        EventType     `json:"type"`
	RunID       string        `json:"run_id"`
	Worker      string        `json:"worker,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	WorkerCount int           `json:"worker_count,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
