package task

import "time"

// EventType names a queue lifecycle transition.
type EventType string

// Queue event types
const (
	EventEnqueued   EventType = "enqueued"
	EventStarted    EventType = "started"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
	EventTimeout    EventType = "timeout"
	EventCancelled  EventType = "cancelled"
	EventRetry      EventType = "retry"
	EventQueueEmpty EventType = "queue_empty"
	EventQueueFull  EventType = "queue_full"
)

// Event reports one queue transition. Task is a snapshot taken at the time
// of the transition and is empty for queue-level events.
type Event struct {
	Type      EventType  `json:"type"`
	Task      QueuedTask `json:"task"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
