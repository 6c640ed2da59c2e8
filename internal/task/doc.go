// Package task implements the in-memory priority task queue used to
// schedule worker calls. Tasks are ordered by priority (FIFO among equal
// priorities), run under a concurrency limit, may wait on other tasks to
// complete first, and are retried or timed out according to per-task
// settings. Every state transition is published as an Event.
//
// The queue is single-process only: nothing is persisted, and a task whose
// dependency never completes stays pending until it is cancelled.
package task
