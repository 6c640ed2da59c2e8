// Package coordinator runs a prompt through several workers and merges what
// they return.
//
// A run builds an enriched request (internal tags included), dispatches it
// to the selected workers in parallel or in sequence, strips internal tags
// from every result as it arrives, aggregates the successful results and
// scans the final output once more before returning it. A failing worker
// is logged and left out; a run fails only when no worker succeeds.
//
// Runs can also be routed through a task.Queue so that they share its
// priority ordering, concurrency limit and retry policy with other work.
package coordinator
