// Package metrics exports queue and run activity as Prometheus collectors.
// The Exporter subscribes to the task queue and the coordinator and turns
// their lifecycle events into counters, gauges and histograms.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/events"
	"github.com/phrazzld/prism-api/internal/task"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "prism"

// Options controls collector configuration.
type Options struct {
	Namespace       string
	DurationBuckets []float64
}

// Exporter adapts queue and coordinator events to Prometheus collectors.
type Exporter struct {
	tasksTotal        *prom.CounterVec
	taskDuration      *prom.HistogramVec
	taskRetries       *prom.CounterVec
	queueRejected     prom.Counter
	queueDepth        prom.Gauge
	runsTotal         *prom.CounterVec
	runDuration       *prom.HistogramVec
	workerCallsTotal  *prom.CounterVec
	workerDuration    *prom.HistogramVec
	aggregatedWorkers prom.Histogram

	depth func() int
}

// NewExporter creates and registers the collectors on reg, or on the
// default registerer when reg is nil. Registering twice on the same
// registry reuses the existing collectors.
func NewExporter(reg prom.Registerer, opts Options) (*Exporter, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	e := &Exporter{
		tasksTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: ns,
			Name:      "tasks_total",
			Help:      "Queue tasks that reached a terminal state.",
		}, []string{"worker", "status"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: ns,
			Name:      "task_duration_seconds",
			Help:      "Queue task execution time in seconds.",
			Buckets:   buckets,
		}, []string{"worker", "priority"}),
		taskRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: ns,
			Name:      "task_retries_total",
			Help:      "Queue task retries scheduled.",
		}, []string{"worker"}),
		queueRejected: prom.NewCounter(prom.CounterOpts{
			Namespace: ns,
			Name:      "queue_rejected_total",
			Help:      "Tasks rejected because the pending list was full.",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: ns,
			Name:      "queue_depth",
			Help:      "Pending tasks at the last queue event.",
		}),
		runsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Coordinator runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Coordinator run duration in seconds.",
			Buckets:   buckets,
		}, []string{"outcome"}),
		workerCallsTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: ns,
			Name:      "worker_calls_total",
			Help:      "Worker calls made by the coordinator.",
		}, []string{"worker", "outcome"}),
		workerDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: ns,
			Name:      "worker_duration_seconds",
			Help:      "Worker call duration in seconds.",
			Buckets:   buckets,
		}, []string{"worker"}),
		aggregatedWorkers: prom.NewHistogram(prom.HistogramOpts{
			Namespace: ns,
			Name:      "aggregated_workers",
			Help:      "Worker results merged per aggregation.",
			Buckets:   prom.LinearBuckets(1, 1, 8),
		}),
	}

	var err error
	if e.tasksTotal, err = registerCollector(reg, e.tasksTotal); err != nil {
		return nil, err
	}
	if e.taskDuration, err = registerCollector(reg, e.taskDuration); err != nil {
		return nil, err
	}
	if e.taskRetries, err = registerCollector(reg, e.taskRetries); err != nil {
		return nil, err
	}
	if e.queueRejected, err = registerCollector(reg, e.queueRejected); err != nil {
		return nil, err
	}
	if e.queueDepth, err = registerCollector(reg, e.queueDepth); err != nil {
		return nil, err
	}
	if e.runsTotal, err = registerCollector(reg, e.runsTotal); err != nil {
		return nil, err
	}
	if e.runDuration, err = registerCollector(reg, e.runDuration); err != nil {
		return nil, err
	}
	if e.workerCallsTotal, err = registerCollector(reg, e.workerCallsTotal); err != nil {
		return nil, err
	}
	if e.workerDuration, err = registerCollector(reg, e.workerDuration); err != nil {
		return nil, err
	}
	if e.aggregatedWorkers, err = registerCollector(reg, e.aggregatedWorkers); err != nil {
		return nil, err
	}
	return e, nil
}

// Watch subscribes the exporter to a queue and a coordinator, either of
// which may be nil. The returned function removes both subscriptions.
func (e *Exporter) Watch(q *task.Queue, c *coordinator.Coordinator) (stop func()) {
	var stops []func()
	if q != nil {
		e.depth = func() int { return q.Stats().Pending }
		stops = append(stops, q.Subscribe(e.taskHandler()))
	}
	if c != nil {
		stops = append(stops, c.Subscribe(e.runHandler()))
	}
	return func() {
		for _, s := range stops {
			s()
		}
	}
}

func (e *Exporter) taskHandler() events.Handler[task.Event] {
	return events.HandlerFunc[task.Event](func(_ context.Context, ev task.Event) error {
		e.RecordTaskEvent(ev)
		return nil
	})
}

func (e *Exporter) runHandler() events.Handler[coordinator.Event] {
	return events.HandlerFunc[coordinator.Event](func(_ context.Context, ev coordinator.Event) error {
		e.RecordRunEvent(ev)
		return nil
	})
}

// RecordTaskEvent updates the queue collectors for one queue event.
func (e *Exporter) RecordTaskEvent(ev task.Event) {
	if e == nil {
		return
	}
	worker := normalizeLabel(ev.Task.WorkerName(), "unknown")

	switch ev.Type {
	case task.EventCompleted, task.EventFailed, task.EventTimeout, task.EventCancelled:
		e.tasksTotal.WithLabelValues(worker, string(ev.Type)).Inc()
		if d := ev.Task.Duration(); d > 0 {
			e.taskDuration.WithLabelValues(worker, strconv.Itoa(ev.Task.Priority)).Observe(d.Seconds())
		}
	case task.EventRetry:
		e.taskRetries.WithLabelValues(worker).Inc()
	case task.EventQueueFull:
		e.queueRejected.Inc()
	case task.EventQueueEmpty:
		e.queueDepth.Set(0)
		return
	}

	if e.depth != nil {
		e.queueDepth.Set(float64(e.depth()))
	}
}

// RecordRunEvent updates the run collectors for one coordinator event.
func (e *Exporter) RecordRunEvent(ev coordinator.Event) {
	if e == nil {
		return
	}
	switch ev.Type {
	case coordinator.EventRunCompleted:
		e.runsTotal.WithLabelValues("succeeded").Inc()
		e.runDuration.WithLabelValues("succeeded").Observe(ev.Duration.Seconds())
	case coordinator.EventRunFailed:
		e.runsTotal.WithLabelValues("failed").Inc()
		e.runDuration.WithLabelValues("failed").Observe(ev.Duration.Seconds())
	case coordinator.EventWorkerCompleted:
		worker := normalizeLabel(ev.Worker, "unknown")
		e.workerCallsTotal.WithLabelValues(worker, "succeeded").Inc()
		e.workerDuration.WithLabelValues(worker).Observe(ev.Duration.Seconds())
	case coordinator.EventWorkerFailed:
		e.workerCallsTotal.WithLabelValues(normalizeLabel(ev.Worker, "unknown"), "failed").Inc()
	case coordinator.EventAggregationCompleted:
		e.aggregatedWorkers.Observe(float64(ev.WorkerCount))
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
