// Package metrics defines the prometheus collectors exported by the indexer.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mailindex"

// Task outcomes recorded in TaskResults.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRetried     = "retried"
	OutcomeFailed      = "failed"
	OutcomeAborted     = "aborted"
	OutcomeInterrupted = "interrupted"
	OutcomeSuperseded  = "superseded"
)

// Item outcomes recorded in ItemResults.
const (
	ItemIndexed  = "indexed"
	ItemNotFound = "not_found"
	ItemDeleted  = "deleted"
)

// Metrics groups the indexing service collectors. A zero Metrics is not
// usable; create one with New.
type Metrics struct {
	TasksDispatched  *prometheus.CounterVec
	TaskResults      *prometheus.CounterVec
	ItemResults      *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	CallerRuns       prometheus.Counter
	DeferredRequeues prometheus.Counter
	PoolBacklog      prometheus.Gauge
	MailboxChecks    *prometheus.CounterVec
	ReindexEnqueued  *prometheus.CounterVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		TasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "tasks_dispatched_total",
			Help:      "Tasks taken from the queue and submitted to the worker pool.",
		}, []string{"kind"}),
		TaskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_results_total",
			Help:      "Task executions by outcome.",
		}, []string{"kind", "outcome"}),
		ItemResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "item_results_total",
			Help:      "Items handled by successful task executions.",
		}, []string{"outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Wall time of one task execution attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"}),
		CallerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "caller_runs_total",
			Help:      "Tasks run on the dispatcher because the worker backlog was full.",
		}),
		DeferredRequeues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "deferred_requeues_total",
			Help:      "Retries handed to a background put because the queue was full.",
		}),
		PoolBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "backlog",
			Help:      "Units waiting for a free worker.",
		}),
		MailboxChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "mailbox_checks_total",
			Help:      "Mailbox consistency checks by result.",
		}, []string{"result"}),
		ReindexEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reindex",
			Name:      "items_total",
			Help:      "Items offered to the queue by reindex jobs by result.",
		}, []string{"result"}),
	}
}

// Collectors returns every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TasksDispatched,
		m.TaskResults,
		m.ItemResults,
		m.TaskDuration,
		m.CallerRuns,
		m.DeferredRequeues,
		m.PoolBacklog,
		m.MailboxChecks,
		m.ReindexEnqueued,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
