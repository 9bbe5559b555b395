// Package metrics exports prometheus instruments for the quota and
// maintenance jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "propstrack"

// Metrics groups every instrument of the service.
type Metrics struct {
	QuotaDecisions    *prometheus.CounterVec
	CounterUpdates    *prometheus.CounterVec
	CleanupDeleted    *prometheus.CounterVec
	CleanupCommits    *prometheus.CounterVec
	JobRuns           *prometheus.CounterVec
	ReconcileOrphans  prometheus.Gauge
	ReconcileMissing  prometheus.Gauge
	ReconcileDeleted  prometheus.Counter
	ReconcileDuration prometheus.Histogram
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QuotaDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota enforcement outcomes by resource kind.",
		}, []string{"kind", "outcome"}),
		CounterUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage_counter",
			Name:      "updates_total",
			Help:      "Shadow counter updates by resource kind and result.",
		}, []string{"kind", "result"}),
		CleanupDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "deleted_documents_total",
			Help:      "Documents deleted by the garbage collector.",
		}, []string{"collection"}),
		CleanupCommits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "batch_commits_total",
			Help:      "Atomic batch commits issued by the garbage collector.",
		}, []string{"collection"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled and manual job runs by result.",
		}, []string{"job", "result"}),
		ReconcileOrphans: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage_reconcile",
			Name:      "orphaned_objects",
			Help:      "Orphaned objects found by the last reconciliation.",
		}),
		ReconcileMissing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage_reconcile",
			Name:      "missing_references",
			Help:      "Missing references found by the last reconciliation.",
		}),
		ReconcileDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage_reconcile",
			Name:      "deleted_objects_total",
			Help:      "Orphaned objects deleted.",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage_reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// NewUnregistered returns instruments bound to a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveJob counts a job run.
func (m *Metrics) ObserveJob(job string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}
