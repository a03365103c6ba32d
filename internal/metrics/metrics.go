// Package metrics exposes Prometheus collectors for view operations and
// the worker's queue consumption. Collectors are package-level and
// registered once at init; the daemon serves them through Handler.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh DDL on a large view can run for minutes, so the histogram
// reaches well past the default buckets.
var operationBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900}

var (
	// OperationsTotal counts completed view operations by operation kind
	// and response status.
	OperationsTotal = prom.NewCounterVec(prom.CounterOpts{
		Name: "matview_operations_total",
		Help: "View operations executed, labelled by operation and response status",
	}, []string{"operation", "status"})

	// OperationDuration observes end-to-end operation latency, audit
	// writes included.
	OperationDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Name:    "matview_operation_duration_seconds",
		Help:    "View operation latency in seconds by operation",
		Buckets: operationBuckets,
	}, []string{"operation"})

	// JobsConsumed counts jobs the worker picked up from the queue.
	JobsConsumed = prom.NewCounter(prom.CounterOpts{
		Name: "matview_jobs_consumed_total",
		Help: "Queue jobs consumed by the worker",
	})

	// JobsSkipped counts queue payloads dropped because they could not be
	// decoded into a valid job.
	JobsSkipped = prom.NewCounter(prom.CounterOpts{
		Name: "matview_jobs_skipped_total",
		Help: "Queue payloads skipped as undecodable",
	})

	// AuditFinalizeFailures counts run records whose terminal state could
	// not be persisted. Finalize failures never fail the operation, so
	// this counter is the only loud signal.
	AuditFinalizeFailures = prom.NewCounter(prom.CounterOpts{
		Name: "matview_audit_finalize_failures_total",
		Help: "Run audit records that failed to finalize",
	})
)

func init() {
	prom.MustRegister(OperationsTotal, OperationDuration, JobsConsumed, JobsSkipped, AuditFinalizeFailures)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// RecordOperation observes one completed view operation.
func RecordOperation(operation, status string, duration time.Duration) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
