// Package metrics exposes Prometheus instrumentation for the retry executor
// and batch runs.
package metrics

import (
	"time"

	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts remote calls started by the executor
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpipe_attempts_total",
			Help: "Total number of operation attempts",
		},
		[]string{"operation"},
	)

	// FailuresTotal counts failed attempts by error class
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpipe_attempt_failures_total",
			Help: "Total number of failed attempts by error class",
		},
		[]string{"operation", "error_class"},
	)

	// RetryDelay tracks scheduled backoff delays
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genpipe_retry_delay_seconds",
			Help:    "Backoff delay scheduled before a retry",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"operation", "error_class"},
	)

	// AbortsTotal counts operations stopped by cancellation
	AbortsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpipe_aborts_total",
			Help: "Total number of operations aborted by cancellation",
		},
		[]string{"operation"},
	)

	// AttemptsPerSuccess tracks how many attempts successful operations needed
	AttemptsPerSuccess = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genpipe_attempts_per_success",
			Help:    "Attempts needed by operations that succeeded",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"operation"},
	)

	// ItemsTotal counts batch items reaching a terminal status
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpipe_batch_items_total",
			Help: "Total number of batch items finished, by status",
		},
		[]string{"status"},
	)

	// ActiveRuns is the number of batch runs in progress
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genpipe_batch_runs_active",
			Help: "Number of batch runs currently in progress",
		},
	)
)

// Observer records executor events for one operation label.
type Observer struct {
	operation string
}

var _ retry.Observer = Observer{}

// NewObserver returns an Observer labelling its series with operation.
func NewObserver(operation string) Observer {
	return Observer{operation: operation}
}

// AttemptStarted implements retry.Observer.
func (o Observer) AttemptStarted(int) {
	AttemptsTotal.WithLabelValues(o.operation).Inc()
}

// AttemptFailed implements retry.Observer.
func (o Observer) AttemptFailed(class retry.ErrorClass, _ int) {
	FailuresTotal.WithLabelValues(o.operation, class.String()).Inc()
}

// Retrying implements retry.Observer.
func (o Observer) Retrying(class retry.ErrorClass, delay time.Duration) {
	RetryDelay.WithLabelValues(o.operation, class.String()).Observe(delay.Seconds())
}

// Succeeded implements retry.Observer.
func (o Observer) Succeeded(attempts int) {
	AttemptsPerSuccess.WithLabelValues(o.operation).Observe(float64(attempts))
}

// Aborted implements retry.Observer.
func (o Observer) Aborted(int) {
	AbortsTotal.WithLabelValues(o.operation).Inc()
}

// RecordTransition counts items that reached Done or Error.
func RecordTransition(item batch.Item) {
	if item.Status.Terminal() {
		ItemsTotal.WithLabelValues(string(item.Status)).Inc()
	}
}
