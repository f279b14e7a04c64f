package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactcast_operations_total",
			Help: "Total number of provider operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contactcast_operation_duration_seconds",
			Help:    "Duration of provider operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	DispatchMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contactcast_dispatch_messages_total",
			Help: "Per-contact message writes made by broadcasts",
		},
		[]string{"outcome"},
	)
)

// Observe records one finished operation. Use as
// defer metrics.Observe("addContact", time.Now(), &err).
func Observe(op string, start time.Time, errp *error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := OutcomeSuccess
	if errp != nil && *errp != nil {
		outcome = OutcomeFailure
	}
	Operations.WithLabelValues(op, outcome).Inc()
}
