package compute

import (
	"sync"
	"time"

	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	computeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecd",
			Subsystem: "compute",
			Name:      "requests_total",
			Help:      "Total compute requests.",
		},
		[]string{"operation", "outcome"},
	)
	computeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ecd",
			Subsystem: "compute",
			Name:      "duration_seconds",
			Help:      "Compute request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)
	keyRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecd",
			Subsystem: "compute",
			Name:      "key_registrations_total",
			Help:      "Total public material registrations.",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers the service metrics with the default prometheus
// registry. It is safe to call multiple times.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(computeRequests, computeDuration, keyRegistrations)
	})
}

// outcome is "ok" for a nil error, and the error kind otherwise.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := errs.KindOf(err); ok {
		return string(k)
	}
	return "error"
}

func recordCompute(op fhe.Operation, err error, duration time.Duration) {
	label := string(op)
	if !op.Valid() {
		label = "unknown"
	}
	o := outcome(err)
	computeRequests.WithLabelValues(label, o).Inc()
	computeDuration.WithLabelValues(label, o).Observe(duration.Seconds())
}

func recordRegistration(err error) {
	keyRegistrations.WithLabelValues(outcome(err)).Inc()
}
