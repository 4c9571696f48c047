// Package metrics exposes Prometheus collectors for the booking core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_booking_jobs_total",
		Help: "Booking jobs processed by final result",
	}, []string{"result"}) // result=completed|failed|cancelled|retried

	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_job_transitions_total",
		Help: "Booking job status transitions",
	}, []string{"from", "to"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "televisit_queue_depth",
		Help: "Pending booking jobs in the queue",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "televisit_pipeline_step_seconds",
		Help:    "Duration of booking pipeline steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	lockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_lock_acquisitions_total",
		Help: "Distributed slot lock acquisition attempts by outcome",
	}, []string{"outcome"}) // outcome=acquired|reclaimed|contended|error

	bookingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_booking_attempts_total",
		Help: "Atomic booking attempts by outcome",
	}, []string{"outcome"}) // outcome=booked|conflict|retry_exhausted|error

	hubEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_hub_events_total",
		Help: "Progress hub publishes by delivery outcome",
	}, []string{"outcome"}) // outcome=delivered|dropped

	videoActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_video_actions_total",
		Help: "Video lifecycle coordinator actions by outcome",
	}, []string{"action", "outcome"})

	rowstoreRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "televisit_rowstore_requests_total",
		Help: "Row-store gateway requests by table and outcome",
	}, []string{"table", "outcome"})
)

// IncJobResult records a booking job's final result.
func IncJobResult(result string) { jobsTotal.WithLabelValues(result).Inc() }

// IncJobTransition records a job status transition edge.
func IncJobTransition(from, to string) { jobTransitions.WithLabelValues(from, to).Inc() }

// SetQueueDepth publishes the pending queue length.
func SetQueueDepth(n int64) { queueDepth.Set(float64(n)) }

// ObserveStep records the duration of one pipeline step.
func ObserveStep(step string, seconds float64) {
	stepDuration.WithLabelValues(step).Observe(seconds)
}

// IncLockAcquisition records a lock attempt outcome.
func IncLockAcquisition(outcome string) { lockAcquisitions.WithLabelValues(outcome).Inc() }

// IncBookingAttempt records an atomic booking attempt outcome.
func IncBookingAttempt(outcome string) { bookingAttempts.WithLabelValues(outcome).Inc() }

// IncHubEvent records a hub publish outcome.
func IncHubEvent(outcome string) { hubEvents.WithLabelValues(outcome).Inc() }

// IncVideoAction records a video coordinator action outcome.
func IncVideoAction(action, outcome string) {
	videoActions.WithLabelValues(action, outcome).Inc()
}

// IncRowstoreRequest records a row-store request outcome.
func IncRowstoreRequest(table, outcome string) {
	rowstoreRequests.WithLabelValues(table, outcome).Inc()
}
