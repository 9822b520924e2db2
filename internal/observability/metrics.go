// Package observability holds the Prometheus collectors shared by the roster service.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	participantsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "roster",
		Name:      "participants",
		Help:      "Current number of participants per activity.",
	}, []string{"activity"})

	operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "roster",
		Name:      "operations_total",
		Help:      "Roster operations grouped by operation and outcome.",
	}, []string{"operation", "outcome"})

	lastMutationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "roster",
		Name:      "last_mutation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed roster change.",
	})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signup_service",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency grouped by route pattern and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(participantsGauge, operationCounter, lastMutationGauge, requestDuration)
}

// RecordParticipants sets the participant gauge for an activity.
func RecordParticipants(activity string, count int) {
	participantsGauge.WithLabelValues(activity).Set(float64(count))
}

// RecordMutation updates the mutation watermark gauge.
func RecordMutation(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastMutationGauge.Set(float64(ts.Unix()))
}

// RecordOperation counts a signup or unregister attempt by outcome.
func RecordOperation(operation, outcome string) {
	operationCounter.WithLabelValues(operation, outcome).Inc()
}

// ObserveRequest records the latency of a served HTTP request.
func ObserveRequest(route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	requestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
