package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	queuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_queued_total",
		Help:      "Number of roster events accepted for delivery.",
	})

	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_dropped_total",
		Help:      "Number of roster events rejected because the queue was full.",
	})

	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Number of roster events published to Kafka, labeled by topic.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Number of roster events that could not be encoded or delivered, labeled by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signup_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent encoding and delivering a batch of roster events.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(queuedCounter, droppedCounter, deliveredCounter, failedCounter, batchDuration)
}
