package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "domainscan"

var (
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Total number of calls to the analysis service, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	RemoteRequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_latency_seconds",
			Help:      "Latency of calls to the analysis service (seconds).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of submissions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of status reads, labeled by observer mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	ObservationsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_finished_total",
			Help:      "Total number of finished task observations, labeled by end state.",
		},
		[]string{"state"},
	)

	ObservationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "observation_duration_seconds",
			Help:      "Time from task creation to the end of observation (seconds).",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"state"},
	)

	NormalizerFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalizer_fallbacks_total",
			Help:      "Total number of responses that needed a degraded extraction rule.",
		},
		[]string{"field", "rule"},
	)

	ReportsSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_saved_total",
			Help:      "Total number of reports saved, labeled by destination and outcome.",
		},
		[]string{"destination", "outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook deliveries, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		RemoteRequestsTotal,
		RemoteRequestLatencySeconds,
		TasksSubmittedTotal,
		PollsTotal,
		ObservationsFinishedTotal,
		ObservationDurationSeconds,
		NormalizerFallbacksTotal,
		ReportsSavedTotal,
		WebhookDeliveriesTotal,
		RateLimitHitsTotal,
	)
}
