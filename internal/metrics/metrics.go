// Package metrics defines the process-wide Prometheus collectors
// exposed at /metrics when METRICS_ENABLED is set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "soundmaxx",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5},
	}, []string{"method", "route"})

	JobsAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "jobs_accepted_total",
		Help:      "Total jobs accepted by tool type.",
	}, []string{"tool_type"})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "jobs_completed_total",
		Help:      "Total jobs completed by tool type and terminal status.",
	}, []string{"tool_type", "status"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "soundmaxx",
		Name:      "job_duration_seconds",
		Help:      "Execution duration in seconds of succeeded jobs, from running to succeeded.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"tool_type"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soundmaxx",
		Name:      "jobs_in_flight",
		Help:      "Number of jobs currently running.",
	})

	StemIsolationFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "stem_isolation_fallbacks_total",
		Help:      "Total stem isolation jobs completed via the timeout fallback path.",
	})

	MasteringEngineSelectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "mastering_engine_selected_total",
		Help:      "Total mastering jobs completed by the engine that was accepted.",
	}, []string{"engine"})

	SourceCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "source_cache_hits_total",
		Help:      "Total source cache hits.",
	})

	SourceCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "source_cache_misses_total",
		Help:      "Total source cache misses requiring a download.",
	})

	DatasetCaptureFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "dataset_capture_failures_total",
		Help:      "Total best-effort dataset ledger capture failures.",
	})

	WebhookDeliveryFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soundmaxx",
		Name:      "webhook_delivery_failures_total",
		Help:      "Total webhook delivery failures by event type.",
	}, []string{"event"})
)

// Register attaches every collector to reg. Callers typically pass
// prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		JobsAcceptedTotal,
		JobsCompletedTotal,
		JobDuration,
		JobsInFlight,
		StemIsolationFallbacksTotal,
		MasteringEngineSelectedTotal,
		SourceCacheHitsTotal,
		SourceCacheMissesTotal,
		DatasetCaptureFailuresTotal,
		WebhookDeliveryFailuresTotal,
	)
}
