package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	WorkerBatchesTotal *prometheus.CounterVec
	StepsTotal         *prometheus.CounterVec
	RowsByAction       *prometheus.GaugeVec
	RateDeferredPosts  *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all metrics on reg; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		APIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_api_requests_total",
			Help: "Outbound provider API requests by result.",
		}, []string{"provider", "result"}), // result: success, rate_limit, auth_invalid, not_found, unknown
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_api_request_duration_seconds",
			Help:    "Duration of outbound provider API requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		WorkerBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_worker_batches_total",
			Help: "Worker batches processed by outcome.",
		}, []string{"worker", "outcome"}), // outcome: ok, halted
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_steps_total",
			Help: "Engine step invocations by resulting state.",
		}, []string{"state"}),
		RowsByAction: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audit_rows_by_action",
			Help: "Content rows of the current snapshot per recommended action.",
		}, []string{"action"}),
		RateDeferredPosts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_rate_deferred_posts_total",
			Help: "Posts deferred to a later pass because a provider rate limit halted their batch.",
		}, []string{"provider"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}
