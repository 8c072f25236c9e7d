package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "rewrite_jobs_submitted_total", Help: "Batch jobs accepted"})
	JobsFinished     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rewrite_jobs_finished_total", Help: "Batch jobs reaching a terminal status"}, []string{"status"})
	ItemsProcessed   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rewrite_items_processed_total", Help: "Batch items by outcome"}, []string{"outcome"})
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rewrite_provider_requests_total", Help: "Calls to rewrite providers by outcome"}, []string{"provider", "outcome"})
	ProviderLatency  = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewrite_provider_request_seconds",
		Help:    "Latency of rewrite provider calls",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
	}, []string{"provider"})
	ArmedContinuations = prometheus.NewGauge(prometheus.GaugeOpts{Name: "rewrite_continuations_armed", Help: "Jobs with a pending continuation in this process"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsFinished,
			ItemsProcessed,
			ProviderRequests,
			ProviderLatency,
			ArmedContinuations,
		)
	})
	return promhttp.Handler()
}
