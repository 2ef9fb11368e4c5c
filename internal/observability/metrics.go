package observability

import "github.com/prometheus/client_golang/prometheus"

var httpLabels = []string{"method", "route", "status"}

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querylens_http_requests_total",
		Help: "HTTP requests served, by mux pattern and status.",
	}, httpLabels)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "querylens_http_request_duration_seconds",
		Help: "HTTP request latency in seconds.",
		// /v1/ask waits on two model calls.
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
	}, httpLabels)

	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "querylens_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpRequestsInFlight)
}
