// Package metrics exposes Prometheus collectors for the query server and the
// upstream fetchers. Extraction progress metrics live in progress/sinks.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamDurationSeconds    *prometheus.HistogramVec
	renderSlotsInUse           prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renec_http_requests_total",
				Help: "Total number of query API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "renec_http_request_duration_seconds",
				Help:    "Histogram of query API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renec_upstream_requests_total",
				Help: "Requests sent to the RENEC backend, labeled by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		)

		upstreamDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "renec_upstream_request_duration_seconds",
				Help:    "Latency of RENEC backend requests, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		renderSlotsInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "renec_render_slots_in_use",
				Help: "Headless browser tabs currently rendering a detail view.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served query API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one request to the RENEC backend. A zero code means
// the request failed before a response arrived.
func ObserveUpstream(endpoint string, code int, duration time.Duration) {
	Init()
	status := "transport_error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	upstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	upstreamDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// IncRenderSlots marks a browser tab as busy.
func IncRenderSlots() {
	Init()
	renderSlotsInUse.Inc()
}

// DecRenderSlots releases a browser tab.
func DecRenderSlots() {
	Init()
	renderSlotsInUse.Dec()
}
