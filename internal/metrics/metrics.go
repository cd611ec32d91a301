// Package metrics exposes Prometheus collectors for the page analyzer.
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
	sitesSubmittedTotal        *prometheus.CounterVec
	checksTotal                *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sitesSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "page_analyzer_sites_submitted_total",
				Help: "Total number of site submissions, labeled by result.",
			},
			[]string{"result"},
		)

		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "page_analyzer_checks_total",
				Help: "Total number of check attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "page_analyzer_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies for checks that received a response.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one site submission by result
// (created, existing, invalid, error).
func ObserveSubmission(result string) {
	Init()
	sitesSubmittedTotal.WithLabelValues(result).Inc()
}

// ObserveCheck counts one check attempt by outcome (2xx..5xx, failed, error).
func ObserveCheck(outcome string) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of a fetch that received a response.
func ObserveFetch(duration time.Duration) {
	Init()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
