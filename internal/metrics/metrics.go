// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_api_requests_total",
			Help: "Total number of forum API round trips, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	apiRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_api_request_duration_seconds",
			Help:    "Histogram of forum API round trip latencies, labeled by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rate_limited_total",
			Help: "Total number of HTTP 429 responses, labeled by endpoint.",
		},
		[]string{"endpoint"},
	)

	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_retry_exhausted_total",
			Help: "Total number of requests that ran out of retry attempts, labeled by endpoint.",
		},
		[]string{"endpoint"},
	)

	backoffDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_backoff_delay_seconds",
			Help:    "Histogram of backoff delays applied after rate-limited responses.",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128, 300},
		},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_wait_seconds",
			Help:    "Histogram of client-side request-rate limiter waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Total number of thread list pages requested, labeled by result.",
		},
		[]string{"result"},
	)

	threadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_threads_total",
			Help: "Total number of threads processed, labeled by result.",
		},
		[]string{"result"},
	)

	coursesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_courses_total",
			Help: "Total number of courses processed, labeled by result.",
		},
		[]string{"result"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Total number of harvest runs, labeled by status.",
		},
		[]string{"status"},
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
)

// Page results.
const (
	PageItems    = "items"
	PageEmpty    = "empty"
	PageCooldown = "cooldown"
	PageError    = "error"
)

// Thread results.
const (
	ThreadHarvested = "harvested"
	ThreadStubbed   = "stubbed"
	ThreadSkipped   = "skipped"
)

// Course results.
const (
	CourseOK     = "ok"
	CourseFailed = "failed"
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest records one forum API round trip.
func ObserveAPIRequest(endpoint, outcome string, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRateLimited counts an HTTP 429 response.
func ObserveRateLimited(endpoint string) {
	rateLimitedTotal.WithLabelValues(endpoint).Inc()
}

// ObserveRetryExhausted counts a request that ran out of attempts.
func ObserveRetryExhausted(endpoint string) {
	retryExhaustedTotal.WithLabelValues(endpoint).Inc()
}

// ObserveBackoff records a backoff delay.
func ObserveBackoff(delay time.Duration) {
	backoffDelaySeconds.Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a request-rate limiter wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObservePage counts a thread list page by result.
func ObservePage(result string) {
	pagesTotal.WithLabelValues(result).Inc()
}

// ObserveThread counts a processed thread by result.
func ObserveThread(result string) {
	threadsTotal.WithLabelValues(result).Inc()
}

// ObserveCourse counts a processed course by result.
func ObserveCourse(result string) {
	coursesTotal.WithLabelValues(result).Inc()
}

// ObserveRun counts a finished run by status.
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
