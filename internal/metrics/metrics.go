// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	archiverFetchesTotal        *prometheus.CounterVec
	archiverFetchedBytesTotal   *prometheus.CounterVec
	archiverRobotsFallbackTotal prometheus.Counter
	archiverHookFailuresTotal   *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_fetches_total",
				Help: "Total number of single HTTP fetch attempts, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		archiverFetchedBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_fetched_bytes_total",
				Help: "Total number of response bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		archiverRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_robots_fallback_total",
				Help: "Total robots.txt probes that fell back to allow-all after handshake timeouts.",
			},
		)

		archiverHookFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_hook_failures_total",
				Help: "Total post-capture hook failures, labeled by hook.",
			},
			[]string{"hook"},
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

// ObserveFetch records one HTTP fetch attempt. status is a status code or "error".
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	archiverFetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		archiverFetchedBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRobotsFallback increments the robots allow-all fallback counter.
func ObserveRobotsFallback() {
	Init()
	archiverRobotsFallbackTotal.Inc()
}

// ObserveHookFailure counts a failed mirror, publish, or ledger call.
func ObserveHookFailure(hook string) {
	Init()
	archiverHookFailuresTotal.WithLabelValues(hook).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
