// Package metrics exposes the process-level Prometheus collectors of the
// crawler and the HTTP endpoint that serves them. Per-run page and fetch
// metrics are fed from progress events by sinks.PrometheusSink.
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
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerMirrorUploadsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdcrawler_http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdcrawler_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)

		crawlerMirrorUploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdcrawler_mirror_uploads_total",
				Help: "Artifacts copied to the mirror store, labeled by result.",
			},
			[]string{"result"},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveMirrorUpload counts a mirror upload attempt.
func ObserveMirrorUpload(err error) {
	Init()
	result := "success"
	if err != nil {
		result = "error"
	}
	crawlerMirrorUploadsTotal.WithLabelValues(result).Inc()
}
