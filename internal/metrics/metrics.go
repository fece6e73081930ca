// Package metrics exposes Prometheus collectors for crawls.
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
	pagesTotal                 *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	artifactsTotal             *prometheus.CounterVec
	artifactBytesTotal         *prometheus.CounterVec
	retriesTotal               prometheus.Counter
	budgetCount                *prometheus.GaugeVec
	budgetLimit                *prometheus.GaugeVec
	activeWorkers              prometheus.Gauge
	crawlState                 *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Page outcomes used as the "outcome" label.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRetried   = "retried"
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextractor_pages_total",
				Help: "Pages handled, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextractor_render_duration_seconds",
				Help:    "Time spent rendering a page, labeled by backend.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		)

		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextractor_artifacts_total",
				Help: "Artifacts persisted, labeled by kind.",
			},
			[]string{"kind"},
		)

		artifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contextractor_artifact_bytes_total",
				Help: "Bytes persisted, labeled by kind.",
			},
			[]string{"kind"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contextractor_retries_total",
				Help: "Render attempts that were scheduled again.",
			},
		)

		budgetCount = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "contextractor_budget_count",
				Help: "Current value of each crawl budget counter.",
			},
			[]string{"budget"},
		)

		budgetLimit = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "contextractor_budget_limit",
				Help: "Configured maximum of each crawl budget, 0 when unlimited.",
			},
			[]string{"budget"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "contextractor_active_workers",
				Help: "Workers currently processing a page.",
			},
		)

		crawlState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "contextractor_crawl_state",
				Help: "1 for the state the current crawl is in, 0 otherwise.",
			},
			[]string{"state"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contextractor_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObservePage counts one page outcome.
func ObservePage(pageURL, outcome string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(pageURL), outcome).Inc()
}

// ObserveRender records how long a render took.
func ObserveRender(backend string, d time.Duration) {
	Init()
	renderDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveArtifact counts one persisted artifact and its size.
func ObserveArtifact(kind string, size int) {
	Init()
	artifactsTotal.WithLabelValues(kind).Inc()
	if size > 0 {
		artifactBytesTotal.WithLabelValues(kind).Add(float64(size))
	}
}

// ObserveRetry counts a rescheduled render attempt.
func ObserveRetry() {
	Init()
	retriesTotal.Inc()
}

// SetBudget publishes a budget's limit and current count.
func SetBudget(name string, count, limit int64) {
	Init()
	budgetCount.WithLabelValues(name).Set(float64(count))
	budgetLimit.WithLabelValues(name).Set(float64(limit))
}

// SetCrawlState marks state as the current crawl state.
func SetCrawlState(state string, all []string) {
	Init()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		crawlState.WithLabelValues(s).Set(v)
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
