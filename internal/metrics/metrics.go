// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperFetchesTotal          *prometheus.CounterVec
	scraperFetchRetriesTotal     *prometheus.CounterVec
	scraperExtractionBytesTotal  *prometheus.CounterVec
	scraperJobsTotal             *prometheus.CounterVec
	scraperActiveWorkers         prometheus.Gauge
	scraperRateLimitWaitSeconds  prometheus.Histogram
	scraperArchiveEntries        prometheus.Histogram
	scraperJobDurationSeconds    prometheus.Histogram
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	scraperHeadlessPromotedTotal prometheus.Counter

	once sync.Once
)

// Init registers the Prometheus collectors with the default registry.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		scraperFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetches_total",
				Help: "Terminal fetch outcomes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperFetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Retries issued against the extraction service, labeled by reason.",
			},
			[]string{"reason"},
		)

		scraperExtractionBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_extraction_bytes_total",
				Help: "Bytes of accepted extracted content, labeled by site.",
			},
			[]string{"site"},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Crawl jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently running a crawl.",
			},
		)

		scraperRateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_wait_seconds",
				Help:    "Time spent waiting for the extraction rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
		)

		scraperArchiveEntries = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_archive_entries",
				Help:    "Number of documents written per archive.",
				Buckets: prometheus.LinearBuckets(0, 10, 10),
			},
		)

		scraperJobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_job_duration_seconds",
				Help:    "Wall time of complete crawl jobs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
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

		scraperHeadlessPromotedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_headless_promotions_total",
				Help: "Seed pages re-rendered with headless Chrome for link discovery.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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
	Init()
	return promhttp.Handler()
}

// ObserveFetch records a terminal fetch outcome and, for accepted content, its size.
func ObserveFetch(site, outcome string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	scraperFetchesTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		scraperExtractionBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retry against the extraction service.
func ObserveRetry(reason string) {
	Init()
	scraperFetchRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveJob increments the job counter for the given status and records its duration.
func ObserveJob(status string, duration time.Duration) {
	Init()
	scraperJobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		scraperJobDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveArchive records the number of documents in a finished archive.
func ObserveArchive(entries int) {
	Init()
	scraperArchiveEntries.Observe(float64(entries))
}

// ObserveHeadlessPromotion counts a seed that was re-rendered in a browser.
func ObserveHeadlessPromotion() {
	Init()
	scraperHeadlessPromotedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scraperActiveWorkers.Dec()
}

// ObserveRateLimitWait records how long a caller waited for limiter admission.
func ObserveRateLimitWait(duration time.Duration) {
	Init()
	scraperRateLimitWaitSeconds.Observe(duration.Seconds())
}
