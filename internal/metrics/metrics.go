// Package metrics exposes Prometheus collectors for the digest service.
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
	sourceFetchTotal           *prometheus.CounterVec
	sourceFetchDurationSeconds *prometheus.HistogramVec
	recordsUpsertedTotal       *prometheus.CounterVec
	fetchInFlight              prometheus.Gauge
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	deliveriesTotal            *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	archiveWritesTotal         *prometheus.CounterVec
	recordsSweptTotal          prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_source_fetch_total",
				Help: "Source fetches, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		sourceFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_source_fetch_duration_seconds",
				Help:    "Wall time spent fetching one source, retries included.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		recordsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_records_upserted_total",
				Help: "Records written to the content store, labeled by source.",
			},
			[]string{"source"},
		)

		fetchInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digest_fetch_in_flight",
				Help: "Source fetches currently admitted by the limiter.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_runs_total",
				Help: "Pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "digest_run_duration_seconds",
				Help:    "Pipeline run duration.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_deliveries_total",
				Help: "Delivery attempts, labeled by final state.",
			},
			[]string{"state"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_cache_lookups_total",
				Help: "Artifact lookups, labeled by tier and result.",
			},
			[]string{"tier", "result"},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_archive_writes_total",
				Help: "Archive persistence decisions, labeled by operation.",
			},
			[]string{"op"},
		)

		recordsSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_records_swept_total",
				Help: "Records removed by the retention sweep.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
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

// ObserveSourceFetch records one source's fetch outcome ("ok", "empty", "failed").
func ObserveSourceFetch(source, outcome string, duration time.Duration) {
	Init()
	sourceFetchTotal.WithLabelValues(source, outcome).Inc()
	sourceFetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// AddRecordsUpserted counts records written for a source.
func AddRecordsUpserted(source string, n int) {
	if n <= 0 {
		return
	}
	Init()
	recordsUpsertedTotal.WithLabelValues(source).Add(float64(n))
}

// IncFetchInFlight increments the in-flight fetch gauge.
func IncFetchInFlight() {
	Init()
	fetchInFlight.Inc()
}

// DecFetchInFlight decrements the in-flight fetch gauge.
func DecFetchInFlight() {
	Init()
	fetchInFlight.Dec()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveDelivery records the final delivery state of a run.
func ObserveDelivery(state string) {
	Init()
	deliveriesTotal.WithLabelValues(state).Inc()
}

// ObserveCacheLookup records an artifact lookup against a tier ("volatile",
// "archive") with result "hit" or "miss".
func ObserveCacheLookup(tier, result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveArchiveWrite records an archive decision ("insert", "update", "skip").
func ObserveArchiveWrite(op string) {
	Init()
	archiveWritesTotal.WithLabelValues(op).Inc()
}

// AddRecordsSwept counts records removed by retention.
func AddRecordsSwept(n int64) {
	if n <= 0 {
		return
	}
	Init()
	recordsSweptTotal.Add(float64(n))
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
