// Package metrics exposes Prometheus collectors for the harvesting pipeline.
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
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	fetchRetriesTotal          prometheus.Counter
	listingsTotal              *prometheus.CounterVec
	enrichRequestsTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram
	regionPagesTotal           *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	currentPage                prometheus.Gauge
	activeRegions              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of page fetch attempts, labeled by status code.",
			},
			[]string{"code"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single page fetch attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Total number of page fetch retries.",
			},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_total",
				Help: "Listings seen on index pages, labeled by province and outcome.",
			},
			[]string{"province", "outcome"},
		)

		enrichRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_enrich_requests_total",
				Help: "Total number of geodata API calls, labeled by status code.",
			},
			[]string{"code"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of waits on the shared geodata API limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		regionPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_region_pages_total",
				Help: "Region pages processed, labeled by final state.",
			},
			[]string{"state"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		)

		currentPage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_current_page",
				Help: "Page currently being harvested across regions.",
			},
		)

		activeRegions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_regions",
				Help: "Number of regions currently being processed.",
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

// ObserveFetch records one fetch attempt. A zero code with an error is a
// transport failure.
func ObserveFetch(code int, err error, duration time.Duration) {
	Init()
	label := strconv.Itoa(code)
	if code == 0 && err != nil {
		label = "error"
	}
	fetchesTotal.WithLabelValues(label).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchRetry increments the fetch retry counter.
func ObserveFetchRetry() {
	Init()
	fetchRetriesTotal.Inc()
}

// ObserveListings adds n listings for province with the given outcome
// (stored, duplicate, failed).
func ObserveListings(province, outcome string, n int) {
	if n <= 0 {
		return
	}
	Init()
	listingsTotal.WithLabelValues(province, outcome).Add(float64(n))
}

// ObserveEnrichRequest records one geodata API call.
func ObserveEnrichRequest(code int) {
	Init()
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	enrichRequestsTotal.WithLabelValues(label).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveRegionPage counts a processed region page by final state.
func ObserveRegionPage(state string) {
	Init()
	regionPagesTotal.WithLabelValues(state).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetCurrentPage publishes the progress cursor.
func SetCurrentPage(page int) {
	Init()
	currentPage.Set(float64(page))
}

// IncActiveRegions increments the active regions gauge.
func IncActiveRegions() {
	Init()
	activeRegions.Inc()
}

// DecActiveRegions decrements the active regions gauge.
func DecActiveRegions() {
	Init()
	activeRegions.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
