// Package metrics exposes Prometheus collectors for the scrape pipeline.
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
	pinsSavedTotal        *prometheus.CounterVec
	scrollsTotal          *prometheus.CounterVec
	apiPagesTotal         prometheus.Counter
	downloadsTotal        *prometheus.CounterVec
	downloadRetriesTotal  prometheus.Counter
	downloadBytesTotal    prometheus.Counter
	downloadSeconds       prometheus.Histogram
	activeDownloadWorkers prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pinsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinharvest_pins_total",
				Help: "Total pins processed by the persistence layer, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scrollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinharvest_scrolls_total",
				Help: "Total scroll steps performed, labeled by acquisition phase.",
			},
			[]string{"phase"},
		)

		apiPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinharvest_api_pages_total",
				Help: "Total bookmark-paginated API pages fetched.",
			},
		)

		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinharvest_downloads_total",
				Help: "Total download task outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		downloadRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinharvest_download_retries_total",
				Help: "Total retried URL attempts across all download tasks.",
			},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinharvest_download_bytes_total",
				Help: "Total bytes written for completed downloads.",
			},
		)

		downloadSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pinharvest_download_duration_seconds",
				Help:    "Histogram of end-to-end task durations for completed downloads.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeDownloadWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinharvest_active_download_workers",
				Help: "Number of workers currently processing a download task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinharvest_http_requests_total",
				Help: "Total debug endpoint requests, labeled by method, route and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinharvest_http_request_duration_seconds",
				Help:    "Histogram of debug endpoint request durations.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePinSaved records a persistence outcome: "saved", "duplicate", or
// "error".
func ObservePinSaved(outcome string) {
	Init()
	pinsSavedTotal.WithLabelValues(outcome).Inc()
}

// ObserveScroll records one scroll step for the given phase ("search" or
// "expansion").
func ObserveScroll(phase string) {
	Init()
	scrollsTotal.WithLabelValues(phase).Inc()
}

// ObserveAPIPage records one bookmark-paginated API page fetch.
func ObserveAPIPage() {
	Init()
	apiPagesTotal.Inc()
}

// ObserveDownload records a download task outcome: "completed", "failed", or
// "skipped".
func ObserveDownload(result string) {
	Init()
	downloadsTotal.WithLabelValues(result).Inc()
}

// ObserveDownloadRetry records one retried URL attempt.
func ObserveDownloadRetry() {
	Init()
	downloadRetriesTotal.Inc()
}

// ObserveDownloadComplete records the bytes and duration of a finished task.
func ObserveDownloadComplete(bytes int64, duration time.Duration) {
	Init()
	downloadBytesTotal.Add(float64(bytes))
	downloadSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	Init()
	activeDownloadWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	Init()
	activeDownloadWorkers.Dec()
}

// ObserveHTTPRequest records one served debug endpoint request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
