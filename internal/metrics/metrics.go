// Package metrics exposes Prometheus collectors for the scholar crawler.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	captchasTotal              prometheus.Counter
	rotationsTotal             *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeRuns                 prometheus.Gauge
	pacingDelaySeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_fetch_attempts_total",
				Help: "Fetch attempts, labeled by classification.",
			},
			[]string{"class"},
		)

		captchasTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scholar_captchas_total",
				Help: "Block or captcha pages encountered.",
			},
		)

		rotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_identity_rotations_total",
				Help: "Identity rotations requested, labeled by result.",
			},
			[]string{"result"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_records_total",
				Help: "Records extracted, labeled by collection.",
			},
			[]string{"collection"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scholar_runs_total",
				Help: "Finished extraction runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scholar_run_duration_seconds",
				Help:    "Wall-clock duration of extraction runs.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 900},
			},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scholar_active_runs",
				Help: "Number of extraction runs currently executing.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scholar_pacing_delay_seconds",
				Help:    "Time spent waiting on the request pacer.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt.
func ObserveFetchAttempt(class string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(class).Inc()
}

// ObserveCaptcha counts one detected block page.
func ObserveCaptcha() {
	Init()
	captchasTotal.Inc()
}

// ObserveRotation counts one identity rotation by result ("ok" or "error").
func ObserveRotation(result string) {
	Init()
	rotationsTotal.WithLabelValues(result).Inc()
}

// ObserveRecords adds n records to the collection counter.
func ObserveRecords(collection string, n int) {
	Init()
	if n > 0 {
		recordsTotal.WithLabelValues(collection).Add(float64(n))
	}
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObservePacingDelay records the duration of a pacer wait.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
