package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Analysis metrics
	analysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "body_impact_runs_total",
			Help: "Total number of body impact analysis runs by outcome",
		},
		[]string{"outcome"},
	)

	analysisRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "body_impact_run_duration_seconds",
			Help:    "Body impact analysis run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	reportsScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "body_impact_reports_total",
			Help: "Reports considered for extraction, by result",
		},
		[]string{"result"},
	)

	extractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_failures_total",
			Help: "Total number of per-file extraction failures",
		},
		[]string{"stage"},
	)

	modelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"kind", "status"},
	)

	modelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pattern_cache_lookups_total",
			Help: "Re-scan guard lookups by result (hit, stale, miss, error)",
		},
		[]string{"result"},
	)

	unmappedMentions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "body_impact_unmapped_mentions_total",
			Help: "Body part mentions that matched no region",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request count, latency and in-flight requests.
// The route template is used as the path label to keep cardinality bounded.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// --- Analysis metric helpers ---

// RecordAnalysisRun records one finished orchestrator run
func RecordAnalysisRun(outcome string, duration time.Duration) {
	analysisRunsTotal.WithLabelValues(outcome).Inc()
	analysisRunDuration.Observe(duration.Seconds())
}

// RecordReports adds n reports with the given result (scanned, skipped, failed)
func RecordReports(result string, n int) {
	if n > 0 {
		reportsScanned.WithLabelValues(result).Add(float64(n))
	}
}

// RecordExtractionFailure records a failed extraction stage (fetch, transcribe, structure)
func RecordExtractionFailure(stage string) {
	extractionFailures.WithLabelValues(stage).Inc()
}

// RecordModelCall records a language model call
func RecordModelCall(kind string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	modelCallsTotal.WithLabelValues(kind, status).Inc()
	modelCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordUnmapped records mentions dropped by the region mapper
func RecordUnmapped(n int) {
	if n > 0 {
		unmappedMentions.Add(float64(n))
	}
}

// RecordCacheLookup records one re-scan guard lookup
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}
