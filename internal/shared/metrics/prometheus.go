package metrics

import (
	"net/http"
	"strconv"
	"time"

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
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	recordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_records_upserted_total",
			Help: "Total number of signal records upserted",
		},
		[]string{"outcome"},
	)

	scoresComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dqi_scores_computed_total",
			Help: "Total number of DQI scores computed",
		},
		[]string{"level", "category"},
	)

	alertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Total number of alert state transitions",
		},
		[]string{"rule", "action"},
	)

	notificationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_total",
			Help: "Total number of notification egress events emitted",
		},
		[]string{"action", "severity"},
	)

	insightCacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_cache_total",
			Help: "Insight cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	insightGenDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insight_generation_duration_seconds",
			Help:    "External text-generation call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_tick_duration_seconds",
			Help:    "Duration of a full evaluation tick in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	tickEntityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evaluation_tick_entity_failures_total",
			Help: "Entities whose evaluation failed within a tick",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordUpsert records ingested signal records by outcome (inserted|updated)
func RecordUpsert(outcome string, count int) {
	recordsUpserted.WithLabelValues(outcome).Add(float64(count))
}

// RecordScoreComputed records a computed DQI score
func RecordScoreComputed(level, category string) {
	scoresComputed.WithLabelValues(level, category).Inc()
}

// RecordAlertTransition records an alert state transition
func RecordAlertTransition(rule, action string) {
	alertTransitions.WithLabelValues(rule, action).Inc()
}

// RecordNotificationEvent records an emitted notification egress event
func RecordNotificationEvent(action, severity string) {
	notificationEvents.WithLabelValues(action, severity).Inc()
}

// RecordInsightCache records an insight cache lookup outcome (hit|miss|expired)
func RecordInsightCache(outcome string) {
	insightCacheOps.WithLabelValues(outcome).Inc()
}

// RecordInsightGeneration records an external generation call duration
func RecordInsightGeneration(duration time.Duration) {
	insightGenDuration.Observe(duration.Seconds())
}

// RecordTick records the duration of a full evaluation tick
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// RecordTickEntityFailure counts an entity that failed within a tick
func RecordTickEntityFailure() {
	tickEntityFailures.Inc()
}
