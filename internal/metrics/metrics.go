package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_questions_total",
			Help: "Total number of analyze requests by intent and outcome",
		},
		[]string{"intent", "outcome"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_cache_lookups_total",
			Help: "Answer cache lookups by result",
		},
		[]string{"result"},
	)

	ExecutionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_execution_attempts_total",
			Help: "Remote query attempts by path and error kind (ok on success)",
		},
		[]string{"path", "kind"},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_fallbacks_total",
			Help: "Executions that switched to the general-purpose query endpoint",
		},
	)

	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_validation_failures_total",
			Help: "Generated queries rejected by static validation, by violation code",
		},
		[]string{"code"},
	)

	FormatterDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_formatter_degraded_total",
			Help: "Answers produced by the template formatter because language generation was unavailable",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopify_analytics_agent_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopify_analytics_agent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopify_analytics_agent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveStage records the time since start under stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. Paths
// outside routes are labelled "other" to bound cardinality.
func Middleware(routes ...string) func(http.Handler) http.Handler {
	known := make(map[string]bool, len(routes))
	for _, r := range routes {
		known[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if !known[path] {
				path = "other"
			}
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
