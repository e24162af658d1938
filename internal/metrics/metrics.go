package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashback",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cashback",
			Subsystem: "chat",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Model calls by outcome
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashback",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Total chat-completion calls",
		},
		[]string{"mode", "status"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cashback",
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Chat-completion duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"mode"},
	)

	// Lead sync outcomes, labeled by audit status
	LeadSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashback",
			Subsystem: "leadsync",
			Name:      "total",
			Help:      "Total lead-sync attempts by outcome",
		},
		[]string{"status"},
	)

	LeadSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cashback",
			Subsystem: "leadsync",
			Name:      "duration_seconds",
			Help:      "Lead-sync duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// Topics detected in conversations that reached the pipeline
	TopicsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashback",
			Subsystem: "intake",
			Name:      "topics_detected_total",
			Help:      "Total topic detections",
		},
		[]string{"topic"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cashback",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of open streaming and websocket conversations",
		},
	)

	// Turns rejected by the per-visitor limiter
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashback",
			Subsystem: "chat",
			Name:      "rate_limited_total",
			Help:      "Chat turns rejected by the per-visitor rate limit",
		},
		[]string{"transport"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordModelCall records one chat-completion call.
func RecordModelCall(mode string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ModelCallsTotal.WithLabelValues(mode, status).Inc()
	ModelCallDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordLeadSync records the outcome of a lead sync.
func RecordLeadSync(status string, d time.Duration) {
	LeadSyncsTotal.WithLabelValues(status).Inc()
	LeadSyncDuration.Observe(d.Seconds())
}

// RecordTopics counts detected topic keys.
func RecordTopics(keys []string) {
	for _, k := range keys {
		TopicsDetectedTotal.WithLabelValues(k).Inc()
	}
}

// Middleware records request count and latency per chi route pattern.
// Unmatched paths share one label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
