// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SendAttempts counts per-recipient delivery outcomes ("sent", "failed").
	SendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_send_attempts_total",
			Help: "Per-recipient delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
	// SkippedInvalid counts recipients dropped for failed validation.
	SkippedInvalid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_skipped_invalid_total",
			Help: "Recipients skipped because their address failed validation",
		},
	)
	// Batches counts orchestrator invocations by send mode and result.
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_batches_total",
			Help: "Send batches by mode and result",
		},
		[]string{"mode", "result"},
	)
	// BatchDuration observes wall time of one orchestrator invocation.
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_batch_duration_seconds",
			Help:    "Wall time of a send batch",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
	// TrackingEvents counts recorded engagement and feedback events by type.
	TrackingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_tracking_events_total",
			Help: "Tracking and provider feedback events by type",
		},
		[]string{"type"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SendAttempts, SkippedInvalid, Batches, BatchDuration, TrackingEvents,
		httpRequestsTotal, httpRequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
