// Package metrics declares the Prometheus collectors exposed by the service
// and the middleware that records HTTP RED metrics, following the same
// promauto-registered package-level collector pattern used throughout the
// rest of this module's dependency corpus.
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
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragctl_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragctl_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragctl_http_requests_in_flight",
			Help: "Number of HTTP requests currently being handled.",
		},
	)

	SourceUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragctl_source_uploads_total",
			Help: "Source uploads, by source type and final status.",
		},
		[]string{"source_type", "status"},
	)

	PiecesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragctl_pieces_ingested_total",
			Help: "Information pieces written to the vector store.",
		},
		[]string{"source_type"},
	)

	CollectionSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ragctl_collection_switches_total",
			Help: "Number of times the production alias was repointed at a new collection.",
		},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragctl_retrieval_duration_seconds",
			Help:    "Wall-clock time to run all configured quarks and expand neighbors.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// Handler serves the process's registered collectors in the Prometheus text
// exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter captures the status code written by a downstream handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// HTTPMiddleware instruments every request with request-count, in-flight and
// duration metrics, keyed by method, route pattern and final status code.
func HTTPMiddleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			HTTPRequestsInFlight.Inc()
			defer HTTPRequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}
			status := strconv.Itoa(wrapped.Status())
			HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
