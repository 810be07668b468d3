// Package metrics exposes Prometheus metrics for ingestion and the query
// API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesIngested counts messages stored, by folder.
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcorpus",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total number of messages decoded and stored, by folder",
		},
		[]string{"folder"},
	)

	// IngestFailures counts recoverable and fatal failures by class.
	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcorpus",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Ingestion failures by class (decode, address, date, attachment, store)",
		},
		[]string{"class"},
	)

	// AttachmentsExtracted counts extracted attachment records.
	AttachmentsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailcorpus",
			Subsystem: "ingest",
			Name:      "attachments_total",
			Help:      "Total number of attachment records extracted",
		},
	)

	// EntitiesResolved tracks the size of the identity table after a run.
	EntitiesResolved = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailcorpus",
			Subsystem: "ingest",
			Name:      "entities",
			Help:      "Distinct entities in the identity table after the last run",
		},
	)

	// ThreadLinks tracks parent links written by the last reconstruction.
	ThreadLinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailcorpus",
			Subsystem: "thread",
			Name:      "links",
			Help:      "Parent links written by the last thread reconstruction",
		},
	)

	// IngestDuration measures phase durations in seconds.
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailcorpus",
			Subsystem: "ingest",
			Name:      "phase_duration_seconds",
			Help:      "Duration of ingestion phases",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"phase"},
	)
)

var (
	// HTTPRequestsTotal counts query API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailcorpus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures query API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailcorpus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status for labeling.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments HTTP handlers with request counters and latency
// histograms, labeled by the chi route pattern rather than the raw path so
// cardinality stays bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
