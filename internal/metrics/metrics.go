// Package metrics provides Prometheus metrics for the Medley server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medley_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Listing metrics
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_listings_total",
			Help: "Total directory listings served",
		},
		[]string{"status"},
	)

	listingEntriesReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medley_listing_entries_returned",
			Help:    "Entries returned per listing page",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
		},
	)

	// Media delivery metrics
	mediaBytesStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medley_media_bytes_streamed_total",
			Help: "Total bytes streamed from the media endpoint",
		},
	)

	mediaDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_media_deliveries_total",
			Help: "Total media deliveries",
		},
		[]string{"kind", "status"},
	)

	imageTransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_image_transforms_total",
			Help: "Total image transforms",
		},
		[]string{"kernel", "status"},
	)

	imageTransformDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medley_image_transform_duration_seconds",
			Help:    "Image transform duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sandbox metrics
	sandboxRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medley_sandbox_rejections_total",
			Help: "Total path resolutions rejected by the sandbox",
		},
	)

	// Catalog synchronizer metrics
	syncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medley_sync_queue_depth",
			Help: "Current depth of the catalog sync queue",
		},
	)

	syncUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medley_sync_upserts_total",
			Help: "Total catalog upserts",
		},
		[]string{"result"},
	)

	syncDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medley_sync_dropped_total",
			Help: "Total sync jobs dropped because the queue was full",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medley_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medley_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordListing records a directory listing result.
func RecordListing(entries int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	listingsTotal.WithLabelValues(status).Inc()
	if success {
		listingEntriesReturned.Observe(float64(entries))
	}
}

// RecordMediaDelivery records a media delivery by classification.
func RecordMediaDelivery(kind string, bytes int64, success bool) {
	mediaBytesStreamed.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	mediaDeliveriesTotal.WithLabelValues(kind, status).Inc()
}

// RecordImageTransform records an image transform by kernel.
func RecordImageTransform(kernel string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	imageTransformsTotal.WithLabelValues(kernel, status).Inc()
	if success {
		imageTransformDuration.Observe(duration.Seconds())
	}
}

// RecordSandboxRejection records a rejected path resolution.
func RecordSandboxRejection() {
	sandboxRejectionsTotal.Inc()
}

// SetSyncQueueDepth sets the current sync queue depth.
func SetSyncQueueDepth(depth int) {
	syncQueueDepth.Set(float64(depth))
}

// RecordSyncUpsert records a catalog upsert result.
func RecordSyncUpsert(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	syncUpsertsTotal.WithLabelValues(result).Inc()
}

// RecordSyncDropped records a sync job dropped on a full queue.
func RecordSyncDropped() {
	syncDroppedTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
