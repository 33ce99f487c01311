// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/stratum/internal/ports/output"
)

// Compile-time contract assertion ensuring the collector satisfies the port.
var _ output.MetricsCollector = (*Collector)(nil)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	ingestCounter       *prometheus.CounterVec
	ingestDuration      *prometheus.HistogramVec
	uploadSize          *prometheus.HistogramVec
	tileCounter         *prometheus.CounterVec
	tileDuration        *prometheus.HistogramVec
	layersActive        prometheus.Gauge
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "stratum"
	}

	return &Collector{
		ingestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingests_total",
				Help:      "Total number of ingestion runs",
			},
			[]string{"kind", "status"},
		),

		ingestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Ingestion run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"kind"},
		),

		uploadSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_size_bytes",
				Help:      "Size of staged uploads in bytes",
				Buckets:   prometheus.ExponentialBuckets(1<<16, 4, 10),
			},
			[]string{"kind"},
		),

		tileCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tiles_total",
				Help:      "Total number of served tiles",
			},
			[]string{"kind", "status"},
		),

		tileDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tile_duration_seconds",
				Help:      "Tile delivery duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		layersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "layers_active",
				Help:      "Number of published layers",
			},
		),

		storageOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncIngestCount increments the ingestion counter.
func (c *Collector) IncIngestCount(kind string, success bool) {
	c.ingestCounter.WithLabelValues(kind, statusLabel(success)).Inc()
}

// ObserveIngestDuration records the duration of one ingestion run.
func (c *Collector) ObserveIngestDuration(kind string, duration time.Duration) {
	c.ingestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveUploadSize records the size of a staged upload.
func (c *Collector) ObserveUploadSize(kind string, sizeBytes int64) {
	c.uploadSize.WithLabelValues(kind).Observe(float64(sizeBytes))
}

// IncTileCount increments the tile counter.
func (c *Collector) IncTileCount(kind string, success bool) {
	c.tileCounter.WithLabelValues(kind, statusLabel(success)).Inc()
}

// ObserveTileDuration records tile delivery duration.
func (c *Collector) ObserveTileDuration(kind string, duration time.Duration) {
	c.tileDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetLayersActive sets the number of published layers.
func (c *Collector) SetLayersActive(count int) {
	c.layersActive.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, statusLabel(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := statusToString(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses tile and layer addresses so the path label
// stays low-cardinality.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/tiles/vector/"):
		return "/tiles/vector/{layer}/{z}/{x}/{y}"
	case strings.HasPrefix(path, "/tiles/raster/"):
		return "/tiles/raster/{layer}/{z}/{x}/{y}"
	case strings.HasPrefix(path, "/api/v1/layers/"):
		return "/api/v1/layers/{id}"
	default:
		return path
	}
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
