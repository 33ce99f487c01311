package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncIngestCount increments the ingestion counter.
	IncIngestCount(kind string, success bool)

	// ObserveIngestDuration records ingestion duration.
	ObserveIngestDuration(kind string, duration time.Duration)

	// ObserveUploadSize records the size of a received upload.
	ObserveUploadSize(kind string, sizeBytes int64)

	// IncTileCount increments the tile request counter.
	IncTileCount(kind string, success bool)

	// ObserveTileDuration records tile serving duration.
	ObserveTileDuration(kind string, duration time.Duration)

	// SetLayersActive sets the number of published layers.
	SetLayersActive(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncIngestCount implements MetricsCollector.
func (n *NoOpMetrics) IncIngestCount(_ string, _ bool) {}

// ObserveIngestDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveIngestDuration(_ string, _ time.Duration) {}

// ObserveUploadSize implements MetricsCollector.
func (n *NoOpMetrics) ObserveUploadSize(_ string, _ int64) {}

// IncTileCount implements MetricsCollector.
func (n *NoOpMetrics) IncTileCount(_ string, _ bool) {}

// ObserveTileDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveTileDuration(_ string, _ time.Duration) {}

// SetLayersActive implements MetricsCollector.
func (n *NoOpMetrics) SetLayersActive(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
