// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"io"

	"github.com/jobrunner/stratum/internal/domain"
)

// UploadIntake defines the primary port for receiving files.
type UploadIntake interface {
	// Receive stages an incoming file and returns its upload record.
	Receive(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error)
}

// IngestionService defines the primary port for turning staged uploads
// into published layers.
type IngestionService interface {
	// IngestVector transforms a staged vector upload into the canonical
	// projection and publishes it as a layer.
	IngestVector(ctx context.Context, uploadID, layerName string) (*domain.LayerMetadata, error)

	// IngestRaster transforms a staged raster upload into the canonical
	// projection and publishes it as a layer.
	IngestRaster(ctx context.Context, uploadID, layerName string) (*domain.LayerMetadata, error)
}

// LayerCatalog defines the primary port for layer discovery.
type LayerCatalog interface {
	// ListLayers returns all published layers ordered by creation time.
	ListLayers(ctx context.Context) ([]domain.LayerMetadata, error)

	// GetLayer returns a specific layer by ID.
	GetLayer(ctx context.Context, id string) (*domain.LayerMetadata, error)

	// GetLayerBBox returns the bounding box of a layer.
	GetLayerBBox(ctx context.Context, id string) (*domain.Extent, error)
}

// TileService defines the primary port for tile delivery.
type TileService interface {
	// VectorTile returns one vector tile of a published vector layer.
	VectorTile(ctx context.Context, layerName string, tile domain.Tile) (data []byte, contentType string, err error)

	// RasterTile renders one raster tile of a published raster layer
	// as PNG.
	RasterTile(ctx context.Context, layerID string, tile domain.Tile) ([]byte, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy      bool              // Overall health status
	Ready        bool              // Ready to accept requests
	LayersActive int               // Number of published layers
	Components   map[string]string // Component statuses
}
