package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// SpatialStore defines the secondary port for durable vector feature
// storage. Writes happen against a staging table that is swapped into
// place only when the whole ingestion succeeded, so readers never see a
// partially written layer.
type SpatialStore interface {
	// StageLayer creates an empty staging table for the layer and
	// returns a writer for it. A leftover staging table from an
	// earlier crashed run is replaced.
	StageLayer(ctx context.Context, name string, geomType domain.GeometryType) (FeatureBatch, error)

	// PublishLayer atomically swaps the staging table into its final
	// place and commits the metadata record in the same transaction.
	// Fails with domain.ErrDuplicateLayerName when the name is taken.
	PublishLayer(ctx context.Context, name string, meta domain.LayerMetadata) error

	// DiscardLayer drops the staging table after a failed ingestion.
	DiscardLayer(ctx context.Context, name string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// FeatureBatch writes features into one staging table.
type FeatureBatch interface {
	// Write appends features. Geometries must already be in the
	// canonical projection.
	Write(ctx context.Context, features []domain.Feature) error

	// Close flushes pending writes, builds the spatial index and
	// returns the union extent of everything written, nil when the
	// layer is empty.
	Close(ctx context.Context) (*domain.Extent, error)
}
