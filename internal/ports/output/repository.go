// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// LayerRepository defines the secondary port for layer metadata access.
// It is the single source of truth mapping layer identities to storage.
type LayerRepository interface {
	// List returns all layers ordered by creation time ascending.
	List(ctx context.Context) ([]domain.LayerMetadata, error)

	// Get returns a layer by its id.
	Get(ctx context.Context, id string) (*domain.LayerMetadata, error)

	// GetByName returns a layer by its name.
	GetByName(ctx context.Context, name string) (*domain.LayerMetadata, error)

	// Create commits a new metadata record. Fails with
	// domain.ErrDuplicateLayerName when the name is taken by an active
	// vector layer.
	Create(ctx context.Context, meta domain.LayerMetadata) error

	// BBox returns the stored bounding box of a layer.
	BBox(ctx context.Context, id string) (*domain.Extent, error)

	// Count returns the number of active layers.
	Count(ctx context.Context) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
