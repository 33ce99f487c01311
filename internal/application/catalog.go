package application

import (
	"context"
	"log/slog"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// CatalogService answers layer discovery queries from the metadata
// repository.
type CatalogService struct {
	repo    output.LayerRepository
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(repo output.LayerRepository, metrics output.MetricsCollector, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
	}
}

// ListLayers returns all published layers ordered by creation time.
func (s *CatalogService) ListLayers(ctx context.Context) ([]domain.LayerMetadata, error) {
	layers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetLayersActive(len(layers))
	return layers, nil
}

// GetLayer returns a specific layer by ID.
func (s *CatalogService) GetLayer(ctx context.Context, id string) (*domain.LayerMetadata, error) {
	return s.repo.Get(ctx, id)
}

// GetLayerBBox returns the bounding box of a layer, nil when the layer
// is empty.
func (s *CatalogService) GetLayerBBox(ctx context.Context, id string) (*domain.Extent, error) {
	return s.repo.BBox(ctx, id)
}
