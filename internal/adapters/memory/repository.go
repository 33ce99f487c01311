// Package memory provides an in-memory layer metadata repository for
// persistence-free runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Compile-time contract assertion ensuring the repository satisfies the port.
var _ output.LayerRepository = (*Repository)(nil)

// Repository keeps layer metadata in memory. Semantics mirror the
// PostGIS repository, vector names are unique while raster layers may
// share a name.
type Repository struct {
	mu     sync.RWMutex
	layers map[string]domain.LayerMetadata
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{layers: make(map[string]domain.LayerMetadata)}
}

// List returns all layers ordered by creation time ascending.
func (r *Repository) List(_ context.Context) ([]domain.LayerMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	layers := make([]domain.LayerMetadata, 0, len(r.layers))
	for _, meta := range r.layers {
		layers = append(layers, meta)
	}
	sort.Slice(layers, func(i, j int) bool {
		if !layers[i].CreatedAt.Equal(layers[j].CreatedAt) {
			return layers[i].CreatedAt.Before(layers[j].CreatedAt)
		}
		return layers[i].ID < layers[j].ID
	})
	return layers, nil
}

// Get returns a layer by its id.
func (r *Repository) Get(_ context.Context, id string) (*domain.LayerMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.layers[id]
	if !ok {
		return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
	}
	return &meta, nil
}

// GetByName returns a layer by its name, preferring vector layers when
// a raster layer shares the name.
func (r *Repository) GetByName(_ context.Context, name string) (*domain.LayerMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.LayerMetadata
	for id := range r.layers {
		meta := r.layers[id]
		if meta.Name != name {
			continue
		}
		if found == nil || better(&meta, found) {
			found = &meta
		}
	}
	if found == nil {
		return nil, fmt.Errorf("layer %s: %w", name, domain.ErrLayerNotFound)
	}
	return found, nil
}

// better ranks name-lookup candidates, vector first, then oldest.
func better(candidate, current *domain.LayerMetadata) bool {
	if candidate.Provider.IsVector() != current.Provider.IsVector() {
		return candidate.Provider.IsVector()
	}
	return candidate.CreatedAt.Before(current.CreatedAt)
}

// Create commits a new metadata record.
func (r *Repository) Create(_ context.Context, meta domain.LayerMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[meta.ID]; exists {
		return fmt.Errorf("layer id %s: %w", meta.ID, domain.ErrDuplicateLayerName)
	}
	if meta.Provider.IsVector() {
		for _, existing := range r.layers {
			if existing.Name == meta.Name && existing.Provider.IsVector() {
				return fmt.Errorf("layer %s: %w", meta.Name, domain.ErrDuplicateLayerName)
			}
		}
	}

	r.layers[meta.ID] = meta
	return nil
}

// BBox returns the stored bounding box of a layer.
func (r *Repository) BBox(_ context.Context, id string) (*domain.Extent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.layers[id]
	if !ok {
		return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
	}
	if meta.BBox == nil {
		return nil, nil
	}
	bbox := *meta.BBox
	return &bbox, nil
}

// Count returns the number of active layers.
func (r *Repository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers), nil
}

// Ping implements LayerRepository, memory is always reachable.
func (r *Repository) Ping(_ context.Context) error { return nil }
