package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func newTestCatalog(layers ...domain.LayerMetadata) (*CatalogService, *mockRepo) {
	repo := &mockRepo{layers: layers}
	return NewCatalogService(repo, &output.NoOpMetrics{}, testLogger()), repo
}

func TestCatalogListLayers(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestCatalog(
		domain.LayerMetadata{ID: "a", Name: "roads", Provider: domain.ProviderPostGIS, CreatedAt: base},
		domain.LayerMetadata{ID: "b", Name: "ortho", Provider: domain.ProviderCOG, CreatedAt: base.Add(time.Minute)},
	)

	layers, err := svc.ListLayers(context.Background())
	if err != nil {
		t.Fatalf("ListLayers failed: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("len(layers) = %d, want 2", len(layers))
	}
	// Repository order is creation time, the service passes it through.
	if layers[0].ID != "a" || layers[1].ID != "b" {
		t.Errorf("layer order = %q, %q, want a, b", layers[0].ID, layers[1].ID)
	}
}

func TestCatalogGetLayer(t *testing.T) {
	svc, _ := newTestCatalog(
		domain.LayerMetadata{ID: "a", Name: "roads", Provider: domain.ProviderPostGIS},
	)

	meta, err := svc.GetLayer(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetLayer failed: %v", err)
	}
	if meta.Name != "roads" {
		t.Errorf("meta.Name = %q, want %q", meta.Name, "roads")
	}

	if _, err := svc.GetLayer(context.Background(), "missing"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
}

func TestCatalogGetLayerBBox(t *testing.T) {
	ext := domain.NewExtent(1, 2, 3, 4, domain.SRIDWebMercator)
	svc, _ := newTestCatalog(
		domain.LayerMetadata{ID: "a", Name: "roads", BBox: &ext},
		domain.LayerMetadata{ID: "b", Name: "empty"},
	)

	bbox, err := svc.GetLayerBBox(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetLayerBBox failed: %v", err)
	}
	if bbox == nil || *bbox != ext {
		t.Errorf("bbox = %v, want %v", bbox, ext)
	}

	// An empty layer has no extent, which is not an error.
	bbox, err = svc.GetLayerBBox(context.Background(), "b")
	if err != nil {
		t.Fatalf("GetLayerBBox failed: %v", err)
	}
	if bbox != nil {
		t.Errorf("bbox = %v, want nil", bbox)
	}

	if _, err := svc.GetLayerBBox(context.Background(), "missing"); !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
}
