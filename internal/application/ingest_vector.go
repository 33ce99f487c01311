package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// IngestVector transforms a staged vector upload into the canonical
// projection and publishes it under layerName. The staged upload is
// removed only once the layer is visible; after a failure it stays in
// place for a retry.
func (s *IngestService) IngestVector(ctx context.Context, uploadID, layerName string) (*domain.LayerMetadata, error) {
	start := time.Now()

	if s.spatial == nil {
		return nil, fmt.Errorf("no spatial store configured: %w", domain.ErrUnavailable)
	}
	if err := domain.ValidateLayerName(layerName); err != nil {
		return nil, err
	}
	if err := s.running.acquire("layer:" + layerName); err != nil {
		return nil, err
	}
	defer s.running.release("layer:" + layerName)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	meta, err := s.ingestVector(ctx, uploadID, layerName)
	s.metrics.IncIngestCount("vector", err == nil)
	s.metrics.ObserveIngestDuration("vector", time.Since(start))
	if err != nil {
		s.logger.Error("vector ingestion failed",
			"upload_id", uploadID,
			"layer", layerName,
			"error", err)
		return nil, err
	}

	s.logger.Info("vector layer published",
		"layer", meta.Name,
		"layer_id", meta.ID,
		"provider", meta.Provider,
		"duration", time.Since(start))
	return meta, nil
}

func (s *IngestService) ingestVector(ctx context.Context, uploadID, layerName string) (*domain.LayerMetadata, error) {
	rec, err := s.fetchUpload(ctx, uploadID, domain.UploadVector)
	if err != nil {
		return nil, err
	}

	// A name held by an active vector layer cannot be reused. This check
	// keeps the common failure cheap, publish re-checks inside its
	// transaction.
	if existing, err := s.repo.GetByName(ctx, layerName); err == nil {
		if existing.Provider.IsVector() {
			return nil, fmt.Errorf("layer %s: %w", layerName, domain.ErrDuplicateLayerName)
		}
	} else if !errors.Is(err, domain.ErrLayerNotFound) {
		return nil, err
	}

	path, cleanup, err := s.staging.Materialize(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	format, err := s.detector.DetectVector(path)
	if err != nil {
		return nil, &domain.IngestError{Stage: "classify", Layer: layerName, Err: err}
	}
	s.logger.Debug("vector upload classified",
		"upload_id", uploadID,
		"filename", rec.Filename,
		"format", string(format))

	src, err := s.detector.OpenVector(ctx, path, format)
	if err != nil {
		return nil, &domain.IngestError{Stage: "parse", Layer: layerName, Err: err}
	}
	defer func() { _ = src.Close() }()

	meta, err := s.loadVector(ctx, layerName, format, src)
	if err != nil {
		return nil, err
	}

	if err := s.staging.Remove(ctx, uploadID); err != nil {
		// The layer is already published, a leftover staged file only
		// costs space.
		s.logger.Warn("staged upload not removed", "upload_id", uploadID, "error", err)
	}
	return meta, nil
}

// loadVector streams the source through the transformer into a staging
// table and publishes it together with its metadata record.
func (s *IngestService) loadVector(ctx context.Context, layerName string, format output.VectorFormat, src output.VectorSource) (*domain.LayerMetadata, error) {
	batch, err := s.spatial.StageLayer(ctx, layerName, src.GeometryType())
	if err != nil {
		return nil, &domain.IngestError{Stage: "stage", Layer: layerName, Err: err}
	}

	published := false
	defer func() {
		if published {
			return
		}
		// The ingest ctx may already be canceled, cleanup still runs.
		if err := s.spatial.DiscardLayer(context.Background(), layerName); err != nil {
			s.logger.Warn("staging table not discarded", "layer", layerName, "error", err)
		}
	}()

	count := 0
	buf := make([]domain.Feature, 0, s.batchSize)
	for {
		feat, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.IngestError{Stage: "parse", Layer: layerName, Err: err}
		}

		geom, err := s.transformer.TransformGeometry(ctx, feat.Geometry, domain.SRIDCanonical)
		if err != nil {
			return nil, &domain.IngestError{Stage: "transform", Layer: layerName, Err: err}
		}
		feat.Geometry = geom

		buf = append(buf, feat)
		count++
		if len(buf) >= s.batchSize {
			if err := batch.Write(ctx, buf); err != nil {
				return nil, &domain.IngestError{Stage: "write", Layer: layerName, Err: err}
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := batch.Write(ctx, buf); err != nil {
			return nil, &domain.IngestError{Stage: "write", Layer: layerName, Err: err}
		}
	}

	bbox, err := batch.Close(ctx)
	if err != nil {
		return nil, &domain.IngestError{Stage: "index", Layer: layerName, Err: err}
	}

	meta := domain.LayerMetadata{
		ID:           uuid.NewString(),
		Name:         layerName,
		Provider:     format.Provider(),
		GeometryType: src.GeometryType(),
		SRID:         domain.SRIDCanonical,
		BBox:         bbox,
		Locator:      layerName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.spatial.PublishLayer(ctx, layerName, meta); err != nil {
		return nil, &domain.IngestError{Stage: "publish", Layer: layerName, Err: err}
	}
	published = true

	s.logger.Debug("features staged", "layer", layerName, "count", count)
	return &meta, nil
}
