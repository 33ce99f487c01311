package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// IngestService turns staged uploads into published layers. Vector
// ingestions are serialized per layer name, raster ingestions per
// upload, both failing fast when the target is already being worked on.
type IngestService struct {
	staging     output.StagingStore
	detector    output.FormatDetector
	transformer output.CoordinateTransformer
	spatial     output.SpatialStore
	repo        output.LayerRepository
	rasters     output.RasterStore
	opener      output.RasterOpener
	metrics     output.MetricsCollector
	logger      *slog.Logger
	running     *inflight
	batchSize   int
	maxBytes    int64
	timeout     time.Duration
}

// IngestConfig holds configuration for the ingestion service.
type IngestConfig struct {
	BatchSize      int           // Features per spatial store write
	MaxUploadBytes int64         // Size ceiling for staged uploads
	Timeout        time.Duration // Upper bound for a single ingestion run
}

// NewIngestService creates a new ingestion service.
func NewIngestService(
	staging output.StagingStore,
	detector output.FormatDetector,
	transformer output.CoordinateTransformer,
	spatial output.SpatialStore,
	repo output.LayerRepository,
	rasters output.RasterStore,
	opener output.RasterOpener,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg IngestConfig,
) *IngestService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}

	return &IngestService{
		staging:     staging,
		detector:    detector,
		transformer: transformer,
		spatial:     spatial,
		repo:        repo,
		rasters:     rasters,
		opener:      opener,
		metrics:     metrics,
		logger:      logger,
		running:     newInflight(),
		batchSize:   cfg.BatchSize,
		maxBytes:    cfg.MaxUploadBytes,
		timeout:     cfg.Timeout,
	}
}

// fetchUpload returns the staged upload after checking its declared
// kind and the size ceiling. The ceiling is enforced again here because
// staged files may predate a lowered limit.
func (s *IngestService) fetchUpload(ctx context.Context, uploadID string, kind domain.UploadKind) (domain.UploadRecord, error) {
	rec, err := s.staging.Get(ctx, uploadID)
	if err != nil {
		return domain.UploadRecord{}, err
	}
	if rec.Kind != kind {
		return domain.UploadRecord{}, fmt.Errorf("upload %s is declared %s, not %s: %w", uploadID, rec.Kind, kind, domain.ErrInvalidInput)
	}
	if rec.SizeBytes > s.maxBytes {
		return domain.UploadRecord{}, fmt.Errorf("upload %s exceeds %d bytes: %w", uploadID, s.maxBytes, domain.ErrUploadTooLarge)
	}
	return rec, nil
}
