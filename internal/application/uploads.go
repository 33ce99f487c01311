package application

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// UploadService receives incoming files and hands them to the staging
// store.
type UploadService struct {
	staging output.StagingStore
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewUploadService creates a new upload service.
func NewUploadService(staging output.StagingStore, metrics output.MetricsCollector, logger *slog.Logger) *UploadService {
	return &UploadService{
		staging: staging,
		metrics: metrics,
		logger:  logger,
	}
}

// Receive stages an incoming file and returns its upload record.
func (s *UploadService) Receive(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error) {
	if _, err := domain.ParseUploadKind(string(kind)); err != nil {
		return domain.UploadRecord{}, err
	}

	start := time.Now()
	rec, err := s.staging.Stage(ctx, filename, kind, r)
	s.metrics.IncStorageOperations("stage", err == nil)
	s.metrics.ObserveStorageDuration("stage", time.Since(start))
	if err != nil {
		s.logger.Error("staging upload failed",
			"filename", filename,
			"kind", kind,
			"error", err)
		return domain.UploadRecord{}, err
	}

	s.metrics.ObserveUploadSize(string(kind), rec.SizeBytes)
	s.logger.Info("upload staged",
		"upload_id", rec.ID,
		"filename", rec.Filename,
		"kind", rec.Kind,
		"size_bytes", rec.SizeBytes)
	return rec, nil
}
