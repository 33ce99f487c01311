package output

import (
	"context"
	"io"

	"github.com/jobrunner/stratum/internal/domain"
)

// StagingStore defines the secondary port for staged upload storage.
// Uploads live here between receipt and ingestion; a failed ingestion
// leaves the staged file in place for a retry.
type StagingStore interface {
	// Stage persists an incoming file and returns its record. Fails
	// with domain.ErrUploadTooLarge when the stream exceeds the
	// configured ceiling, in which case nothing is kept.
	Stage(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error)

	// Get returns the record of a staged upload.
	Get(ctx context.Context, id string) (domain.UploadRecord, error)

	// Materialize makes the staged bytes available as a local file and
	// returns its path. cleanup releases any temporary copy; it never
	// removes the staged upload itself.
	Materialize(ctx context.Context, id string) (path string, cleanup func(), err error)

	// Remove deletes a staged upload. Called only after the upload was
	// ingested successfully.
	Remove(ctx context.Context, id string) error
}

// StagingType represents the type of staging backend.
type StagingType string

const (
	// StagingTypeLocal represents local filesystem staging.
	StagingTypeLocal StagingType = "local"
	// StagingTypeS3 represents AWS S3 staging.
	StagingTypeS3 StagingType = "s3"
	// StagingTypeAzure represents Azure Blob staging.
	StagingTypeAzure StagingType = "azure"
)
