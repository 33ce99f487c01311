package domain

import (
	"fmt"
	"time"
)

// UploadKind declares what an uploaded file contains.
type UploadKind string

// Upload kinds.
const (
	UploadVector UploadKind = "vector"
	UploadRaster UploadKind = "raster"
)

// ParseUploadKind converts a caller-supplied kind string.
func ParseUploadKind(s string) (UploadKind, error) {
	switch UploadKind(s) {
	case UploadVector:
		return UploadVector, nil
	case UploadRaster:
		return UploadRaster, nil
	}
	return "", fmt.Errorf("kind %q: %w", s, ErrInvalidInput)
}

// UploadRecord describes a staged upload. It is created when the file is
// received, never mutated, and consumed by exactly one ingestion.
type UploadRecord struct {
	ID          string     // Server-generated upload identifier
	Filename    string     // Original client filename
	Kind        UploadKind // Declared kind, checked against content at ingest
	StoragePath string     // Backend-specific location of the staged bytes
	SizeBytes   int64      // Size as received
	ReceivedAt  time.Time  // Intake time
}
