package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrUploadNotFound          = fmt.Errorf("upload: %w", ErrNotFound)
	ErrLayerNotFound           = fmt.Errorf("layer: %w", ErrNotFound)
	ErrUnsupportedFormat       = fmt.Errorf("format: %w", ErrUnsupported)
	ErrUnsupportedRasterFormat = fmt.Errorf("raster format: %w", ErrUnsupported)
	ErrUnsupportedProjection   = fmt.Errorf("projection: %w", ErrUnsupported)
	ErrMalformedGeometry       = fmt.Errorf("malformed geometry: %w", ErrInvalidInput)
	ErrReprojectionFailure     = fmt.Errorf("reprojection failed: %w", ErrInvalidInput)
	ErrUploadTooLarge          = fmt.Errorf("upload too large: %w", ErrInvalidInput)
	ErrDuplicateLayerName      = fmt.Errorf("duplicate layer name: %w", ErrConflict)
	ErrIngestionInProgress     = fmt.Errorf("ingestion in progress: %w", ErrConflict)
	ErrUpstreamTile            = fmt.Errorf("tile backend: %w", ErrUnavailable)
	ErrInsufficientStorage     = fmt.Errorf("insufficient storage: %w", ErrUnavailable)
	ErrRasterRead              = fmt.Errorf("raster read: %w", ErrInternal)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// IngestError represents an error during an ingestion run.
type IngestError struct {
	Stage string // Ingestion stage that failed (parse, transform, write, publish)
	Layer string // Target layer name or id
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("ingest error during %s for layer %s: %v",
			e.Stage, e.Layer, e.Err)
	}
	return fmt.Sprintf("ingest error during %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *IngestError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (stage, materialize, write, etc.)
	Key       string // Object key or path
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// TileError represents an error while serving a single tile.
type TileError struct {
	Layer string // Layer name or id
	Z     int
	X     int
	Y     int
	Err   error // Underlying error
}

// Error implements the error interface.
func (e *TileError) Error() string {
	return fmt.Sprintf("tile error for %s at %d/%d/%d: %v",
		e.Layer, e.Z, e.X, e.Y, e.Err)
}

// Unwrap returns the underlying error.
func (e *TileError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
