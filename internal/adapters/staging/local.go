// Package staging provides staged upload storage adapters.
package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.StagingStore = (*LocalStaging)(nil)

// LocalStaging implements StagingStore on the local filesystem. Staged
// uploads live as flat files under basePath, named by their encoded key.
type LocalStaging struct {
	basePath string
	maxBytes int64
}

// NewLocalStaging creates a new local staging adapter.
func NewLocalStaging(basePath string, maxBytes int64) (*LocalStaging, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, &domain.StorageError{Operation: "init", Key: basePath, Err: err}
	}
	return &LocalStaging{basePath: basePath, maxBytes: maxBytes}, nil
}

// Stage writes the stream to a partial file and renames it into place once
// it is complete, so a crash never leaves a readable half-written upload.
func (s *LocalStaging) Stage(ctx context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error) {
	rec := newRecord(filename, kind)
	rec.StoragePath = stagedKey(rec)

	partial := filepath.Join(s.basePath, ".partial-"+rec.ID)
	f, err := os.Create(partial) //#nosec G304 -- partial is a controlled local path
	if err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	written, err := copyCeiling(f, r, s.maxBytes)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(partial)
		return domain.UploadRecord{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partial)
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	if err := os.Rename(partial, s.fullPath(rec.StoragePath)); err != nil {
		_ = os.Remove(partial)
		return domain.UploadRecord{}, &domain.StorageError{Operation: "stage", Key: rec.Filename, Err: err}
	}

	rec.SizeBytes = written
	return rec, nil
}

// Get returns the record of a staged upload.
func (s *LocalStaging) Get(ctx context.Context, id string) (domain.UploadRecord, error) {
	if !validID(id) {
		return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return domain.UploadRecord{}, &domain.StorageError{Operation: "get", Key: id, Err: err}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), id+keySeparator) {
			continue
		}
		rec, ok := parseStagedKey(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return domain.UploadRecord{}, &domain.StorageError{Operation: "get", Key: id, Err: err}
		}
		rec.SizeBytes = info.Size()
		rec.ReceivedAt = info.ModTime().UTC()
		return rec, nil
	}

	return domain.UploadRecord{}, fmt.Errorf("id %q: %w", id, domain.ErrUploadNotFound)
}

// Materialize returns the staged file's own path (no copy for local staging).
func (s *LocalStaging) Materialize(ctx context.Context, id string) (string, func(), error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return s.fullPath(rec.StoragePath), func() {}, nil
}

// Remove deletes a staged upload.
func (s *LocalStaging) Remove(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(s.fullPath(rec.StoragePath)); err != nil {
		return &domain.StorageError{Operation: "remove", Key: id, Err: err}
	}
	return nil
}

// fullPath returns the full path for a key.
func (s *LocalStaging) fullPath(key string) string {
	return filepath.Join(s.basePath, key)
}
