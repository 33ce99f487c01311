// Package raster stores canonical raster assets on the local filesystem.
package raster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/jobrunner/stratum/internal/adapters/geotiff"
	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.RasterStore = (*Store)(nil)

// Store implements RasterStore as a directory of tiled GeoTIFF assets.
type Store struct {
	dir string
}

// NewStore creates the asset directory if needed and returns the store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, &domain.StorageError{Operation: "init", Key: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

// Write renders the asset to a partial file and renames it into place,
// so a crashed ingestion never leaves a readable half-written asset.
func (s *Store) Write(ctx context.Context, id string, grid output.RasterGrid, produce output.WindowProducer) (string, error) {
	path := filepath.Join(s.dir, id+".tif")
	partial := path + ".partial"

	f, err := os.Create(partial) //#nosec G304 -- partial is a controlled local path
	if err != nil {
		return "", s.mapWriteError(id, err)
	}

	if err := geotiff.WriteAsset(ctx, f, grid, produce); err != nil {
		_ = f.Close()
		_ = os.Remove(partial)
		return "", s.mapWriteError(id, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partial)
		return "", s.mapWriteError(id, err)
	}

	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return "", s.mapWriteError(id, err)
	}
	return path, nil
}

// Open prepares windowed reads against a stored asset. Any failure to
// open or parse the asset is a server fault.
func (s *Store) Open(ctx context.Context, locator string) (output.RasterReader, error) {
	asset, err := geotiff.OpenAsset(locator)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %v: %w", filepath.Base(locator), err, domain.ErrRasterRead)
	}
	return asset, nil
}

// Remove deletes a stored asset. Removing an already absent asset is
// not an error, the cleanup paths may race.
func (s *Store) Remove(ctx context.Context, locator string) error {
	if filepath.Dir(locator) != filepath.Clean(s.dir) {
		return &domain.StorageError{Operation: "remove", Key: locator, Err: errors.New("locator outside asset directory")}
	}
	if err := os.Remove(locator); err != nil && !os.IsNotExist(err) {
		return &domain.StorageError{Operation: "remove", Key: locator, Err: err}
	}
	return nil
}

func (s *Store) mapWriteError(id string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("asset %s: %w", id, domain.ErrInsufficientStorage)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StorageError{Operation: "write", Key: id, Err: err}
}
