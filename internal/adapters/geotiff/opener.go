package geotiff

import (
	"context"
	"fmt"
	"image"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var (
	_ output.RasterOpener = (*Opener)(nil)
	_ output.RasterSource = (*source)(nil)
)

// Opener opens staged raster uploads for ingestion.
type Opener struct{}

// NewOpener creates a new raster opener.
func NewOpener() *Opener {
	return &Opener{}
}

// OpenRaster validates that path is a readable GeoTIFF with usable
// georeferencing and returns a windowed reader over its full-resolution
// grid.
func (o *Opener) OpenRaster(ctx context.Context, path string) (output.RasterSource, error) {
	file, err := Open(path)
	if err != nil {
		return nil, err
	}

	dir := file.FullResolution()
	x0, y0, rx, ry, ok := dir.georef()
	if !ok {
		_ = file.Close()
		return nil, fmt.Errorf("source raster has no usable georeferencing: %w", domain.ErrReprojectionFailure)
	}

	return &source{file: file, dir: dir, x0: x0, y0: y0, rx: rx, ry: ry}, nil
}

// source adapts one full-resolution image directory to RasterSource.
type source struct {
	file           *File
	dir            *imageDir
	x0, y0, rx, ry float64
}

// Size implements RasterSource.
func (s *source) Size() (int, int) {
	return s.dir.Size()
}

// SRID implements RasterSource.
func (s *source) SRID() int {
	return s.dir.srid()
}

// Georef implements RasterSource.
func (s *source) Georef() (float64, float64, float64, float64) {
	return s.x0, s.y0, s.rx, s.ry
}

// ReadWindow implements RasterSource.
func (s *source) ReadWindow(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error) {
	return s.dir.readWindow(ctx, rect)
}

// Close implements RasterSource.
func (s *source) Close() error {
	return s.file.Close()
}
