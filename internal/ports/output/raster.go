package output

import (
	"context"
	"image"

	"github.com/jobrunner/stratum/internal/domain"
)

// RasterGrid describes a regular north-up pixel grid georeferenced in a
// single projection.
type RasterGrid struct {
	Width  int
	Height int
	Extent domain.Extent
}

// ResX returns the ground distance covered by one pixel horizontally.
func (g RasterGrid) ResX() float64 {
	if g.Width == 0 {
		return 0
	}
	return g.Extent.Width() / float64(g.Width)
}

// ResY returns the ground distance covered by one pixel vertically.
func (g RasterGrid) ResY() float64 {
	if g.Height == 0 {
		return 0
	}
	return g.Extent.Height() / float64(g.Height)
}

// RasterLevel describes one resolution level of a stored raster asset.
// Index 0 is the full-resolution grid, higher indexes are coarser
// overviews.
type RasterLevel struct {
	Index      int
	Width      int
	Height     int
	Resolution float64
}

// WindowProducer renders one window of the output grid. rect is given
// in pixel coordinates of the full-resolution grid.
type WindowProducer func(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error)

// RasterStore defines the secondary port for durable raster storage.
// Assets are written once during ingestion and then only read.
type RasterStore interface {
	// Write renders the given grid window by window through produce and
	// persists it together with reduced-resolution overviews. The asset
	// becomes visible under the returned locator only after it has been
	// written completely.
	Write(ctx context.Context, id string, grid RasterGrid, produce WindowProducer) (locator string, err error)

	// Open prepares windowed reads against a stored asset.
	Open(ctx context.Context, locator string) (RasterReader, error)

	// Remove deletes a stored asset.
	Remove(ctx context.Context, locator string) error
}

// RasterReader answers windowed reads against one stored raster asset.
// Readers are safe for concurrent use.
type RasterReader interface {
	// Grid returns the full-resolution grid of the asset.
	Grid() RasterGrid

	// Levels returns the available resolution levels, finest first.
	Levels() []RasterLevel

	// ReadWindow decodes the given pixel window of one level. Pixels
	// outside the grid are transparent.
	ReadWindow(ctx context.Context, level int, rect image.Rectangle) (*image.NRGBA, error)

	// Close releases the underlying file handle.
	Close() error
}

// RasterSource is a decoded view of an uploaded source raster.
type RasterSource interface {
	// Size returns the pixel dimensions of the source grid.
	Size() (width, height int)

	// SRID returns the projection the grid is georeferenced in.
	SRID() int

	// Georef returns the mapping from pixel to projected coordinates
	// for a north-up grid: x = originX + col*resX, y = originY - row*resY.
	Georef() (originX, originY, resX, resY float64)

	// ReadWindow decodes the given pixel window of the source grid.
	ReadWindow(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error)

	// Close releases the underlying file handle.
	Close() error
}

// RasterOpener opens staged raster uploads for ingestion.
type RasterOpener interface {
	// OpenRaster validates the file format and georeferencing and
	// returns a windowed reader over the source grid.
	OpenRaster(ctx context.Context, path string) (RasterSource, error)
}
