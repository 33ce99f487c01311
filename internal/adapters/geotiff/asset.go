package geotiff

import (
	"context"
	"fmt"
	"image"
	"sort"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.RasterReader = (*Asset)(nil)

// Asset is an open stored raster asset, read level by level.
type Asset struct {
	file   *File
	grid   output.RasterGrid
	dirs   []*imageDir
	levels []output.RasterLevel
}

// OpenAsset opens a stored asset written by WriteAsset (or any tiled
// GeoTIFF following the same conventions) for windowed reads.
func OpenAsset(path string) (*Asset, error) {
	file, err := Open(path)
	if err != nil {
		return nil, err
	}

	asset, err := newAsset(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return asset, nil
}

func newAsset(file *File) (*Asset, error) {
	base := file.FullResolution()
	x0, y0, rx, ry, ok := base.georef()
	if !ok {
		return nil, fmt.Errorf("asset has no georeferencing")
	}

	w, h := base.Size()
	grid := output.RasterGrid{
		Width:  w,
		Height: h,
		Extent: domain.Extent{
			MinX: x0,
			MinY: y0 - float64(h)*ry,
			MaxX: x0 + float64(w)*rx,
			MaxY: y0,
			SRID: base.srid(),
		},
	}

	// The base level plus every overview, finest first.
	dirs := make([]*imageDir, 0, len(file.dirs))
	dirs = append(dirs, base)
	for _, d := range file.dirs {
		if d != base && d.subfileType&subfileReduced != 0 {
			dirs = append(dirs, d)
		}
	}
	sort.SliceStable(dirs[1:], func(i, j int) bool {
		return dirs[1+i].width > dirs[1+j].width
	})

	levels := make([]output.RasterLevel, len(dirs))
	for i, d := range dirs {
		levels[i] = output.RasterLevel{
			Index:      i,
			Width:      d.width,
			Height:     d.height,
			Resolution: grid.Extent.Width() / float64(d.width),
		}
	}

	return &Asset{file: file, grid: grid, dirs: dirs, levels: levels}, nil
}

// Grid implements RasterReader.
func (a *Asset) Grid() output.RasterGrid {
	return a.grid
}

// Levels implements RasterReader.
func (a *Asset) Levels() []output.RasterLevel {
	out := make([]output.RasterLevel, len(a.levels))
	copy(out, a.levels)
	return out
}

// ReadWindow implements RasterReader.
func (a *Asset) ReadWindow(ctx context.Context, level int, rect image.Rectangle) (*image.NRGBA, error) {
	if level < 0 || level >= len(a.dirs) {
		return nil, fmt.Errorf("level %d out of range [0,%d)", level, len(a.dirs))
	}
	return a.dirs[level].readWindow(ctx, rect)
}

// Close implements RasterReader.
func (a *Asset) Close() error {
	return a.file.Close()
}
