package application

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// TileService serves vector tiles through the backend proxy and renders
// raster tiles from stored assets.
type TileService struct {
	repo    output.LayerRepository
	backend output.TileBackend
	rasters output.RasterStore
	metrics output.MetricsCollector
	logger  *slog.Logger

	emptyOnce sync.Once
	emptyTile []byte
	emptyErr  error
}

// NewTileService creates a new tile service.
func NewTileService(
	repo output.LayerRepository,
	backend output.TileBackend,
	rasters output.RasterStore,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *TileService {
	return &TileService{
		repo:    repo,
		backend: backend,
		rasters: rasters,
		metrics: metrics,
		logger:  logger,
	}
}

// VectorTile returns one vector tile of a published vector layer, body
// and content type passed through from the backend untouched.
func (s *TileService) VectorTile(ctx context.Context, layerName string, tile domain.Tile) ([]byte, string, error) {
	start := time.Now()

	data, contentType, err := s.vectorTile(ctx, layerName, tile)
	s.metrics.IncTileCount("vector", err == nil)
	s.metrics.ObserveTileDuration("vector", time.Since(start))
	if err != nil {
		s.logger.Debug("vector tile failed",
			"layer", layerName,
			"z", tile.Z, "x", tile.X, "y", tile.Y,
			"error", err)
		return nil, "", err
	}
	return data, contentType, nil
}

func (s *TileService) vectorTile(ctx context.Context, layerName string, tile domain.Tile) ([]byte, string, error) {
	if !tile.IsValid() {
		return nil, "", fmt.Errorf("no tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, domain.ErrInvalidInput)
	}

	meta, err := s.repo.GetByName(ctx, layerName)
	if err != nil {
		return nil, "", err
	}
	if !meta.Provider.IsVector() {
		// Raster layers are addressed by id on the raster endpoint.
		return nil, "", fmt.Errorf("layer %s is not a vector layer: %w", layerName, domain.ErrLayerNotFound)
	}
	if s.backend == nil {
		return nil, "", fmt.Errorf("no tile backend configured: %w", domain.ErrUnavailable)
	}

	data, contentType, err := s.backend.FetchTile(ctx, layerName, tile)
	if err != nil {
		return nil, "", &domain.TileError{Layer: layerName, Z: tile.Z, X: tile.X, Y: tile.Y, Err: err}
	}
	return data, contentType, nil
}

// RasterTile renders one raster tile of a published raster layer as a
// PNG. Tiles outside the asset extent come back fully transparent.
func (s *TileService) RasterTile(ctx context.Context, layerID string, tile domain.Tile) ([]byte, error) {
	start := time.Now()

	data, err := s.rasterTile(ctx, layerID, tile)
	s.metrics.IncTileCount("raster", err == nil)
	s.metrics.ObserveTileDuration("raster", time.Since(start))
	if err != nil {
		s.logger.Debug("raster tile failed",
			"layer_id", layerID,
			"z", tile.Z, "x", tile.X, "y", tile.Y,
			"error", err)
		return nil, err
	}
	return data, nil
}

func (s *TileService) rasterTile(ctx context.Context, layerID string, tile domain.Tile) ([]byte, error) {
	if !tile.IsValid() {
		return nil, fmt.Errorf("no tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, domain.ErrInvalidInput)
	}

	meta, err := s.repo.Get(ctx, layerID)
	if err != nil {
		return nil, err
	}
	if meta.Provider != domain.ProviderCOG {
		return nil, fmt.Errorf("layer %s is not a stored raster layer: %w", layerID, domain.ErrLayerNotFound)
	}

	// Cheap reject from stored metadata before touching the asset.
	tileExt := tile.Extent()
	if meta.HasBBox() && !meta.BBox.Intersects(tileExt) {
		return s.emptyPNG()
	}

	reader, err := s.rasters.Open(ctx, meta.Locator)
	if err != nil {
		return nil, &domain.TileError{Layer: layerID, Z: tile.Z, X: tile.X, Y: tile.Y, Err: err}
	}
	defer func() { _ = reader.Close() }()

	img, err := renderRasterTile(ctx, reader, tileExt, tile.Resolution())
	if err != nil {
		return nil, &domain.TileError{Layer: layerID, Z: tile.Z, X: tile.X, Y: tile.Y, Err: err}
	}
	if img == nil {
		return s.emptyPNG()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &domain.TileError{Layer: layerID, Z: tile.Z, X: tile.X, Y: tile.Y, Err: err}
	}
	return buf.Bytes(), nil
}

// renderRasterTile resamples the asset window covering the tile extent
// to the fixed tile size. A nil image means the tile lies entirely
// outside the asset.
func renderRasterTile(ctx context.Context, reader output.RasterReader, tileExt domain.Extent, res float64) (*image.NRGBA, error) {
	grid := reader.Grid()
	if !grid.Extent.Intersects(tileExt) {
		return nil, nil
	}

	level := pickLevel(reader.Levels(), res)
	lvl := reader.Levels()[level]
	lvlResX := grid.Extent.Width() / float64(lvl.Width)
	lvlResY := grid.Extent.Height() / float64(lvl.Height)

	// Tile corners in level pixel coordinates.
	minFX := (tileExt.MinX - grid.Extent.MinX) / lvlResX
	maxFX := (tileExt.MaxX - grid.Extent.MinX) / lvlResX
	minFY := (grid.Extent.MaxY - tileExt.MaxY) / lvlResY
	maxFY := (grid.Extent.MaxY - tileExt.MinY) / lvlResY

	window := image.Rect(
		int(math.Floor(minFX))-1, int(math.Floor(minFY))-1,
		int(math.Ceil(maxFX))+2, int(math.Ceil(maxFY))+2,
	).Intersect(image.Rect(0, 0, lvl.Width, lvl.Height))
	if window.Empty() {
		return nil, nil
	}

	win, err := reader.ReadWindow(ctx, level, window)
	if err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, domain.TileSize, domain.TileSize))
	for py := 0; py < domain.TileSize; py++ {
		ty := tileExt.MaxY - (float64(py)+0.5)*res
		fy := (grid.Extent.MaxY - ty) / lvlResY
		for px := 0; px < domain.TileSize; px++ {
			tx := tileExt.MinX + (float64(px)+0.5)*res
			fx := (tx - grid.Extent.MinX) / lvlResX
			out.SetNRGBA(px, py, sampleBilinear(win, fx, fy))
		}
	}
	return out, nil
}

// pickLevel returns the index of the coarsest level that still meets
// the wanted resolution. Levels are ordered finest first.
func pickLevel(levels []output.RasterLevel, want float64) int {
	best := 0
	for i, lvl := range levels {
		if lvl.Resolution <= want {
			best = i
		}
	}
	return best
}

// emptyPNG returns the shared fully transparent tile.
func (s *TileService) emptyPNG() ([]byte, error) {
	s.emptyOnce.Do(func() {
		img := image.NewNRGBA(image.Rect(0, 0, domain.TileSize, domain.TileSize))
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			s.emptyErr = err
			return
		}
		s.emptyTile = buf.Bytes()
	})
	if s.emptyErr != nil {
		return nil, s.emptyErr
	}
	return s.emptyTile, nil
}
