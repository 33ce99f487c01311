package application

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Guards against degenerate georeferencing blowing up the output grid
// or a single source window read.
const (
	maxGridSide           = 1 << 17
	maxSourceWindowPixels = 16 << 20
)

// IngestRaster reprojects a staged raster upload onto the canonical
// grid and publishes it as a raster layer. An empty name defaults to
// the source file stem. The staged upload is removed only once the
// layer is visible.
func (s *IngestService) IngestRaster(ctx context.Context, uploadID, name string) (*domain.LayerMetadata, error) {
	start := time.Now()

	// Keyed by upload so one staged file is never consumed twice.
	if err := s.running.acquire("upload:" + uploadID); err != nil {
		return nil, err
	}
	defer s.running.release("upload:" + uploadID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	meta, err := s.ingestRaster(ctx, uploadID, name)
	s.metrics.IncIngestCount("raster", err == nil)
	s.metrics.ObserveIngestDuration("raster", time.Since(start))
	if err != nil {
		s.logger.Error("raster ingestion failed",
			"upload_id", uploadID,
			"error", err)
		return nil, err
	}

	s.logger.Info("raster layer published",
		"layer", meta.Name,
		"layer_id", meta.ID,
		"duration", time.Since(start))
	return meta, nil
}

func (s *IngestService) ingestRaster(ctx context.Context, uploadID, name string) (*domain.LayerMetadata, error) {
	rec, err := s.fetchUpload(ctx, uploadID, domain.UploadRaster)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = layerNameFromFilename(rec.Filename)
	}
	if err := domain.ValidateLayerName(name); err != nil {
		return nil, err
	}

	path, cleanup, err := s.staging.Materialize(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	src, err := s.opener.OpenRaster(ctx, path)
	if err != nil {
		return nil, &domain.IngestError{Stage: "parse", Layer: name, Err: err}
	}
	defer func() { _ = src.Close() }()

	plan, err := s.planWarp(ctx, src)
	if err != nil {
		return nil, &domain.IngestError{Stage: "transform", Layer: name, Err: err}
	}

	srcW, srcH := src.Size()
	s.logger.Debug("raster warp planned",
		"upload_id", uploadID,
		"source", fmt.Sprintf("%dx%d", srcW, srcH),
		"source_srid", src.SRID(),
		"target", fmt.Sprintf("%dx%d", plan.grid.Width, plan.grid.Height))

	id := uuid.NewString()
	locator, err := s.rasters.Write(ctx, id, plan.grid, plan.produce)
	if err != nil {
		return nil, &domain.IngestError{Stage: "write", Layer: name, Err: err}
	}

	bbox := plan.grid.Extent
	meta := domain.LayerMetadata{
		ID:           id,
		Name:         name,
		Provider:     domain.ProviderCOG,
		GeometryType: domain.GeomRaster,
		SRID:         domain.SRIDCanonical,
		BBox:         &bbox,
		Locator:      locator,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, meta); err != nil {
		if rmErr := s.rasters.Remove(context.Background(), locator); rmErr != nil {
			s.logger.Warn("raster asset not removed", "locator", locator, "error", rmErr)
		}
		return nil, err
	}

	if err := s.staging.Remove(ctx, uploadID); err != nil {
		s.logger.Warn("staged upload not removed", "upload_id", uploadID, "error", err)
	}
	return &meta, nil
}

// warp maps the canonical output grid back onto one source raster.
type warp struct {
	transformer output.CoordinateTransformer
	src         output.RasterSource
	grid        output.RasterGrid
	srcSRID     int
	x0, y0      float64
	rx, ry      float64
	srcW, srcH  int
}

// planWarp derives the canonical output grid for a source raster. The
// resolution preserves the source pixel density at the grid center.
func (s *IngestService) planWarp(ctx context.Context, src output.RasterSource) (*warp, error) {
	srcW, srcH := src.Size()
	x0, y0, rx, ry := src.Georef()
	if srcW <= 0 || srcH <= 0 || rx <= 0 || ry <= 0 {
		return nil, fmt.Errorf("unusable source grid %dx%d: %w", srcW, srcH, domain.ErrReprojectionFailure)
	}

	srcSRID := src.SRID()
	if srcSRID == 0 {
		return nil, fmt.Errorf("source declares no projection: %w", domain.ErrUnsupportedProjection)
	}
	if !s.transformer.IsSupported(srcSRID, domain.SRIDCanonical) || !s.transformer.IsSupported(domain.SRIDCanonical, srcSRID) {
		return nil, fmt.Errorf("srid %d: %w", srcSRID, domain.ErrUnsupportedProjection)
	}

	srcExt := domain.NewExtent(x0, y0-float64(srcH)*ry, x0+float64(srcW)*rx, y0, srcSRID)
	if srcSRID == domain.SRIDWGS84 {
		// The canonical plane cannot represent the polar caps, crop
		// geographic sources to the projectable band.
		band := domain.NewExtent(-180, -domain.MercatorLatMax, 180, domain.MercatorLatMax, srcSRID)
		cropped, ok := srcExt.Intersection(band)
		if !ok {
			return nil, fmt.Errorf("source lies outside the projectable latitude band: %w", domain.ErrReprojectionFailure)
		}
		srcExt = cropped
	}

	corners := [4]domain.Coordinate{
		domain.NewCoordinate(srcExt.MinX, srcExt.MaxY, srcSRID),
		domain.NewCoordinate(srcExt.MaxX, srcExt.MaxY, srcSRID),
		domain.NewCoordinate(srcExt.MinX, srcExt.MinY, srcSRID),
		domain.NewCoordinate(srcExt.MaxX, srcExt.MinY, srcSRID),
	}
	var ext domain.Extent
	for i, corner := range corners {
		c, err := s.transformer.Transform(ctx, corner, domain.SRIDCanonical)
		if err != nil {
			return nil, err
		}
		pt := domain.NewExtent(c.X, c.Y, c.X, c.Y, domain.SRIDCanonical)
		if i == 0 {
			ext = pt
			continue
		}
		ext = ext.Union(pt)
	}
	clipped, ok := ext.Intersection(domain.WebMercatorWorld())
	if !ok || clipped.Width() <= 0 || clipped.Height() <= 0 {
		return nil, fmt.Errorf("source extent maps outside the canonical plane: %w", domain.ErrReprojectionFailure)
	}

	resX, resY, err := s.probeResolution(ctx, srcExt.Center(), rx, ry)
	if err != nil {
		return nil, err
	}

	width := int(math.Ceil(clipped.Width() / resX))
	height := int(math.Ceil(clipped.Height() / resY))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width > maxGridSide || height > maxGridSide {
		return nil, fmt.Errorf("reprojected grid %dx%d exceeds limits: %w", width, height, domain.ErrReprojectionFailure)
	}

	// Grow the extent to whole pixels, anchored at the top left corner.
	clipped.MaxX = clipped.MinX + float64(width)*resX
	clipped.MinY = clipped.MaxY - float64(height)*resY

	return &warp{
		transformer: s.transformer,
		src:         src,
		grid:        output.RasterGrid{Width: width, Height: height, Extent: clipped},
		srcSRID:     srcSRID,
		x0:          x0,
		y0:          y0,
		rx:          rx,
		ry:          ry,
		srcW:        srcW,
		srcH:        srcH,
	}, nil
}

// probeResolution measures the canonical ground size of one source
// pixel around the given source position.
func (s *IngestService) probeResolution(ctx context.Context, at domain.Coordinate, rx, ry float64) (float64, float64, error) {
	p0, err := s.transformer.Transform(ctx, at, domain.SRIDCanonical)
	if err != nil {
		return 0, 0, err
	}
	px, err := s.transformer.Transform(ctx, domain.NewCoordinate(at.X+rx, at.Y, at.SRID), domain.SRIDCanonical)
	if err != nil {
		return 0, 0, err
	}
	py, err := s.transformer.Transform(ctx, domain.NewCoordinate(at.X, at.Y-ry, at.SRID), domain.SRIDCanonical)
	if err != nil {
		return 0, 0, err
	}

	resX := math.Hypot(px.X-p0.X, px.Y-p0.Y)
	resY := math.Hypot(py.X-p0.X, py.Y-p0.Y)
	if resX <= 0 || resY <= 0 ||
		math.IsInf(resX, 0) || math.IsInf(resY, 0) || math.IsNaN(resX) || math.IsNaN(resY) {
		return 0, 0, fmt.Errorf("degenerate pixel size at grid center: %w", domain.ErrReprojectionFailure)
	}
	return resX, resY, nil
}

// produce renders one window of the output grid by inverse-projecting
// every target pixel center into the source grid and sampling it
// bilinearly. Source data is read on demand, one covering window per
// output window.
func (w *warp) produce(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error) {
	out := image.NewNRGBA(rect)
	resX, resY := w.grid.ResX(), w.grid.ResY()

	type samplePos struct {
		fx, fy float64
		ok     bool
	}
	positions := make([]samplePos, rect.Dx()*rect.Dy())

	minFX, minFY := math.Inf(1), math.Inf(1)
	maxFX, maxFY := math.Inf(-1), math.Inf(-1)
	mapped := false
	for py := rect.Min.Y; py < rect.Max.Y; py++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ty := w.grid.Extent.MaxY - (float64(py)+0.5)*resY
		for px := rect.Min.X; px < rect.Max.X; px++ {
			tx := w.grid.Extent.MinX + (float64(px)+0.5)*resX
			c, err := w.transformer.Transform(ctx, domain.NewCoordinate(tx, ty, domain.SRIDCanonical), w.srcSRID)
			if err != nil {
				// Outside the source projection's domain, the pixel
				// stays transparent.
				continue
			}
			fx := (c.X - w.x0) / w.rx
			fy := (w.y0 - c.Y) / w.ry
			if math.IsNaN(fx) || math.IsNaN(fy) || math.IsInf(fx, 0) || math.IsInf(fy, 0) {
				continue
			}
			positions[(py-rect.Min.Y)*rect.Dx()+(px-rect.Min.X)] = samplePos{fx: fx, fy: fy, ok: true}
			mapped = true
			minFX, maxFX = math.Min(minFX, fx), math.Max(maxFX, fx)
			minFY, maxFY = math.Min(minFY, fy), math.Max(maxFY, fy)
		}
	}
	if !mapped {
		return out, nil
	}

	srcRect := image.Rect(
		int(math.Floor(minFX))-1, int(math.Floor(minFY))-1,
		int(math.Ceil(maxFX))+2, int(math.Ceil(maxFY))+2,
	).Intersect(image.Rect(0, 0, w.srcW, w.srcH))
	if srcRect.Empty() {
		return out, nil
	}
	if srcRect.Dx()*srcRect.Dy() > maxSourceWindowPixels {
		return nil, fmt.Errorf("source window %dx%d too large: %w", srcRect.Dx(), srcRect.Dy(), domain.ErrReprojectionFailure)
	}

	win, err := w.src.ReadWindow(ctx, srcRect)
	if err != nil {
		return nil, err
	}

	for py := rect.Min.Y; py < rect.Max.Y; py++ {
		for px := rect.Min.X; px < rect.Max.X; px++ {
			p := positions[(py-rect.Min.Y)*rect.Dx()+(px-rect.Min.X)]
			if !p.ok {
				continue
			}
			out.SetNRGBA(px, py, sampleBilinear(win, p.fx, p.fy))
		}
	}
	return out, nil
}

// layerNameFromFilename derives a usable layer name from an upload
// filename.
func layerNameFromFilename(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, stem)

	if name == "" {
		name = "layer"
	}
	if first := name[0]; !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z') {
		name = "layer_" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}
