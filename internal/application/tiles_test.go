package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"testing"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func newTileHarness() (*TileService, *mockRepo, *mockBackend, *mockRasterStore) {
	repo := &mockRepo{}
	backend := &mockBackend{}
	store := newMockRasterStore()
	svc := NewTileService(repo, backend, store, &output.NoOpMetrics{}, testLogger())
	return svc, repo, backend, store
}

func decodeTile(t *testing.T, data []byte) func(x, y int) color.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != domain.TileSize || b.Dy() != domain.TileSize {
		t.Fatalf("tile is %dx%d, want %dx%d", b.Dx(), b.Dy(), domain.TileSize, domain.TileSize)
	}
	return func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	}
}

func TestVectorTileProxies(t *testing.T) {
	svc, repo, backend, _ := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "l1", Name: "roads", Provider: domain.ProviderPostGIS},
	}
	backend.data = []byte{0x1a, 0x05, 0x72, 0x6f, 0x61}
	backend.contentType = "application/x-protobuf"

	tile := domain.Tile{Z: 3, X: 4, Y: 2}
	data, contentType, err := svc.VectorTile(context.Background(), "roads", tile)
	if err != nil {
		t.Fatalf("VectorTile failed: %v", err)
	}
	if !bytes.Equal(data, backend.data) {
		t.Errorf("data = %v, want backend payload", data)
	}
	if contentType != "application/x-protobuf" {
		t.Errorf("contentType = %q, want %q", contentType, "application/x-protobuf")
	}
	if backend.lastLayer != "roads" {
		t.Errorf("backend.lastLayer = %q, want %q", backend.lastLayer, "roads")
	}
	if backend.lastTile != tile {
		t.Errorf("backend.lastTile = %v, want %v", backend.lastTile, tile)
	}
}

func TestVectorTileUnknownLayer(t *testing.T) {
	svc, _, _, _ := newTileHarness()

	_, _, err := svc.VectorTile(context.Background(), "roads", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
}

func TestVectorTileRasterLayer(t *testing.T) {
	svc, repo, backend, _ := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "r1", Name: "ortho", Provider: domain.ProviderCOG},
	}

	_, _, err := svc.VectorTile(context.Background(), "ortho", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
	if backend.lastLayer != "" {
		t.Error("raster layer request must not reach the backend")
	}
}

func TestVectorTileInvalidAddress(t *testing.T) {
	svc, repo, backend, _ := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "l1", Name: "roads", Provider: domain.ProviderPostGIS},
	}

	for _, tile := range []domain.Tile{
		{Z: 1, X: 5, Y: 0},
		{Z: 1, X: 0, Y: -1},
		{Z: -1, X: 0, Y: 0},
		{Z: domain.MaxTileZoom + 1, X: 0, Y: 0},
	} {
		_, _, err := svc.VectorTile(context.Background(), "roads", tile)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("VectorTile(%v) = %v, want %v", tile, err, domain.ErrInvalidInput)
		}
	}
	if backend.lastLayer != "" {
		t.Error("invalid addresses must not reach the backend")
	}
}

func TestVectorTileNoBackend(t *testing.T) {
	repo := &mockRepo{layers: []domain.LayerMetadata{
		{ID: "l1", Name: "roads", Provider: domain.ProviderPostGIS},
	}}
	svc := NewTileService(repo, nil, newMockRasterStore(), &output.NoOpMetrics{}, testLogger())

	_, _, err := svc.VectorTile(context.Background(), "roads", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("err = %v, want %v", err, domain.ErrUnavailable)
	}
}

func TestVectorTileUpstreamFailure(t *testing.T) {
	svc, repo, backend, _ := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "l1", Name: "roads", Provider: domain.ProviderPostGIS},
	}
	backend.err = fmt.Errorf("status 502: %w", domain.ErrUpstreamTile)

	_, _, err := svc.VectorTile(context.Background(), "roads", domain.Tile{Z: 3, X: 4, Y: 2})
	if !errors.Is(err, domain.ErrUpstreamTile) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUpstreamTile)
	}
	var terr *domain.TileError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TileError", err)
	}
	if terr.Z != 3 || terr.X != 4 || terr.Y != 2 {
		t.Errorf("TileError coords = %d/%d/%d, want 3/4/2", terr.Z, terr.X, terr.Y)
	}
}

// quadrantAsset seeds a raster layer covering the north-east quadrant
// of the canonical plane, with the given overview levels.
func quadrantAsset(repo *mockRepo, store *mockRasterStore, fill color.NRGBA, overviews bool) domain.Extent {
	ext := domain.NewExtent(0, 0, domain.WebMercatorMax, domain.WebMercatorMax, domain.SRIDWebMercator)
	grid := output.RasterGrid{Width: 1024, Height: 1024, Extent: ext}
	reader := &mockRasterReader{grid: grid, fill: fill}
	if overviews {
		res := grid.ResX()
		reader.levels = []output.RasterLevel{
			{Index: 0, Width: 1024, Height: 1024, Resolution: res},
			{Index: 1, Width: 512, Height: 512, Resolution: res * 2},
			{Index: 2, Width: 256, Height: 256, Resolution: res * 4},
		}
	}
	store.reader = reader
	repo.layers = append(repo.layers, domain.LayerMetadata{
		ID:       "r1",
		Name:     "ortho",
		Provider: domain.ProviderCOG,
		SRID:     domain.SRIDCanonical,
		BBox:     &ext,
		Locator:  "assets/r1.tif",
	})
	return ext
}

func TestRasterTileRenders(t *testing.T) {
	svc, repo, _, store := newTileHarness()
	fill := color.NRGBA{R: 40, G: 80, B: 120, A: 255}
	quadrantAsset(repo, store, fill, true)

	// z1/1/0 covers the north-east quadrant exactly.
	data, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 1, X: 1, Y: 0})
	if err != nil {
		t.Fatalf("RasterTile failed: %v", err)
	}

	at := decodeTile(t, data)
	for _, p := range [][2]int{{0, 0}, {128, 128}, {255, 255}} {
		if got := at(p[0], p[1]); got != fill {
			t.Errorf("pixel %v = %v, want %v", p, got, fill)
		}
	}

	// The tile needs one asset pixel per tile pixel, so the coarsest
	// overview suffices.
	if store.reader.lastLvl != 2 {
		t.Errorf("read level = %d, want 2", store.reader.lastLvl)
	}
	if len(store.reader.reads) != 1 {
		t.Errorf("reads = %d, want 1", len(store.reader.reads))
	}
}

func TestRasterTileOutsideExtent(t *testing.T) {
	svc, repo, _, store := newTileHarness()
	quadrantAsset(repo, store, color.NRGBA{A: 255}, false)
	store.reader = nil // Open would fail, the bbox reject must short-circuit first

	// z2/0/3 lies in the south-west quadrant, clear of the asset.
	data, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 2, X: 0, Y: 3})
	if err != nil {
		t.Fatalf("RasterTile failed: %v", err)
	}

	at := decodeTile(t, data)
	for _, p := range [][2]int{{0, 0}, {128, 128}, {255, 255}} {
		if got := at(p[0], p[1]); got.A != 0 {
			t.Errorf("pixel %v = %v, want transparent", p, got)
		}
	}

	// The transparent tile is shared between requests.
	again, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 2, X: 0, Y: 3})
	if err != nil {
		t.Fatalf("second RasterTile failed: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("empty tiles differ between requests")
	}
}

func TestRasterTileUnknownLayer(t *testing.T) {
	svc, _, _, _ := newTileHarness()

	_, err := svc.RasterTile(context.Background(), "missing", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
}

func TestRasterTileVectorLayer(t *testing.T) {
	svc, repo, _, _ := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "l1", Name: "roads", Provider: domain.ProviderPostGIS},
	}

	_, err := svc.RasterTile(context.Background(), "l1", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Errorf("err = %v, want %v", err, domain.ErrLayerNotFound)
	}
}

func TestRasterTileInvalidAddress(t *testing.T) {
	svc, repo, _, store := newTileHarness()
	quadrantAsset(repo, store, color.NRGBA{A: 255}, false)

	_, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 1, X: 2, Y: 0})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want %v", err, domain.ErrInvalidInput)
	}
}

func TestRasterTileMissingAsset(t *testing.T) {
	svc, repo, _, store := newTileHarness()
	repo.layers = []domain.LayerMetadata{
		{ID: "r1", Name: "ortho", Provider: domain.ProviderCOG, Locator: "assets/r1.tif"},
	}
	store.openErr = fmt.Errorf("asset assets/r1.tif: %w", domain.ErrRasterRead)

	_, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 1, X: 0, Y: 0})
	if !errors.Is(err, domain.ErrRasterRead) {
		t.Fatalf("err = %v, want %v", err, domain.ErrRasterRead)
	}
	var terr *domain.TileError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want TileError", err)
	}
}

func TestRasterTileReadFailure(t *testing.T) {
	svc, repo, _, store := newTileHarness()
	quadrantAsset(repo, store, color.NRGBA{A: 255}, false)
	store.reader.readErr = errors.New("decode failed")

	_, err := svc.RasterTile(context.Background(), "r1", domain.Tile{Z: 1, X: 1, Y: 0})
	var terr *domain.TileError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TileError", err)
	}
}

func TestPickLevel(t *testing.T) {
	levels := []output.RasterLevel{
		{Index: 0, Resolution: 10},
		{Index: 1, Resolution: 20},
		{Index: 2, Resolution: 40},
	}
	tests := []struct {
		want float64
		lvl  int
	}{
		{9, 0},  // finer than the finest level still uses level 0
		{10, 0},
		{25, 1},
		{40, 2},
		{100, 2},
	}
	for _, tt := range tests {
		if got := pickLevel(levels, tt.want); got != tt.lvl {
			t.Errorf("pickLevel(%v) = %d, want %d", tt.want, got, tt.lvl)
		}
	}
}
