package application

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockStaging implements output.StagingStore for testing. Staged bytes
// live in memory, Materialize hands out fake paths.
type mockStaging struct {
	mu      sync.Mutex
	nextID  int
	staged  map[string]domain.UploadRecord
	data    map[string][]byte
	removed []string

	stageErr       error
	getErr         error
	materializeErr error
	removeErr      error
}

func newMockStaging() *mockStaging {
	return &mockStaging{
		staged: make(map[string]domain.UploadRecord),
		data:   make(map[string][]byte),
	}
}

func (m *mockStaging) Stage(_ context.Context, filename string, kind domain.UploadKind, r io.Reader) (domain.UploadRecord, error) {
	if m.stageErr != nil {
		return domain.UploadRecord{}, m.stageErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.UploadRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := domain.UploadRecord{
		ID:        fmt.Sprintf("upload-%d", m.nextID),
		Filename:  filename,
		Kind:      kind,
		SizeBytes: int64(len(data)),
	}
	rec.StoragePath = "staged/" + rec.ID
	m.staged[rec.ID] = rec
	m.data[rec.ID] = data
	return rec, nil
}

// add seeds a staged upload directly.
func (m *mockStaging) add(rec domain.UploadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[rec.ID] = rec
}

func (m *mockStaging) Get(_ context.Context, id string) (domain.UploadRecord, error) {
	if m.getErr != nil {
		return domain.UploadRecord{}, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.staged[id]
	if !ok {
		return domain.UploadRecord{}, fmt.Errorf("upload %s: %w", id, domain.ErrUploadNotFound)
	}
	return rec, nil
}

func (m *mockStaging) Materialize(ctx context.Context, id string) (string, func(), error) {
	if m.materializeErr != nil {
		return "", nil, m.materializeErr
	}
	rec, err := m.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return "/staged/" + rec.ID + "/" + rec.Filename, func() {}, nil
}

func (m *mockStaging) Remove(_ context.Context, id string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, id)
	delete(m.data, id)
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockStaging) removedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removed)
}

// mockDetector implements output.FormatDetector for testing.
type mockDetector struct {
	format    output.VectorFormat
	detectErr error
	src       *mockVectorSource
	openErr   error
}

func (m *mockDetector) DetectVector(_ string) (output.VectorFormat, error) {
	if m.detectErr != nil {
		return "", m.detectErr
	}
	if m.format == "" {
		return output.FormatGeoJSON, nil
	}
	return m.format, nil
}

func (m *mockDetector) OpenVector(_ context.Context, _ string, _ output.VectorFormat) (output.VectorSource, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.src, nil
}

// mockVectorSource implements output.VectorSource for testing.
type mockVectorSource struct {
	srid     int
	geomType domain.GeometryType
	features []domain.Feature
	failAt   int // fail with failErr before yielding this index, -1 disables
	failErr  error
	pos      int
	closed   bool
}

func newMockVectorSource(srid int, features ...domain.Feature) *mockVectorSource {
	return &mockVectorSource{
		srid:     srid,
		geomType: domain.GeomPoint,
		features: features,
		failAt:   -1,
	}
}

func (m *mockVectorSource) SRID() int { return m.srid }

func (m *mockVectorSource) GeometryType() domain.GeometryType { return m.geomType }

func (m *mockVectorSource) Next(_ context.Context) (domain.Feature, error) {
	if m.failAt >= 0 && m.pos == m.failAt {
		return domain.Feature{}, m.failErr
	}
	if m.pos >= len(m.features) {
		return domain.Feature{}, io.EOF
	}
	f := m.features[m.pos]
	m.pos++
	return f, nil
}

func (m *mockVectorSource) Close() error {
	m.closed = true
	return nil
}

// mockTransformer implements output.CoordinateTransformer for testing.
// It relabels coordinates without moving them, so grids and extents
// stay easy to assert on.
type mockTransformer struct {
	transformErr error
	geometryErr  error
	unsupported  bool
	calls        int
}

func (m *mockTransformer) Transform(_ context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	m.calls++
	if m.transformErr != nil {
		return domain.Coordinate{}, m.transformErr
	}
	if m.unsupported {
		return domain.Coordinate{}, fmt.Errorf("srid %d: %w", coord.SRID, domain.ErrUnsupportedProjection)
	}
	out := coord
	out.SRID = targetSRID
	return out, nil
}

func (m *mockTransformer) TransformGeometry(_ context.Context, geom domain.Geometry, targetSRID int) (domain.Geometry, error) {
	m.calls++
	if m.geometryErr != nil {
		return domain.Geometry{}, m.geometryErr
	}
	if m.unsupported {
		return domain.Geometry{}, fmt.Errorf("srid %d: %w", geom.SRID, domain.ErrUnsupportedProjection)
	}
	out := geom
	out.SRID = targetSRID
	return out, nil
}

func (m *mockTransformer) IsSupported(_, _ int) bool { return !m.unsupported }

// mockSpatial implements output.SpatialStore for testing.
type mockSpatial struct {
	mu        sync.Mutex
	batches   map[string]*mockBatch
	published map[string]domain.LayerMetadata
	discarded []string

	stageExtent *domain.Extent
	stageErr    error
	publishErr  error
	pingErr     error
}

func newMockSpatial() *mockSpatial {
	return &mockSpatial{
		batches:   make(map[string]*mockBatch),
		published: make(map[string]domain.LayerMetadata),
	}
}

func (m *mockSpatial) StageLayer(_ context.Context, name string, _ domain.GeometryType) (output.FeatureBatch, error) {
	if m.stageErr != nil {
		return nil, m.stageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &mockBatch{extent: m.stageExtent}
	m.batches[name] = b
	return b, nil
}

func (m *mockSpatial) PublishLayer(_ context.Context, name string, meta domain.LayerMetadata) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[name] = meta
	return nil
}

func (m *mockSpatial) DiscardLayer(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, name)
	return nil
}

func (m *mockSpatial) Ping(_ context.Context) error { return m.pingErr }

// mockBatch implements output.FeatureBatch for testing.
type mockBatch struct {
	features []domain.Feature
	extent   *domain.Extent
	writes   int
	closed   bool
	writeErr error
	closeErr error
}

func (b *mockBatch) Write(_ context.Context, features []domain.Feature) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.writes++
	b.features = append(b.features, features...)
	return nil
}

func (b *mockBatch) Close(_ context.Context) (*domain.Extent, error) {
	if b.closeErr != nil {
		return nil, b.closeErr
	}
	b.closed = true
	return b.extent, nil
}

// mockRepo implements output.LayerRepository for testing.
type mockRepo struct {
	mu     sync.Mutex
	layers []domain.LayerMetadata

	createErr error
	pingErr   error
}

func (m *mockRepo) List(_ context.Context) ([]domain.LayerMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LayerMetadata, len(m.layers))
	copy(out, m.layers)
	return out, nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*domain.LayerMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.layers {
		if m.layers[i].ID == id {
			meta := m.layers[i]
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
}

func (m *mockRepo) GetByName(_ context.Context, name string) (*domain.LayerMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.layers {
		if m.layers[i].Name == name {
			meta := m.layers[i]
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("layer %s: %w", name, domain.ErrLayerNotFound)
}

func (m *mockRepo) Create(_ context.Context, meta domain.LayerMetadata) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = append(m.layers, meta)
	return nil
}

func (m *mockRepo) BBox(_ context.Context, id string) (*domain.Extent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.layers {
		if m.layers[i].ID == id {
			return m.layers[i].BBox, nil
		}
	}
	return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
}

func (m *mockRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.layers), nil
}

func (m *mockRepo) Ping(_ context.Context) error { return m.pingErr }

// mockRasterStore implements output.RasterStore for testing. Write
// exercises the producer over the full grid in standard windows.
type mockRasterStore struct {
	mu       sync.Mutex
	grids    map[string]output.RasterGrid
	windows  int
	lastImg  *image.NRGBA
	removed  []string
	reader   *mockRasterReader
	writeErr error
	openErr  error
}

func newMockRasterStore() *mockRasterStore {
	return &mockRasterStore{grids: make(map[string]output.RasterGrid)}
}

func (m *mockRasterStore) Write(ctx context.Context, id string, grid output.RasterGrid, produce output.WindowProducer) (string, error) {
	if m.writeErr != nil {
		return "", m.writeErr
	}
	for y := 0; y < grid.Height; y += 256 {
		for x := 0; x < grid.Width; x += 256 {
			rect := image.Rect(x, y, min256(x, grid.Width), min256(y, grid.Height))
			img, err := produce(ctx, rect)
			if err != nil {
				return "", err
			}
			if img.Bounds() != rect {
				return "", fmt.Errorf("producer returned %v for %v", img.Bounds(), rect)
			}
			m.mu.Lock()
			m.windows++
			m.lastImg = img
			m.mu.Unlock()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grids[id] = grid
	return "assets/" + id + ".tif", nil
}

func min256(off, limit int) int {
	if off+256 < limit {
		return off + 256
	}
	return limit
}

func (m *mockRasterStore) Open(_ context.Context, locator string) (output.RasterReader, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.reader == nil {
		return nil, fmt.Errorf("asset %s: %w", locator, domain.ErrRasterRead)
	}
	return m.reader, nil
}

func (m *mockRasterStore) Remove(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, locator)
	return nil
}

// mockRasterReader implements output.RasterReader for testing. Windows
// come back filled with a single color.
type mockRasterReader struct {
	grid    output.RasterGrid
	levels  []output.RasterLevel
	fill    color.NRGBA
	readErr error
	reads   []image.Rectangle
	lastLvl int
}

func (m *mockRasterReader) Grid() output.RasterGrid { return m.grid }

func (m *mockRasterReader) Levels() []output.RasterLevel {
	if len(m.levels) > 0 {
		return m.levels
	}
	return []output.RasterLevel{{
		Index:      0,
		Width:      m.grid.Width,
		Height:     m.grid.Height,
		Resolution: m.grid.ResX(),
	}}
}

func (m *mockRasterReader) ReadWindow(_ context.Context, level int, rect image.Rectangle) (*image.NRGBA, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.lastLvl = level
	m.reads = append(m.reads, rect)
	img := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, m.fill)
		}
	}
	return img, nil
}

func (m *mockRasterReader) Close() error { return nil }

// mockRasterOpener implements output.RasterOpener for testing.
type mockRasterOpener struct {
	src     *mockRasterSource
	openErr error
}

func (m *mockRasterOpener) OpenRaster(_ context.Context, _ string) (output.RasterSource, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.src, nil
}

// mockRasterSource implements output.RasterSource for testing.
type mockRasterSource struct {
	width, height  int
	srid           int
	x0, y0, rx, ry float64
	fill           color.NRGBA
	readErr        error
	reads          int
	closed         bool
}

func (m *mockRasterSource) Size() (int, int) { return m.width, m.height }

func (m *mockRasterSource) SRID() int { return m.srid }

func (m *mockRasterSource) Georef() (float64, float64, float64, float64) {
	return m.x0, m.y0, m.rx, m.ry
}

func (m *mockRasterSource) ReadWindow(_ context.Context, rect image.Rectangle) (*image.NRGBA, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.reads++
	img := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, m.fill)
		}
	}
	return img, nil
}

func (m *mockRasterSource) Close() error {
	m.closed = true
	return nil
}

// mockBackend implements output.TileBackend for testing.
type mockBackend struct {
	data        []byte
	contentType string
	err         error
	lastLayer   string
	lastTile    domain.Tile
}

func (m *mockBackend) FetchTile(_ context.Context, layerName string, tile domain.Tile) ([]byte, string, error) {
	m.lastLayer = layerName
	m.lastTile = tile
	if m.err != nil {
		return nil, "", m.err
	}
	return m.data, m.contentType, nil
}
