package postgis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Compile-time contract assertion ensuring the repository satisfies the port.
var _ output.LayerRepository = (*Repository)(nil)

const (
	selectLayerSQL = `SELECT id, name, provider, geometry_type, srid, min_x, min_y, max_x, max_y, locator, created_at FROM layer_metadata`

	// Vector layers win name lookups, raster layers may share a name
	// and are addressed by id.
	selectByNameSQL = selectLayerSQL + ` WHERE name = $1 ORDER BY CASE WHEN provider IN ('postgis', 'geopackage') THEN 0 ELSE 1 END, created_at LIMIT 1`

	selectBBoxSQL  = `SELECT min_x, min_y, max_x, max_y FROM layer_metadata WHERE id = $1`
	countLayersSQL = `SELECT COUNT(*) FROM layer_metadata`
)

// Repository implements the LayerRepository port on the layer_metadata
// table. It shares the connection pool with the spatial store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a metadata repository over an open connection
// pool.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns all layers ordered by creation time ascending.
func (r *Repository) List(ctx context.Context) ([]domain.LayerMetadata, error) {
	rows, err := r.db.QueryContext(ctx, selectLayerSQL+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing layers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var layers []domain.LayerMetadata
	for rows.Next() {
		meta, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, meta)
	}
	return layers, rows.Err()
}

// Get returns a layer by its id.
func (r *Repository) Get(ctx context.Context, id string) (*domain.LayerMetadata, error) {
	row := r.db.QueryRowContext(ctx, selectLayerSQL+` WHERE id = $1`, id)
	meta, err := scanLayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetByName returns a layer by its name.
func (r *Repository) GetByName(ctx context.Context, name string) (*domain.LayerMetadata, error) {
	row := r.db.QueryRowContext(ctx, selectByNameSQL, name)
	meta, err := scanLayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %s: %w", name, domain.ErrLayerNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// Create commits a new metadata record.
func (r *Repository) Create(ctx context.Context, meta domain.LayerMetadata) error {
	return insertLayer(ctx, r.db, meta)
}

// BBox returns the stored bounding box of a layer.
func (r *Repository) BBox(ctx context.Context, id string) (*domain.Extent, error) {
	var minX, minY, maxX, maxY sql.NullFloat64
	err := r.db.QueryRowContext(ctx, selectBBoxSQL, id).Scan(&minX, &minY, &maxX, &maxY)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layer %s: %w", id, domain.ErrLayerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading bbox: %w", err)
	}
	if !minX.Valid {
		return nil, nil
	}
	return &domain.Extent{
		MinX: minX.Float64, MinY: minY.Float64,
		MaxX: maxX.Float64, MaxY: maxY.Float64,
		SRID: domain.SRIDCanonical,
	}, nil
}

// Count returns the number of active layers.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, countLayersSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting layers: %w", err)
	}
	return count, nil
}

// Ping verifies the backing store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayer(row rowScanner) (domain.LayerMetadata, error) {
	var meta domain.LayerMetadata
	var provider, geomType string
	var minX, minY, maxX, maxY sql.NullFloat64

	err := row.Scan(
		&meta.ID, &meta.Name, &provider, &geomType, &meta.SRID,
		&minX, &minY, &maxX, &maxY, &meta.Locator, &meta.CreatedAt,
	)
	if err != nil {
		return domain.LayerMetadata{}, err
	}

	meta.Provider = domain.Provider(provider)
	meta.GeometryType = domain.GeometryType(geomType)
	if minX.Valid {
		meta.BBox = &domain.Extent{
			MinX: minX.Float64, MinY: minY.Float64,
			MaxX: maxX.Float64, MaxY: maxY.Float64,
			SRID: domain.SRIDCanonical,
		}
	}
	return meta, nil
}
