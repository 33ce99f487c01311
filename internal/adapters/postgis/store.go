// Package postgis persists vector features and layer metadata in a
// PostGIS database and issues normalized statements directly.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Compile-time contract assertion ensuring the store satisfies the port.
var _ output.SpatialStore = (*Store)(nil)

const driverName = "pgx"

const (
	createMetadataSQL = `
CREATE TABLE IF NOT EXISTS layer_metadata (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	provider TEXT NOT NULL,
	geometry_type TEXT NOT NULL,
	srid INTEGER NOT NULL,
	min_x DOUBLE PRECISION,
	min_y DOUBLE PRECISION,
	max_x DOUBLE PRECISION,
	max_y DOUBLE PRECISION,
	locator TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`

	// Vector layers share one name namespace, raster layers are
	// addressed by id and may repeat names.
	createNameIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS layer_metadata_vector_name
ON layer_metadata (name) WHERE provider IN ('postgis', 'geopackage')`

	insertLayerSQL = `INSERT INTO layer_metadata (id, name, provider, geometry_type, srid, min_x, min_y, max_x, max_y, locator, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
)

// Store implements the SpatialStore port. Features are written into a
// table in the staging schema and moved into the features schema in one
// transaction together with the metadata record, so a layer is either
// fully visible or absent.
type Store struct {
	db *sql.DB
}

// NewStore opens a PostGIS-backed store and bootstraps its schemas.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB so the metadata repository can share
// the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StageLayer creates an empty staging table for the layer and returns a
// writer for it.
func (s *Store) StageLayer(ctx context.Context, name string, _ domain.GeometryType) (output.FeatureBatch, error) {
	if err := domain.ValidateLayerName(name); err != nil {
		return nil, err
	}

	drop := fmt.Sprintf(`DROP TABLE IF EXISTS staging.%q`, name) //#nosec G201 -- name passed layer-name validation
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return nil, mapPgError("stage", name, err)
	}

	create := fmt.Sprintf(`
CREATE TABLE staging.%q (
	id BIGINT,
	geom geometry(Geometry, %d) NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb
)`, name, domain.SRIDCanonical) //#nosec G201 -- name passed layer-name validation
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return nil, mapPgError("stage", name, err)
	}

	return &featureBatch{store: s, name: name}, nil
}

// PublishLayer moves the staging table into the features schema and
// commits the metadata record in the same transaction.
func (s *Store) PublishLayer(ctx context.Context, name string, meta domain.LayerMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := insertLayer(ctx, tx, meta); err != nil {
		return err
	}

	move := fmt.Sprintf(`ALTER TABLE staging.%q SET SCHEMA features`, name) //#nosec G201 -- name passed layer-name validation
	if _, err := tx.ExecContext(ctx, move); err != nil {
		return mapPgError("publish", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// DiscardLayer drops the staging table after a failed ingestion.
func (s *Store) DiscardLayer(ctx context.Context, name string) error {
	if err := domain.ValidateLayerName(name); err != nil {
		return err
	}
	drop := fmt.Sprintf(`DROP TABLE IF EXISTS staging.%q`, name) //#nosec G201 -- name passed layer-name validation
	if _, err := s.db.ExecContext(ctx, drop); err != nil {
		return mapPgError("discard", name, err)
	}
	return nil
}

// featureBatch writes features into one staging table.
type featureBatch struct {
	store *Store
	name  string
}

// Write appends features inside a single transaction.
func (b *featureBatch) Write(ctx context.Context, features []domain.Feature) error {
	if len(features) == 0 {
		return nil
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	insert := fmt.Sprintf(`INSERT INTO staging.%q (id, geom, properties) VALUES ($1, ST_GeomFromWKB($2, %d), $3)`,
		b.name, domain.SRIDCanonical) //#nosec G201 -- name passed layer-name validation
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return mapPgError("write", b.name, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range features {
		props, err := propsJSON(f.Properties)
		if err != nil {
			return fmt.Errorf("encoding properties: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.Geometry.WKB, props); err != nil {
			return mapPgError("write", b.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mapPgError("write", b.name, err)
	}
	committed = true
	return nil
}

// Close builds the spatial index over the staged features and measures
// their union extent server side.
func (b *featureBatch) Close(ctx context.Context) (*domain.Extent, error) {
	index := fmt.Sprintf(`CREATE INDEX %q ON staging.%q USING GIST (geom)`,
		b.name+"_geom_idx", b.name) //#nosec G201 -- name passed layer-name validation
	if _, err := b.store.db.ExecContext(ctx, index); err != nil {
		return nil, mapPgError("index", b.name, err)
	}

	analyze := fmt.Sprintf(`ANALYZE staging.%q`, b.name) //#nosec G201 -- name passed layer-name validation
	if _, err := b.store.db.ExecContext(ctx, analyze); err != nil {
		return nil, mapPgError("index", b.name, err)
	}

	query := fmt.Sprintf(`SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e) FROM (SELECT ST_Extent(geom) AS e FROM staging.%q) AS b`,
		b.name) //#nosec G201 -- name passed layer-name validation

	var minX, minY, maxX, maxY sql.NullFloat64
	if err := b.store.db.QueryRowContext(ctx, query).Scan(&minX, &minY, &maxX, &maxY); err != nil {
		return nil, mapPgError("index", b.name, err)
	}
	if !minX.Valid {
		// ST_Extent over an empty table is NULL.
		return nil, nil
	}
	ext := domain.NewExtent(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64, domain.SRIDCanonical)
	return &ext, nil
}

// bootstrap prepares schemas, the PostGIS extension and the metadata
// table.
func bootstrap(ctx context.Context, db *sql.DB) error {
	if err := ensurePostGIS(ctx, db); err != nil {
		return err
	}

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS staging`,
		`CREATE SCHEMA IF NOT EXISTS features`,
		createMetadataSQL,
		createNameIndexSQL,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// ensurePostGIS verifies the extension is present, creating it when the
// role is allowed to.
func ensurePostGIS(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT PostGIS_Version()`).Scan(&version); err == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS postgis`); err != nil {
		return fmt.Errorf("postgis extension not available: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertLayer writes the metadata record, mapping unique violations to
// the duplicate-name error.
func insertLayer(ctx context.Context, tx execer, meta domain.LayerMetadata) error {
	var minX, minY, maxX, maxY interface{}
	if meta.BBox != nil {
		minX, minY, maxX, maxY = meta.BBox.MinX, meta.BBox.MinY, meta.BBox.MaxX, meta.BBox.MaxY
	}

	_, err := tx.ExecContext(ctx, insertLayerSQL,
		meta.ID, meta.Name, string(meta.Provider), string(meta.GeometryType), meta.SRID,
		minX, minY, maxX, maxY, meta.Locator, meta.CreatedAt,
	)
	if err != nil {
		return mapPgError("create", meta.Name, err)
	}
	return nil
}

// propsJSON encodes feature properties for the JSONB column.
func propsJSON(props map[string]interface{}) ([]byte, error) {
	if len(props) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(props)
}

// mapPgError translates SQLSTATE classes into domain errors.
func mapPgError(operation, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("layer %s: %w", key, domain.ErrDuplicateLayerName)
		case strings.HasPrefix(pgErr.Code, "53"):
			// Class 53, insufficient resources (disk full among them).
			return fmt.Errorf("layer %s: %w", key, domain.ErrInsufficientStorage)
		}
	}
	return &domain.StorageError{Operation: operation, Key: key, Err: err}
}
