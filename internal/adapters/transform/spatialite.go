package transform

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/stratum/internal/domain"
)

// DriverName is the sqlite3 driver registered with SpatiaLite support.
const DriverName = "sqlite3_with_extensions"

// Ensure sqlite3 driver is registered with extension support.
func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		Extensions: getSpatiaLiteLibraryPaths(),
	})
}

// getSpatiaLiteLibraryPaths returns a list of paths to try for loading SpatiaLite.
// The order is important: environment variable first, then platform-specific paths.
func getSpatiaLiteLibraryPaths() []string {
	var paths []string

	// First, check environment variable (set by Nix shell or Docker)
	// The env var should point to the exact library path
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		paths = append(paths, envPath)
		return paths
	}

	// Fallback: Platform-specific paths
	// Order matters - more specific paths first, then generic names
	paths = append(paths,
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu amd64
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",

		// Debian/Ubuntu arm64
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew (Intel)
		"/usr/local/lib/mod_spatialite.dylib",

		// macOS Homebrew (Apple Silicon)
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Generic names (let the system find them via LD_LIBRARY_PATH)
		"mod_spatialite.so",    // Linux
		"mod_spatialite",       // System default
		"mod_spatialite.dylib", // macOS
	)

	return paths
}

// SpatiaLite implements coordinate transformation through an in-memory
// SpatiaLite database. It handles every SRID the bundled EPSG registry
// knows and backs the pure-Go Mercator transformer for the long tail
// of source projections.
type SpatiaLite struct {
	db *sql.DB
}

// NewSpatiaLite creates a transformer with an in-memory SpatiaLite
// database. Fails when the SpatiaLite library is not available on the
// host.
func NewSpatiaLite(ctx context.Context) (*SpatiaLite, error) {
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening transform database: %w", err)
	}

	// Verify SpatiaLite is loaded by checking its version
	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	// Populate spatial_ref_sys with the full EPSG registry, required
	// by ST_Transform
	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}

	return &SpatiaLite{db: db}, nil
}

// Transform transforms a coordinate from one SRID to another.
func (t *SpatiaLite) Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	if coord.SRID == targetSRID {
		return coord, nil
	}

	query := `SELECT X(Transform(GeomFromText(?, ?), ?)), Y(Transform(GeomFromText(?, ?), ?))`

	wkt := coord.WKT()
	var x, y sql.NullFloat64
	err := t.db.QueryRowContext(ctx, query,
		wkt, coord.SRID, targetSRID,
		wkt, coord.SRID, targetSRID,
	).Scan(&x, &y)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("transforming coordinate: %w", err)
	}
	if !x.Valid || !y.Valid {
		return domain.Coordinate{}, fmt.Errorf("srid %d to %d produced no result: %w", coord.SRID, targetSRID, domain.ErrReprojectionFailure)
	}

	return domain.Coordinate{
		X:    x.Float64,
		Y:    y.Float64,
		SRID: targetSRID,
	}, nil
}

// TransformGeometry transforms a whole geometry to the target SRID.
func (t *SpatiaLite) TransformGeometry(ctx context.Context, geom domain.Geometry, targetSRID int) (domain.Geometry, error) {
	if geom.SRID == targetSRID {
		return geom, nil
	}
	if !t.IsSupported(geom.SRID, targetSRID) {
		return domain.Geometry{}, fmt.Errorf("srid %d to %d: %w", geom.SRID, targetSRID, domain.ErrUnsupportedProjection)
	}

	query := `SELECT AsBinary(Transform(GeomFromWKB(?, ?), ?))`

	var data []byte
	err := t.db.QueryRowContext(ctx, query, geom.WKB, geom.SRID, targetSRID).Scan(&data)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("transforming geometry: %w", err)
	}
	if len(data) == 0 {
		// SpatiaLite signals an unrepresentable result as NULL
		return domain.Geometry{}, fmt.Errorf("srid %d to %d produced no result: %w", geom.SRID, targetSRID, domain.ErrReprojectionFailure)
	}

	return domain.Geometry{
		Type: geom.Type,
		WKB:  data,
		SRID: targetSRID,
	}, nil
}

// IsSupported checks if both SRIDs are in the spatial_ref_sys table.
func (t *SpatiaLite) IsSupported(sourceSRID, targetSRID int) bool {
	query := `
		SELECT COUNT(DISTINCT srid)
		FROM spatial_ref_sys
		WHERE srid IN (?, ?)
	`
	var count int
	if err := t.db.QueryRow(query, sourceSRID, targetSRID).Scan(&count); err != nil {
		return false
	}
	if sourceSRID == targetSRID {
		return count == 1
	}
	return count == 2
}

// Close closes the transformer's database connection.
func (t *SpatiaLite) Close() error {
	return t.db.Close()
}
