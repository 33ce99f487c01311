package formats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/stratum/internal/domain"
)

type geoPackageSource struct {
	db         *sql.DB
	rows       *sql.Rows
	columns    []string
	geomColumn string
	srid       int
	geomType   domain.GeometryType
	first      *domain.Feature
	rowNum     int64
}

// openGeoPackage opens the first features table of a GeoPackage.
func openGeoPackage(ctx context.Context, path string) (*geoPackageSource, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	src, err := readFirstFeatureTable(ctx, db, path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return src, nil
}

func readFirstFeatureTable(ctx context.Context, db *sql.DB, path string) (*geoPackageSource, error) {
	// A plain SQLite file has no gpkg_contents table.
	var hasContents int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='gpkg_contents'",
	).Scan(&hasContents)
	if err != nil || hasContents == 0 {
		return nil, fmt.Errorf("sqlite file without gpkg_contents: %w", domain.ErrUnsupportedFormat)
	}

	query := `
		SELECT
			c.table_name,
			g.column_name,
			g.geometry_type_name,
			g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.rowid
		LIMIT 1
	`

	var table, geomColumn, typeName string
	var srid int
	err = db.QueryRowContext(ctx, query).Scan(&table, &geomColumn, &typeName, &srid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("geopackage %s has no feature tables: %w", path, domain.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("reading gpkg_contents: %w", err)
	}

	// srs_id 0 and -1 are the "undefined" reference systems.
	if srid <= 0 {
		return nil, fmt.Errorf("geopackage table %s declares srs_id %d: %w", table, srid, domain.ErrUnsupportedProjection)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table)) //#nosec G201 -- table name from gpkg_contents of the uploaded file
	if err != nil {
		return nil, fmt.Errorf("reading feature table %s: %w", table, domain.ErrMalformedGeometry)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("reading feature table %s: %w", table, err)
	}

	src := &geoPackageSource{
		db:         db,
		rows:       rows,
		columns:    columns,
		geomColumn: geomColumn,
		srid:       srid,
		geomType:   domain.GeometryType(strings.ToUpper(typeName)),
	}

	// The declared type may be the generic GEOMETRY, take the concrete
	// type from the first feature.
	first, err := src.readRow(ctx)
	if err != nil {
		_ = rows.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("feature table %s is empty: %w", table, domain.ErrMalformedGeometry)
		}
		return nil, err
	}
	src.first = &first
	if src.geomType == "GEOMETRY" || src.geomType == "" {
		src.geomType = first.Geometry.Type
	}

	return src, nil
}

// SRID returns the srs_id declared in gpkg_geometry_columns.
func (s *geoPackageSource) SRID() int { return s.srid }

// GeometryType returns the geometry type of the source.
func (s *geoPackageSource) GeometryType() domain.GeometryType { return s.geomType }

// Next returns the next feature in the source projection.
func (s *geoPackageSource) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if s.first != nil {
		f := *s.first
		s.first = nil
		return f, nil
	}
	return s.readRow(ctx)
}

// Close releases the statement and the database handle.
func (s *geoPackageSource) Close() error {
	_ = s.rows.Close()
	return s.db.Close()
}

// readRow scans the next row, skipping rows without geometry.
func (s *geoPackageSource) readRow(_ context.Context) (domain.Feature, error) {
	for s.rows.Next() {
		s.rowNum++

		values := make([]interface{}, len(s.columns))
		valuePtrs := make([]interface{}, len(s.columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := s.rows.Scan(valuePtrs...); err != nil {
			return domain.Feature{}, fmt.Errorf("row %d: %w", s.rowNum, domain.ErrMalformedGeometry)
		}

		feature := domain.Feature{
			ID:         s.rowNum,
			Properties: make(map[string]interface{}),
		}

		var geomBlob []byte
		for i, col := range s.columns {
			switch {
			case col == s.geomColumn:
				if b, ok := values[i].([]byte); ok {
					geomBlob = b
				}
			case (col == "fid" || col == "id" || col == "ogc_fid") && isInt64(values[i]):
				feature.ID = values[i].(int64)
			default:
				if values[i] != nil {
					feature.Properties[col] = values[i]
				}
			}
		}

		if len(geomBlob) == 0 {
			continue
		}

		data, empty, err := parseGPB(geomBlob)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("row %d: %w", s.rowNum, err)
		}
		if empty {
			continue
		}

		g, err := wkb.Unmarshal(data)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("row %d: decoding geometry: %w", s.rowNum, domain.ErrMalformedGeometry)
		}
		if err := validateGeometry(g); err != nil {
			return domain.Feature{}, fmt.Errorf("row %d: %w", s.rowNum, err)
		}
		normalized, err := wkb.Marshal(g)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("row %d: encoding geometry: %w", s.rowNum, err)
		}

		feature.Geometry = domain.Geometry{Type: geometryTypeOf(g), WKB: normalized, SRID: s.srid}
		return feature, nil
	}

	if err := s.rows.Err(); err != nil {
		return domain.Feature{}, fmt.Errorf("reading feature table: %w", err)
	}
	return domain.Feature{}, io.EOF
}

// parseGPB strips the GeoPackage binary header and returns the WKB
// payload.
func parseGPB(blob []byte) (wkbData []byte, empty bool, err error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, false, fmt.Errorf("missing GPB header: %w", domain.ErrMalformedGeometry)
	}

	flags := blob[3]
	empty = flags&0x10 != 0

	envelopeSizes := map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}
	size, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, false, fmt.Errorf("invalid GPB envelope indicator: %w", domain.ErrMalformedGeometry)
	}

	headerLen := 8 + size
	if len(blob) < headerLen {
		return nil, false, fmt.Errorf("truncated GPB header: %w", domain.ErrMalformedGeometry)
	}
	if empty {
		return nil, true, nil
	}
	if len(blob) == headerLen {
		return nil, true, nil
	}
	return blob[headerLen:], false, nil
}

func isInt64(v interface{}) bool {
	_, ok := v.(int64)
	return ok
}
