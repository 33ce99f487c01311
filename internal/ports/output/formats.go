package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// VectorFormat names a recognized vector file format.
type VectorFormat string

const (
	// FormatGeoJSON is a GeoJSON document (RFC 7946).
	FormatGeoJSON VectorFormat = "geojson"
	// FormatShapefile is a zipped ESRI Shapefile (.shp/.dbf/.prj).
	FormatShapefile VectorFormat = "shapefile"
	// FormatGeoPackage is an OGC GeoPackage (SQLite container).
	FormatGeoPackage VectorFormat = "geopackage"
)

// Provider returns the tile provider recorded for layers ingested from
// this format.
func (f VectorFormat) Provider() domain.Provider {
	if f == FormatGeoPackage {
		return domain.ProviderGeoPackage
	}
	return domain.ProviderPostGIS
}

// VectorSource iterates the features of one staged vector file.
type VectorSource interface {
	// SRID returns the projection the source declares for its
	// geometries.
	SRID() int

	// GeometryType returns the geometry type of the source.
	GeometryType() domain.GeometryType

	// Next returns the next feature with its geometry still in the
	// source projection. Returns io.EOF after the last feature and
	// domain.ErrMalformedGeometry on an undecodable geometry.
	Next(ctx context.Context) (domain.Feature, error)

	// Close releases the underlying file handles.
	Close() error
}

// FormatDetector classifies staged uploads and opens vector sources.
type FormatDetector interface {
	// DetectVector sniffs the file content and returns its format.
	// Fails with domain.ErrUnsupportedFormat for anything it does not
	// recognize.
	DetectVector(path string) (VectorFormat, error)

	// OpenVector opens a staged file of a known format for reading.
	OpenVector(ctx context.Context, path string, format VectorFormat) (VectorSource, error)
}
