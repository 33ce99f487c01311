package domain

// Feature represents a vector feature with geometry and attributes.
type Feature struct {
	ID         int64                  // Feature ID (fid), 0 when the source assigns none
	Geometry   Geometry               // Geometry data
	Properties map[string]interface{} // Attribute data
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (interface{}, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// Geometry represents a geometry object carried as WKB between the
// parsers, the transformer and the spatial store.
type Geometry struct {
	Type GeometryType // Geometry type (POINT, POLYGON, ...)
	WKB  []byte       // Well-Known Binary representation
	SRID int          // Spatial Reference ID
}

// IsEmpty returns true if the geometry carries no data.
func (g *Geometry) IsEmpty() bool {
	return len(g.WKB) == 0
}

// GeometryType represents the type of a geometry.
type GeometryType string

// Geometry type constants.
const (
	GeomPoint              GeometryType = "POINT"
	GeomLineString         GeometryType = "LINESTRING"
	GeomPolygon            GeometryType = "POLYGON"
	GeomMultiPoint         GeometryType = "MULTIPOINT"
	GeomMultiLineString    GeometryType = "MULTILINESTRING"
	GeomMultiPolygon       GeometryType = "MULTIPOLYGON"
	GeomGeometryCollection GeometryType = "GEOMETRYCOLLECTION"
	GeomRaster             GeometryType = "RASTER"
)
