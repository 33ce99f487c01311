package domain

import (
	"regexp"
	"time"
)

// Provider identifies the storage backend serving a layer.
type Provider string

// Known providers.
const (
	ProviderPostGIS    Provider = "postgis"
	ProviderGeoPackage Provider = "geopackage"
	ProviderCOG        Provider = "cog"
	ProviderMBTiles    Provider = "mbtiles"
)

// IsVector returns true for providers served through the vector tile backend.
func (p Provider) IsVector() bool {
	return p == ProviderPostGIS || p == ProviderGeoPackage
}

// IsRaster returns true for providers served by the raster tile generator.
func (p Provider) IsRaster() bool {
	return p == ProviderCOG || p == ProviderMBTiles
}

// IsValid reports whether the provider is a known value.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderPostGIS, ProviderGeoPackage, ProviderCOG, ProviderMBTiles:
		return true
	}
	return false
}

// LayerMetadata is the single source of truth mapping a layer identity to
// its storage. A record only exists once the backing data is committed.
type LayerMetadata struct {
	ID           string       // Unique layer identifier
	Name         string       // Unique among active vector layers
	Provider     Provider     // Storage backend kind
	GeometryType GeometryType // Predominant geometry type, RASTER for rasters
	SRID         int          // Always the canonical SRID once stored
	BBox         *Extent      // Full extent in the canonical projection
	Locator      string       // Opaque: PostGIS table name or raster asset path
	CreatedAt    time.Time    // Commit time, drives listing order
}

// HasBBox returns true if the layer carries a valid extent.
func (m *LayerMetadata) HasBBox() bool {
	return m.BBox != nil && m.BBox.IsValid()
}

// layerNamePattern keeps names usable as PostGIS table identifiers and
// tegola map names. 63 bytes is the Postgres identifier limit.
var layerNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// ValidateLayerName checks that a name is a usable layer identifier.
func ValidateLayerName(name string) error {
	if name == "" {
		return &ValidationError{
			Field:      "layer_name",
			Value:      name,
			Constraint: "non-empty",
			Message:    "layer name is required",
		}
	}
	if !layerNamePattern.MatchString(name) {
		return &ValidationError{
			Field:      "layer_name",
			Value:      name,
			Constraint: layerNamePattern.String(),
			Message:    "layer name must start with a letter and contain only letters, digits and underscores",
		}
	}
	return nil
}
