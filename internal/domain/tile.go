package domain

// TileSize is the fixed edge length in pixels of generated raster tiles.
const TileSize = 256

// MaxTileZoom bounds tile addressing; beyond this the arithmetic would
// overflow and no stored raster carries useful detail anyway.
const MaxTileZoom = 30

// Tile addresses a single tile in the XYZ slippy-map scheme: x grows east,
// y grows south, origin at the north-west corner of the Web Mercator plane.
type Tile struct {
	Z int
	X int
	Y int
}

// IsValid reports whether the tile address exists at its zoom level.
func (t Tile) IsValid() bool {
	if t.Z < 0 || t.Z > MaxTileZoom {
		return false
	}
	n := 1 << uint(t.Z)
	return t.X >= 0 && t.X < n && t.Y >= 0 && t.Y < n
}

// Extent returns the tile's bounds in the canonical projection.
func (t Tile) Extent() Extent {
	span := 2 * WebMercatorMax / float64(int64(1)<<uint(t.Z))
	minX := -WebMercatorMax + float64(t.X)*span
	maxY := WebMercatorMax - float64(t.Y)*span
	return Extent{
		MinX: minX,
		MinY: maxY - span,
		MaxX: minX + span,
		MaxY: maxY,
		SRID: SRIDWebMercator,
	}
}

// Resolution returns the ground size in meters of one pixel of this tile.
func (t Tile) Resolution() float64 {
	return 2 * WebMercatorMax / float64(int64(1)<<uint(t.Z)) / TileSize
}
