package domain

import (
	"testing"
)

func TestNewWGS84Coordinate(t *testing.T) {
	c := NewWGS84Coordinate(9.9, 52.5)

	if c.X != 9.9 {
		t.Errorf("expected X=9.9, got %f", c.X)
	}
	if c.Y != 52.5 {
		t.Errorf("expected Y=52.5, got %f", c.Y)
	}
	if c.SRID != SRIDWGS84 {
		t.Errorf("expected SRID=%d, got %d", SRIDWGS84, c.SRID)
	}
}

func TestNewCoordinate(t *testing.T) {
	c := NewCoordinate(500000, 5700000, SRIDETRS89UTM32N)

	if c.X != 500000 {
		t.Errorf("expected X=500000, got %f", c.X)
	}
	if c.Y != 5700000 {
		t.Errorf("expected Y=5700000, got %f", c.Y)
	}
	if c.SRID != SRIDETRS89UTM32N {
		t.Errorf("expected SRID=%d, got %d", SRIDETRS89UTM32N, c.SRID)
	}
}

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{
			name:    "valid WGS84 coordinate",
			coord:   NewWGS84Coordinate(9.9, 52.5),
			wantErr: false,
		},
		{
			name:    "valid WGS84 at max bounds",
			coord:   NewWGS84Coordinate(180, 90),
			wantErr: false,
		},
		{
			name:    "invalid longitude too high",
			coord:   NewWGS84Coordinate(181, 52.5),
			wantErr: true,
		},
		{
			name:    "invalid latitude too low",
			coord:   NewWGS84Coordinate(9.9, -91),
			wantErr: true,
		},
		{
			name:    "non-WGS84 coordinate is always valid",
			coord:   NewCoordinate(500000, 5700000, SRIDETRS89UTM32N),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtentContains(t *testing.T) {
	e := NewExtent(0, 0, 10, 10, SRIDWebMercator)

	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"inside", NewCoordinate(5, 5, SRIDWebMercator), true},
		{"on edge", NewCoordinate(0, 10, SRIDWebMercator), true},
		{"outside x", NewCoordinate(11, 5, SRIDWebMercator), false},
		{"outside y", NewCoordinate(5, -1, SRIDWebMercator), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Contains(tt.coord); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.coord, got, tt.want)
			}
		})
	}
}

func TestExtentUnion(t *testing.T) {
	a := NewExtent(0, 0, 10, 10, SRIDWebMercator)
	b := NewExtent(5, -5, 20, 8, SRIDWebMercator)

	u := a.Union(b)

	want := NewExtent(0, -5, 20, 10, SRIDWebMercator)
	if u != want {
		t.Errorf("Union() = %+v, want %+v", u, want)
	}
}

func TestExtentIntersection(t *testing.T) {
	tests := []struct {
		name    string
		a       Extent
		b       Extent
		want    Extent
		overlap bool
	}{
		{
			name:    "partial overlap",
			a:       NewExtent(0, 0, 10, 10, SRIDWebMercator),
			b:       NewExtent(5, 5, 20, 20, SRIDWebMercator),
			want:    NewExtent(5, 5, 10, 10, SRIDWebMercator),
			overlap: true,
		},
		{
			name:    "contained",
			a:       NewExtent(0, 0, 10, 10, SRIDWebMercator),
			b:       NewExtent(2, 2, 4, 4, SRIDWebMercator),
			want:    NewExtent(2, 2, 4, 4, SRIDWebMercator),
			overlap: true,
		},
		{
			name:    "disjoint",
			a:       NewExtent(0, 0, 10, 10, SRIDWebMercator),
			b:       NewExtent(11, 11, 20, 20, SRIDWebMercator),
			overlap: false,
		},
		{
			name:    "touching edge counts as overlap",
			a:       NewExtent(0, 0, 10, 10, SRIDWebMercator),
			b:       NewExtent(10, 0, 20, 10, SRIDWebMercator),
			want:    NewExtent(10, 0, 10, 10, SRIDWebMercator),
			overlap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.a.Intersection(tt.b)
			if ok != tt.overlap {
				t.Fatalf("Intersection() overlap = %v, want %v", ok, tt.overlap)
			}
			if ok && got != tt.want {
				t.Errorf("Intersection() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtentDimensions(t *testing.T) {
	e := NewExtent(-10, -5, 30, 15, SRIDWebMercator)

	if e.Width() != 40 {
		t.Errorf("Width() = %f, want 40", e.Width())
	}
	if e.Height() != 20 {
		t.Errorf("Height() = %f, want 20", e.Height())
	}

	c := e.Center()
	if c.X != 10 || c.Y != 5 {
		t.Errorf("Center() = (%f, %f), want (10, 5)", c.X, c.Y)
	}
	if c.SRID != SRIDWebMercator {
		t.Errorf("Center() SRID = %d, want %d", c.SRID, SRIDWebMercator)
	}
}

func TestWebMercatorWorld(t *testing.T) {
	w := WebMercatorWorld()

	if !w.IsValid() {
		t.Error("world extent should be valid")
	}
	if w.MinX != -WebMercatorMax || w.MaxX != WebMercatorMax {
		t.Errorf("unexpected x bounds: %f, %f", w.MinX, w.MaxX)
	}
	if w.SRID != SRIDWebMercator {
		t.Errorf("SRID = %d, want %d", w.SRID, SRIDWebMercator)
	}
}

func TestIsKnownSRID(t *testing.T) {
	tests := []struct {
		srid int
		want bool
	}{
		{SRIDWGS84, true},
		{SRIDWebMercator, true},
		{SRIDETRS89UTM32N, true},
		{999999, false},
		{0, false},
	}

	for _, tt := range tests {
		if got := IsKnownSRID(tt.srid); got != tt.want {
			t.Errorf("IsKnownSRID(%d) = %v, want %v", tt.srid, got, tt.want)
		}
	}
}

func TestProjectionName(t *testing.T) {
	if got := ProjectionName(SRIDWebMercator); got != "Web Mercator" {
		t.Errorf("ProjectionName(3857) = %q, want %q", got, "Web Mercator")
	}
	if got := ProjectionName(27700); got != "EPSG:27700" {
		t.Errorf("ProjectionName(27700) = %q, want %q", got, "EPSG:27700")
	}
}
