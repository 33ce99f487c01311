package transform

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/stratum/internal/domain"
)

func TestMercatorTransform(t *testing.T) {
	m := NewMercator()
	ctx := context.Background()

	tests := []struct {
		name    string
		coord   domain.Coordinate
		target  int
		wantX   float64
		wantY   float64
		wantErr error
	}{
		{
			name:   "wgs84 to web mercator",
			coord:  domain.Coordinate{X: 10, Y: 45, SRID: domain.SRIDWGS84},
			target: domain.SRIDWebMercator,
			wantX:  1113194.9079327357,
			wantY:  5621521.486192067,
		},
		{
			name:   "origin",
			coord:  domain.Coordinate{X: 0, Y: 0, SRID: domain.SRIDWGS84},
			target: domain.SRIDWebMercator,
			wantX:  0,
			wantY:  0,
		},
		{
			name:   "web mercator to wgs84",
			coord:  domain.Coordinate{X: 1113194.9079327357, Y: 5621521.486192067, SRID: domain.SRIDWebMercator},
			target: domain.SRIDWGS84,
			wantX:  10,
			wantY:  45,
		},
		{
			name:   "same srid is identity",
			coord:  domain.Coordinate{X: 7.5, Y: 51.9, SRID: domain.SRIDWGS84},
			target: domain.SRIDWGS84,
			wantX:  7.5,
			wantY:  51.9,
		},
		{
			name:   "legacy mercator is an alias",
			coord:  domain.Coordinate{X: 1000, Y: 2000, SRID: domain.SRIDLegacyMercator},
			target: domain.SRIDWebMercator,
			wantX:  1000,
			wantY:  2000,
		},
		{
			name:    "latitude beyond projection limit",
			coord:   domain.Coordinate{X: 0, Y: 89, SRID: domain.SRIDWGS84},
			target:  domain.SRIDWebMercator,
			wantErr: domain.ErrReprojectionFailure,
		},
		{
			name:    "unknown source srid",
			coord:   domain.Coordinate{X: 500000, Y: 5000000, SRID: 25832},
			target:  domain.SRIDWebMercator,
			wantErr: domain.ErrUnsupportedProjection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Transform(ctx, tt.coord, tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Transform() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transform() unexpected error: %v", err)
			}
			if math.Abs(got.X-tt.wantX) > 1e-6 || math.Abs(got.Y-tt.wantY) > 1e-6 {
				t.Errorf("Transform() = (%v, %v), want (%v, %v)", got.X, got.Y, tt.wantX, tt.wantY)
			}
			if got.SRID != tt.target {
				t.Errorf("Transform() SRID = %d, want %d", got.SRID, tt.target)
			}
		})
	}
}

func TestMercatorTransformGeometry(t *testing.T) {
	m := NewMercator()
	ctx := context.Background()

	line := orb.LineString{{10, 45}, {10.1, 45.1}, {10.2, 45.05}}
	data, err := wkb.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	geom := domain.Geometry{Type: domain.GeomLineString, WKB: data, SRID: domain.SRIDWGS84}

	out, err := m.TransformGeometry(ctx, geom, domain.SRIDWebMercator)
	if err != nil {
		t.Fatalf("TransformGeometry() error: %v", err)
	}
	if out.SRID != domain.SRIDWebMercator {
		t.Errorf("SRID = %d, want %d", out.SRID, domain.SRIDWebMercator)
	}
	if out.Type != domain.GeomLineString {
		t.Errorf("Type = %q, want %q", out.Type, domain.GeomLineString)
	}

	decoded, err := wkb.Unmarshal(out.WKB)
	if err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	merc, ok := decoded.(orb.LineString)
	if !ok {
		t.Fatalf("result geometry type = %T, want LineString", decoded)
	}
	if math.Abs(merc[0][0]-1113194.9079327357) > 1e-6 || math.Abs(merc[0][1]-5621521.486192067) > 1e-6 {
		t.Errorf("first vertex = %v, want (1113194.908, 5621521.486)", merc[0])
	}

	// Round trip back to WGS84 must reproduce the input.
	back, err := m.TransformGeometry(ctx, out, domain.SRIDWGS84)
	if err != nil {
		t.Fatalf("round trip error: %v", err)
	}
	restored, err := wkb.Unmarshal(back.WKB)
	if err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	for i, p := range restored.(orb.LineString) {
		if math.Abs(p[0]-line[i][0]) > 1e-9 || math.Abs(p[1]-line[i][1]) > 1e-9 {
			t.Errorf("vertex %d = %v, want %v", i, p, line[i])
		}
	}
}

func TestMercatorTransformGeometryErrors(t *testing.T) {
	m := NewMercator()
	ctx := context.Background()

	polar, _ := wkb.Marshal(orb.Point{0, 88})
	garbage := []byte{0xde, 0xad, 0xbe, 0xef}

	tests := []struct {
		name    string
		geom    domain.Geometry
		wantErr error
	}{
		{
			name:    "polar latitude",
			geom:    domain.Geometry{Type: domain.GeomPoint, WKB: polar, SRID: domain.SRIDWGS84},
			wantErr: domain.ErrReprojectionFailure,
		},
		{
			name:    "undecodable wkb",
			geom:    domain.Geometry{Type: domain.GeomPoint, WKB: garbage, SRID: domain.SRIDWGS84},
			wantErr: domain.ErrMalformedGeometry,
		},
		{
			name:    "unsupported source",
			geom:    domain.Geometry{Type: domain.GeomPoint, WKB: polar, SRID: 31467},
			wantErr: domain.ErrUnsupportedProjection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.TransformGeometry(ctx, tt.geom, domain.SRIDWebMercator)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("TransformGeometry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMercatorIsSupported(t *testing.T) {
	m := NewMercator()

	tests := []struct {
		source int
		target int
		want   bool
	}{
		{domain.SRIDWGS84, domain.SRIDWebMercator, true},
		{domain.SRIDWebMercator, domain.SRIDWGS84, true},
		{domain.SRIDLegacyMercator, domain.SRIDWebMercator, true},
		{domain.SRIDWGS84, domain.SRIDWGS84, true},
		{25832, domain.SRIDWebMercator, false},
		{domain.SRIDWGS84, 31467, false},
	}

	for _, tt := range tests {
		if got := m.IsSupported(tt.source, tt.target); got != tt.want {
			t.Errorf("IsSupported(%d, %d) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}
}
