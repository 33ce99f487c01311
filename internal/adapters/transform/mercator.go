// Package transform provides coordinate transformers into the
// canonical Web Mercator projection.
package transform

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/project"

	"github.com/jobrunner/stratum/internal/domain"
)

// Mercator transforms between WGS84 and Web Mercator in pure Go. It
// covers the projections nearly all uploads arrive in without needing
// a SpatiaLite library on the host.
type Mercator struct{}

// NewMercator creates a new Mercator transformer.
func NewMercator() *Mercator {
	return &Mercator{}
}

// Transform transforms a coordinate from one SRID to another.
func (m *Mercator) Transform(_ context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	src := normalizeSRID(coord.SRID)
	dst := normalizeSRID(targetSRID)

	if src == dst {
		out := coord
		out.SRID = targetSRID
		return out, nil
	}
	if !m.IsSupported(coord.SRID, targetSRID) {
		return domain.Coordinate{}, fmt.Errorf("srid %d to %d: %w", coord.SRID, targetSRID, domain.ErrUnsupportedProjection)
	}

	p := orb.Point{coord.X, coord.Y}
	switch {
	case src == domain.SRIDWGS84 && dst == domain.SRIDWebMercator:
		if err := checkLonLat(orb.Bound{Min: p, Max: p}); err != nil {
			return domain.Coordinate{}, err
		}
		p = project.WGS84.ToMercator(p)
	case src == domain.SRIDWebMercator && dst == domain.SRIDWGS84:
		if err := checkMercator(orb.Bound{Min: p, Max: p}); err != nil {
			return domain.Coordinate{}, err
		}
		p = project.Mercator.ToWGS84(p)
	}

	return domain.Coordinate{X: p[0], Y: p[1], SRID: targetSRID}, nil
}

// TransformGeometry transforms a whole geometry to the target SRID.
func (m *Mercator) TransformGeometry(_ context.Context, geom domain.Geometry, targetSRID int) (domain.Geometry, error) {
	src := normalizeSRID(geom.SRID)
	dst := normalizeSRID(targetSRID)

	if src == dst {
		out := geom
		out.SRID = targetSRID
		return out, nil
	}
	if !m.IsSupported(geom.SRID, targetSRID) {
		return domain.Geometry{}, fmt.Errorf("srid %d to %d: %w", geom.SRID, targetSRID, domain.ErrUnsupportedProjection)
	}

	g, err := wkb.Unmarshal(geom.WKB)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("decoding geometry: %w", domain.ErrMalformedGeometry)
	}

	switch {
	case src == domain.SRIDWGS84 && dst == domain.SRIDWebMercator:
		if err := checkLonLat(g.Bound()); err != nil {
			return domain.Geometry{}, err
		}
		g = project.Geometry(g, project.WGS84.ToMercator)
	case src == domain.SRIDWebMercator && dst == domain.SRIDWGS84:
		if err := checkMercator(g.Bound()); err != nil {
			return domain.Geometry{}, err
		}
		g = project.Geometry(g, project.Mercator.ToWGS84)
	}

	data, err := wkb.Marshal(g)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("encoding geometry: %w", err)
	}

	return domain.Geometry{
		Type: geom.Type,
		WKB:  data,
		SRID: targetSRID,
	}, nil
}

// IsSupported checks if a transformation between the given SRIDs is
// available.
func (m *Mercator) IsSupported(sourceSRID, targetSRID int) bool {
	return isMercatorPair(normalizeSRID(sourceSRID)) && isMercatorPair(normalizeSRID(targetSRID))
}

// normalizeSRID folds the legacy Web Mercator code into the canonical
// one.
func normalizeSRID(srid int) int {
	if srid == domain.SRIDLegacyMercator {
		return domain.SRIDWebMercator
	}
	return srid
}

func isMercatorPair(srid int) bool {
	return srid == domain.SRIDWGS84 || srid == domain.SRIDWebMercator
}

// checkLonLat rejects coordinates the Mercator projection is undefined
// for.
func checkLonLat(b orb.Bound) error {
	if b.Min[0] < -180.0000001 || b.Max[0] > 180.0000001 ||
		b.Min[1] < -domain.MercatorLatMax || b.Max[1] > domain.MercatorLatMax {
		return fmt.Errorf("coordinates outside projectable range [lon %g..%g lat %g..%g]: %w",
			b.Min[0], b.Max[0], b.Min[1], b.Max[1], domain.ErrReprojectionFailure)
	}
	return nil
}

// checkMercator rejects coordinates outside the Web Mercator plane.
func checkMercator(b orb.Bound) error {
	limit := domain.WebMercatorMax * 1.0000001
	if b.Min[0] < -limit || b.Max[0] > limit || b.Min[1] < -limit || b.Max[1] > limit {
		return fmt.Errorf("coordinates outside web mercator plane: %w", domain.ErrReprojectionFailure)
	}
	return nil
}
