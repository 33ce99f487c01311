package formats

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/stratum/internal/domain"
)

// geometryTypeOf maps an orb geometry to the domain type constant.
func geometryTypeOf(g orb.Geometry) domain.GeometryType {
	return domain.GeometryType(strings.ToUpper(g.GeoJSONType()))
}

// validateGeometry rejects structurally broken geometries before they
// reach the transformer or the spatial store. One bad geometry fails
// the whole source.
func validateGeometry(g orb.Geometry) error {
	switch geom := g.(type) {
	case orb.Point:
		return validatePoint(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			if err := validatePoint(p); err != nil {
				return err
			}
		}
	case orb.LineString:
		return validateLineString(geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			if err := validateLineString(ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		return validateRing(geom)
	case orb.Polygon:
		return validatePolygon(geom)
	case orb.MultiPolygon:
		for _, p := range geom {
			if err := validatePolygon(p); err != nil {
				return err
			}
		}
	case orb.Collection:
		for _, sub := range geom {
			if err := validateGeometry(sub); err != nil {
				return err
			}
		}
	case orb.Bound:
		return validateGeometry(geom.ToPolygon())
	default:
		return fmt.Errorf("geometry type %T: %w", g, domain.ErrMalformedGeometry)
	}
	return nil
}

func validatePoint(p orb.Point) error {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite coordinate: %w", domain.ErrMalformedGeometry)
		}
	}
	return nil
}

func validateLineString(ls orb.LineString) error {
	if len(ls) < 2 {
		return fmt.Errorf("linestring with %d points: %w", len(ls), domain.ErrMalformedGeometry)
	}
	for _, p := range ls {
		if err := validatePoint(p); err != nil {
			return err
		}
	}
	return nil
}

func validateRing(r orb.Ring) error {
	if len(r) < 4 {
		return fmt.Errorf("ring with %d points: %w", len(r), domain.ErrMalformedGeometry)
	}
	if !r.Closed() {
		return fmt.Errorf("unclosed ring: %w", domain.ErrMalformedGeometry)
	}
	for _, p := range r {
		if err := validatePoint(p); err != nil {
			return err
		}
	}
	return nil
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("polygon without rings: %w", domain.ErrMalformedGeometry)
	}
	for _, r := range p {
		if err := validateRing(r); err != nil {
			return err
		}
	}
	return nil
}
