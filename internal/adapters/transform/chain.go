package transform

import (
	"context"
	"fmt"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// Chain dispatches to the first transformer that supports a requested
// conversion. The fast pure-Go path goes first, SpatiaLite (when
// available) catches the rest.
type Chain struct {
	transformers []output.CoordinateTransformer
}

// NewChain creates a transformer chain. Order matters.
func NewChain(transformers ...output.CoordinateTransformer) *Chain {
	return &Chain{transformers: transformers}
}

// Transform transforms a coordinate from one SRID to another.
func (c *Chain) Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error) {
	for _, t := range c.transformers {
		if t.IsSupported(coord.SRID, targetSRID) {
			return t.Transform(ctx, coord, targetSRID)
		}
	}
	return domain.Coordinate{}, fmt.Errorf("srid %d: %w", coord.SRID, domain.ErrUnsupportedProjection)
}

// TransformGeometry transforms a whole geometry to the target SRID.
func (c *Chain) TransformGeometry(ctx context.Context, geom domain.Geometry, targetSRID int) (domain.Geometry, error) {
	for _, t := range c.transformers {
		if t.IsSupported(geom.SRID, targetSRID) {
			return t.TransformGeometry(ctx, geom, targetSRID)
		}
	}
	return domain.Geometry{}, fmt.Errorf("srid %d: %w", geom.SRID, domain.ErrUnsupportedProjection)
}

// IsSupported checks if any transformer in the chain supports the
// conversion.
func (c *Chain) IsSupported(sourceSRID, targetSRID int) bool {
	for _, t := range c.transformers {
		if t.IsSupported(sourceSRID, targetSRID) {
			return true
		}
	}
	return false
}
