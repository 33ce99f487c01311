package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// CoordinateTransformer defines the interface for coordinate system
// transformations into the canonical projection.
type CoordinateTransformer interface {
	// Transform converts a coordinate from its source SRID to the
	// target SRID.
	Transform(ctx context.Context, coord domain.Coordinate, targetSRID int) (domain.Coordinate, error)

	// TransformGeometry converts a whole geometry to the target SRID.
	// Fails with domain.ErrUnsupportedProjection for an unknown source
	// SRID and domain.ErrReprojectionFailure when the conversion
	// itself breaks down.
	TransformGeometry(ctx context.Context, geom domain.Geometry, targetSRID int) (domain.Geometry, error)

	// IsSupported checks if a transformation between the given SRIDs
	// is available.
	IsSupported(sourceSRID, targetSRID int) bool
}
