package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// TileBackend defines the secondary port for the vector tile backend.
// The backend renders tiles directly from the spatial store; this port
// only fetches them.
type TileBackend interface {
	// FetchTile retrieves one tile of a layer. Fails with
	// domain.ErrLayerNotFound when the backend does not know the layer
	// and domain.ErrUpstreamTile when it is unreachable or errors.
	FetchTile(ctx context.Context, layerName string, tile domain.Tile) (data []byte, contentType string, err error)
}
