// Package tegola proxies vector tile requests to a tegola-compatible
// tile backend.
package tegola

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var _ output.TileBackend = (*Client)(nil)

// maxTileBytes bounds a single tile response.
const maxTileBytes = 32 << 20

// defaultContentType is used when the backend omits the header.
const defaultContentType = "application/vnd.mapbox-vector-tile"

// Client implements TileBackend against a tegola-style HTTP endpoint.
type Client struct {
	client   *http.Client
	baseURL  string
	username string
	password string
}

// Config holds tile backend configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Username string
	Password string
}

// NewClient creates a new tile backend client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
	}
}

// FetchTile requests one tile and returns body and content type
// verbatim. Every backend failure is reported as ErrUpstreamTile so
// callers can tell it apart from an unknown layer.
func (c *Client) FetchTile(ctx context.Context, layerName string, tile domain.Tile) ([]byte, string, error) {
	tileURL := fmt.Sprintf("%s/maps/%s/tiles/%d/%d/%d.pbf",
		c.baseURL, url.PathEscape(layerName), tile.Z, tile.X, tile.Y)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, "", err
	}

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("fetching tile %d/%d/%d: %v: %w",
			tile.Z, tile.X, tile.Y, err, domain.ErrUpstreamTile)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("backend returned status %d for tile %d/%d/%d: %w",
			resp.StatusCode, tile.Z, tile.X, tile.Y, domain.ErrUpstreamTile)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	if !isTileContentType(contentType) {
		return nil, "", fmt.Errorf("backend returned content type %q for tile %d/%d/%d: %w",
			contentType, tile.Z, tile.X, tile.Y, domain.ErrUpstreamTile)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading tile %d/%d/%d: %v: %w",
			tile.Z, tile.X, tile.Y, err, domain.ErrUpstreamTile)
	}
	if len(body) > maxTileBytes {
		return nil, "", fmt.Errorf("tile %d/%d/%d exceeds %d bytes: %w",
			tile.Z, tile.X, tile.Y, maxTileBytes, domain.ErrUpstreamTile)
	}

	return body, contentType, nil
}

// isTileContentType accepts the media types tile backends use for
// Mapbox vector tiles.
func isTileContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.ToLower(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "application/vnd.mapbox-vector-tile",
		"application/x-protobuf",
		"application/protobuf",
		"application/octet-stream":
		return true
	}
	return false
}
