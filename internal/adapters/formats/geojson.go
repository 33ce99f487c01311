package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/stratum/internal/domain"
)

// crsDocument picks out the legacy crs member that pre-RFC 7946
// documents carry. Everything else in the document is decoded by orb.
type crsDocument struct {
	Type string `json:"type"`
	CRS  *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

type geoJSONSource struct {
	features []*geojson.Feature
	srid     int
	geomType domain.GeometryType
	next     int
}

// openGeoJSON reads a whole GeoJSON document. Root may be a
// FeatureCollection, a single Feature or a bare geometry.
func openGeoJSON(path string) (*geoJSONSource, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path points into the staging area
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}

	var doc crsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("not a json document: %w", domain.ErrUnsupportedFormat)
	}

	// RFC 7946 fixed the projection to WGS84; honor the legacy crs
	// member when present.
	srid := domain.SRIDWGS84
	if doc.CRS != nil {
		srid, err = parseCRSName(doc.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
	}

	var features []*geojson.Feature
	switch doc.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature collection: %w", domain.ErrMalformedGeometry)
		}
		features = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %w", domain.ErrMalformedGeometry)
		}
		features = []*geojson.Feature{f}
	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", domain.ErrMalformedGeometry)
		}
		features = []*geojson.Feature{geojson.NewFeature(g.Geometry())}
	default:
		return nil, fmt.Errorf("geojson type %q: %w", doc.Type, domain.ErrUnsupportedFormat)
	}

	// Features with null geometry carry nothing to store.
	withGeometry := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		if f.Geometry != nil {
			withGeometry = append(withGeometry, f)
		}
	}
	if len(withGeometry) == 0 {
		return nil, fmt.Errorf("document contains no geometries: %w", domain.ErrMalformedGeometry)
	}

	return &geoJSONSource{
		features: withGeometry,
		srid:     srid,
		geomType: geometryTypeOf(withGeometry[0].Geometry),
	}, nil
}

// SRID returns the projection the source declares for its geometries.
func (s *geoJSONSource) SRID() int { return s.srid }

// GeometryType returns the geometry type of the source.
func (s *geoJSONSource) GeometryType() domain.GeometryType { return s.geomType }

// Next returns the next feature in the source projection.
func (s *geoJSONSource) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if s.next >= len(s.features) {
		return domain.Feature{}, io.EOF
	}

	f := s.features[s.next]
	s.next++

	if err := validateGeometry(f.Geometry); err != nil {
		return domain.Feature{}, fmt.Errorf("feature %d: %w", s.next-1, err)
	}

	data, err := wkb.Marshal(f.Geometry)
	if err != nil {
		return domain.Feature{}, fmt.Errorf("feature %d: encoding geometry: %w", s.next-1, err)
	}

	id := int64(s.next)
	if n, ok := f.ID.(float64); ok && n == math.Trunc(n) {
		id = int64(n)
	}

	return domain.Feature{
		ID:         id,
		Geometry:   domain.Geometry{Type: geometryTypeOf(f.Geometry), WKB: data, SRID: s.srid},
		Properties: f.Properties,
	}, nil
}

// Close implements VectorSource. The document is fully in memory.
func (s *geoJSONSource) Close() error { return nil }

// parseCRSName maps a legacy crs name to an SRID.
func parseCRSName(name string) (int, error) {
	switch name {
	case "", "urn:ogc:def:crs:OGC:1.3:CRS84", "urn:ogc:def:crs:OGC::CRS84", "CRS84":
		return domain.SRIDWGS84, nil
	}

	// "EPSG:4326" and "urn:ogc:def:crs:EPSG::4326" both end in the
	// code.
	upper := strings.ToUpper(name)
	if strings.Contains(upper, "EPSG") {
		parts := strings.Split(upper, ":")
		if code, err := strconv.Atoi(parts[len(parts)-1]); err == nil && code > 0 {
			return code, nil
		}
	}

	return 0, fmt.Errorf("crs %q: %w", name, domain.ErrUnsupportedProjection)
}
