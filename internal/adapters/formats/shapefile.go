package formats

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/jobrunner/stratum/internal/domain"
)

var epsgAuthority = regexp.MustCompile(`(?i)AUTHORITY\["EPSG",\s*"?(\d+)"?\]`)

type shapefileSource struct {
	zr       *shp.ZipReader
	fields   []shp.Field
	srid     int
	geomType domain.GeometryType
	first    *domain.Feature
}

// openShapefile opens a zipped shapefile. The archive must carry
// exactly one .shp with its .dbf and .prj sidecars.
func openShapefile(filePath string) (*shapefileSource, error) {
	srid, err := readProjection(filePath)
	if err != nil {
		return nil, err
	}

	zr, err := shp.OpenZip(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile archive: %w", domain.ErrMalformedGeometry)
	}

	s := &shapefileSource{
		zr:     zr,
		fields: zr.Fields(),
		srid:   srid,
	}

	// Read the first shape eagerly, the geometry type is needed before
	// iteration starts.
	first, err := s.readShape()
	if err != nil {
		_ = zr.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("shapefile contains no shapes: %w", domain.ErrMalformedGeometry)
		}
		return nil, err
	}
	s.first = &first
	s.geomType = first.Geometry.Type

	return s, nil
}

// readProjection extracts the SRID from the .prj sidecar. A bare .shp
// upload has no sidecar and therefore no known projection.
func readProjection(filePath string) (int, error) {
	f, err := os.Open(filePath) //#nosec G304 -- path points into the staging area
	if err != nil {
		return 0, &domain.StorageError{Operation: "open", Key: filePath, Err: err}
	}
	header := make([]byte, 4)
	n, _ := f.Read(header)
	_ = f.Close()

	if n >= 2 && header[0] == 'P' && header[1] == 'K' {
		return readProjectionFromZip(filePath)
	}
	return 0, fmt.Errorf("bare shapefile without .prj sidecar: %w", domain.ErrUnsupportedProjection)
}

func readProjectionFromZip(filePath string) (int, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return 0, fmt.Errorf("reading archive: %w", domain.ErrUnsupportedFormat)
	}
	defer func() { _ = archive.Close() }()

	var shpCount int
	var prjWKT string
	for _, file := range archive.File {
		switch strings.ToLower(path.Ext(file.Name)) {
		case ".shp":
			shpCount++
		case ".prj":
			rc, err := file.Open()
			if err != nil {
				return 0, fmt.Errorf("reading .prj: %w", domain.ErrUnsupportedFormat)
			}
			data, err := io.ReadAll(io.LimitReader(rc, 64*1024))
			_ = rc.Close()
			if err != nil {
				return 0, fmt.Errorf("reading .prj: %w", domain.ErrUnsupportedFormat)
			}
			prjWKT = string(data)
		}
	}

	if shpCount != 1 {
		return 0, fmt.Errorf("archive carries %d shapefiles, want exactly one: %w", shpCount, domain.ErrUnsupportedFormat)
	}
	if prjWKT == "" {
		return 0, fmt.Errorf("archive has no .prj sidecar: %w", domain.ErrUnsupportedProjection)
	}
	return prjToSRID(prjWKT)
}

// prjToSRID maps ESRI projection WKT to an SRID. The outermost
// AUTHORITY element is the last one in WKT1.
func prjToSRID(wkt string) (int, error) {
	matches := epsgAuthority.FindAllStringSubmatch(wkt, -1)
	if len(matches) > 0 {
		if code, err := strconv.Atoi(matches[len(matches)-1][1]); err == nil && code > 0 {
			return code, nil
		}
	}

	// ESRI .prj files often omit AUTHORITY, match the well-known names.
	upper := strings.ToUpper(wkt)
	switch {
	case strings.Contains(upper, "WEB_MERCATOR"), strings.Contains(upper, "PSEUDO-MERCATOR"), strings.Contains(upper, "PSEUDO_MERCATOR"):
		return domain.SRIDWebMercator, nil
	case strings.HasPrefix(upper, `GEOGCS["GCS_WGS_1984`), strings.HasPrefix(upper, `GEOGCS["WGS 84`), strings.HasPrefix(upper, `GEOGCS["WGS_84`):
		return domain.SRIDWGS84, nil
	}

	return 0, fmt.Errorf("projection %.60q: %w", wkt, domain.ErrUnsupportedProjection)
}

// SRID returns the projection declared by the .prj sidecar.
func (s *shapefileSource) SRID() int { return s.srid }

// GeometryType returns the geometry type of the source.
func (s *shapefileSource) GeometryType() domain.GeometryType { return s.geomType }

// Next returns the next feature in the source projection.
func (s *shapefileSource) Next(ctx context.Context) (domain.Feature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Feature{}, err
	}
	if s.first != nil {
		f := *s.first
		s.first = nil
		return f, nil
	}
	return s.readShape()
}

// Close releases the archive handles.
func (s *shapefileSource) Close() error {
	return s.zr.Close()
}

// readShape advances the reader past null shapes to the next feature.
func (s *shapefileSource) readShape() (domain.Feature, error) {
	for s.zr.Next() {
		n, shape := s.zr.Shape()

		g, err := shapeToOrb(shape)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("shape %d: %w", n, err)
		}
		if g == nil {
			continue
		}
		if err := validateGeometry(g); err != nil {
			return domain.Feature{}, fmt.Errorf("shape %d: %w", n, err)
		}

		data, err := wkb.Marshal(g)
		if err != nil {
			return domain.Feature{}, fmt.Errorf("shape %d: encoding geometry: %w", n, err)
		}

		return domain.Feature{
			ID:         int64(n) + 1,
			Geometry:   domain.Geometry{Type: geometryTypeOf(g), WKB: data, SRID: s.srid},
			Properties: s.readAttributes(),
		}, nil
	}

	if err := s.zr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return domain.Feature{}, fmt.Errorf("reading shape: %w", domain.ErrMalformedGeometry)
	}
	return domain.Feature{}, io.EOF
}

// readAttributes converts the current DBF row into properties. Numeric
// fields become numbers, logicals become bools, everything else stays
// a string. Empty cells are dropped.
func (s *shapefileSource) readAttributes() map[string]interface{} {
	props := make(map[string]interface{}, len(s.fields))
	for i, field := range s.fields {
		raw := strings.TrimSpace(s.zr.Attribute(i))
		if raw == "" {
			continue
		}
		name := field.String()

		switch field.Fieldtype {
		case 'N', 'F':
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				props[name] = v
			} else if v, err := strconv.ParseFloat(raw, 64); err == nil {
				props[name] = v
			} else {
				props[name] = raw
			}
		case 'L':
			switch raw {
			case "T", "t", "Y", "y":
				props[name] = true
			case "F", "f", "N", "n":
				props[name] = false
			}
		default:
			props[name] = raw
		}
	}
	return props
}

// shapeToOrb converts a go-shp shape to an orb geometry. Returns nil
// for null shapes, which carry no geometry.
func shapeToOrb(shape shp.Shape) (orb.Geometry, error) {
	switch sh := shape.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.PointM:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.PointZ:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.MultiPoint:
		return pointsToMulti(sh.Points), nil
	case *shp.MultiPointM:
		return pointsToMulti(sh.Points), nil
	case *shp.MultiPointZ:
		return pointsToMulti(sh.Points), nil
	case *shp.PolyLine:
		return partsToLines(sh.Points, sh.Parts), nil
	case *shp.PolyLineM:
		return partsToLines(sh.Points, sh.Parts), nil
	case *shp.PolyLineZ:
		return partsToLines(sh.Points, sh.Parts), nil
	case *shp.Polygon:
		return partsToPolygons(sh.Points, sh.Parts), nil
	case *shp.PolygonM:
		return partsToPolygons(sh.Points, sh.Parts), nil
	case *shp.PolygonZ:
		return partsToPolygons(sh.Points, sh.Parts), nil
	default:
		return nil, fmt.Errorf("shape type %T: %w", shape, domain.ErrUnsupportedFormat)
	}
}

func pointsToMulti(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// partsToLines splits the flat point array at the part offsets.
func partsToLines(points []shp.Point, parts []int32) orb.Geometry {
	lines := make(orb.MultiLineString, 0, len(parts))
	for _, ring := range splitParts(points, parts) {
		lines = append(lines, orb.LineString(ring))
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

// partsToPolygons groups rings into polygons. ESRI encodes outer rings
// clockwise and holes counter-clockwise.
func partsToPolygons(points []shp.Point, parts []int32) orb.Geometry {
	var polygons orb.MultiPolygon
	for _, part := range splitParts(points, parts) {
		ring := orb.Ring(part)
		if signedArea(ring) < 0 || len(polygons) == 0 {
			polygons = append(polygons, orb.Polygon{ring})
		} else {
			last := len(polygons) - 1
			polygons[last] = append(polygons[last], ring)
		}
	}
	if len(polygons) == 1 {
		return polygons[0]
	}
	return polygons
}

func splitParts(points []shp.Point, parts []int32) [][]orb.Point {
	if len(parts) == 0 {
		parts = []int32{0}
	}
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start > end {
			return nil
		}
		ring := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		out = append(out, ring)
	}
	return out
}

// signedArea is negative for clockwise rings.
func signedArea(r orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum / 2
}
