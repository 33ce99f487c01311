package formats

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/jobrunner/stratum/internal/domain"
)

const prjWGS84ESRI = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

const prjWGS84EPSG = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// buildShapefileZip writes a two-point shapefile and zips it together
// with the given .prj content. An empty prj leaves the sidecar out.
func buildShapefileZip(t *testing.T, prj string) string {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "roads")

	w, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		t.Fatalf("creating shapefile: %v", err)
	}
	w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("LANES", 4),
	})
	w.Write(&shp.Point{X: 10, Y: 45})
	w.WriteAttribute(0, 0, "main street")
	w.WriteAttribute(0, 1, 3)
	w.Write(&shp.Point{X: 10.1, Y: 45.1})
	w.WriteAttribute(1, 0, "side street")
	w.WriteAttribute(1, 1, 2)
	w.Close()

	if prj != "" {
		if err := os.WriteFile(base+".prj", []byte(prj), 0o600); err != nil {
			t.Fatalf("writing prj: %v", err)
		}
	}

	zipPath := filepath.Join(dir, "upload.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			if ext == ".prj" && prj == "" {
				continue
			}
			t.Fatalf("reading %s: %v", ext, err)
		}
		fw, err := zw.Create("roads" + ext)
		if err != nil {
			t.Fatalf("adding %s: %v", ext, err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("writing %s: %v", ext, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := zf.Close(); err != nil {
		t.Fatalf("closing zip file: %v", err)
	}
	return zipPath
}

func TestOpenShapefile(t *testing.T) {
	src, err := openShapefile(buildShapefileZip(t, prjWGS84EPSG))
	if err != nil {
		t.Fatalf("openShapefile() error: %v", err)
	}
	defer func() { _ = src.Close() }()

	if src.SRID() != domain.SRIDWGS84 {
		t.Errorf("SRID() = %d, want %d", src.SRID(), domain.SRIDWGS84)
	}
	if src.GeometryType() != domain.GeomPoint {
		t.Errorf("GeometryType() = %q, want %q", src.GeometryType(), domain.GeomPoint)
	}

	ctx := context.Background()
	first, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if name, _ := first.GetProperty("NAME"); name != "main street" {
		t.Errorf("NAME = %v, want main street", name)
	}
	if lanes, _ := first.GetProperty("LANES"); lanes != int64(3) {
		t.Errorf("LANES = %v (%T), want int64 3", lanes, lanes)
	}
	if len(first.Geometry.WKB) == 0 {
		t.Error("feature carries no WKB")
	}

	second, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next() second error: %v", err)
	}
	if second.ID == first.ID {
		t.Error("feature IDs are not distinct")
	}

	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after last = %v, want io.EOF", err)
	}
}

func TestOpenShapefileESRIProjection(t *testing.T) {
	src, err := openShapefile(buildShapefileZip(t, prjWGS84ESRI))
	if err != nil {
		t.Fatalf("openShapefile() error: %v", err)
	}
	defer func() { _ = src.Close() }()

	if src.SRID() != domain.SRIDWGS84 {
		t.Errorf("SRID() = %d, want %d", src.SRID(), domain.SRIDWGS84)
	}
}

func TestOpenShapefileMissingPrj(t *testing.T) {
	_, err := openShapefile(buildShapefileZip(t, ""))
	if !errors.Is(err, domain.ErrUnsupportedProjection) {
		t.Errorf("openShapefile() error = %v, want %v", err, domain.ErrUnsupportedProjection)
	}
}

func TestOpenShapefileBareShp(t *testing.T) {
	path := writeTemp(t, "bare.shp", []byte{0x00, 0x00, 0x27, 0x0A, 0, 0, 0, 0})
	_, err := openShapefile(path)
	if !errors.Is(err, domain.ErrUnsupportedProjection) {
		t.Errorf("openShapefile() error = %v, want %v", err, domain.ErrUnsupportedProjection)
	}
}

func TestOpenShapefileZipWithoutShp(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "empty.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	zw := zip.NewWriter(zf)
	fw, _ := zw.Create("readme.txt")
	_, _ = fw.Write([]byte("nothing spatial here"))
	_ = zw.Close()
	_ = zf.Close()

	_, err = openShapefile(zipPath)
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("openShapefile() error = %v, want %v", err, domain.ErrUnsupportedFormat)
	}
}

func TestPrjToSRID(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		want    int
		wantErr bool
	}{
		{
			name: "authority code wins",
			wkt:  prjWGS84EPSG,
			want: 4326,
		},
		{
			name: "esri wgs84 name",
			wkt:  prjWGS84ESRI,
			want: 4326,
		},
		{
			name: "web mercator auxiliary sphere",
			wkt:  `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"]]`,
			want: 3857,
		},
		{
			name: "utm zone with authority",
			wkt:  `PROJCS["ETRS89 / UTM zone 32N",GEOGCS["ETRS89",AUTHORITY["EPSG","4258"]],AUTHORITY["EPSG","25832"]]`,
			want: 25832,
		},
		{
			name:    "unrecognized",
			wkt:     `LOCAL_CS["engineering grid"]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prjToSRID(tt.wkt)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnsupportedProjection) {
					t.Fatalf("prjToSRID() error = %v, want %v", err, domain.ErrUnsupportedProjection)
				}
				return
			}
			if err != nil {
				t.Fatalf("prjToSRID() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("prjToSRID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPartsToPolygons(t *testing.T) {
	// Outer ring clockwise, hole counter-clockwise, ESRI winding.
	points := []shp.Point{
		{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
		{X: 2, Y: 2}, {X: 8, Y: 2}, {X: 8, Y: 8}, {X: 2, Y: 8}, {X: 2, Y: 2},
	}
	g := partsToPolygons(points, []int32{0, 5})

	poly, ok := g.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry type = %T, want Polygon", g)
	}
	if len(poly) != 2 {
		t.Fatalf("ring count = %d, want 2 (outer plus hole)", len(poly))
	}

	// Two clockwise rings make two separate polygons.
	points = []shp.Point{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
		{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 6, Y: 6}, {X: 6, Y: 5}, {X: 5, Y: 5},
	}
	g = partsToPolygons(points, []int32{0, 5})

	multi, ok := g.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("geometry type = %T, want MultiPolygon", g)
	}
	if len(multi) != 2 {
		t.Errorf("polygon count = %d, want 2", len(multi))
	}
}
