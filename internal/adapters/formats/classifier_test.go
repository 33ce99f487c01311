package formats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestDetectVector(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name    string
		data    []byte
		want    output.VectorFormat
		wantErr error
	}{
		{
			name: "sqlite container",
			data: []byte("SQLite format 3\x00extra bytes here"),
			want: output.FormatGeoPackage,
		},
		{
			name: "zip archive",
			data: []byte("PK\x03\x04rest of archive"),
			want: output.FormatShapefile,
		},
		{
			name: "bare shapefile",
			data: []byte{0x00, 0x00, 0x27, 0x0A, 0, 0, 0, 0},
			want: output.FormatShapefile,
		},
		{
			name: "json object",
			data: []byte(`{"type":"FeatureCollection","features":[]}`),
			want: output.FormatGeoJSON,
		},
		{
			name: "json with leading whitespace",
			data: []byte("\n\t {\"type\":\"Feature\"}"),
			want: output.FormatGeoJSON,
		},
		{
			name: "json with utf8 bom",
			data: append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"type":"Feature"}`)...),
			want: output.FormatGeoJSON,
		},
		{
			name:    "tiff is not a vector format",
			data:    []byte("II*\x00restoffile"),
			wantErr: domain.ErrUnsupportedFormat,
		},
		{
			name:    "plain text",
			data:    []byte("id,lat,lon\n1,45,10\n"),
			wantErr: domain.ErrUnsupportedFormat,
		},
		{
			name:    "empty file",
			data:    nil,
			wantErr: domain.ErrUnsupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "upload.bin", tt.data)
			got, err := d.DetectVector(path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DetectVector() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectVector() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectVector() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectVectorMissingFile(t *testing.T) {
	d := NewDetector()
	_, err := d.DetectVector(filepath.Join(t.TempDir(), "nope.geojson"))

	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("DetectVector() error = %T, want *domain.StorageError", err)
	}
}
