// Package formats detects and reads the supported vector upload
// formats.
package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	zipMagic    = []byte("PK\x03\x04")
)

// Shapefile headers start with this big-endian file code.
const shpFileCode = 9994

// Detector implements the FormatDetector port by sniffing file
// content. File extensions are ignored, uploads arrive under arbitrary
// names.
type Detector struct{}

// NewDetector creates a new format detector.
func NewDetector() *Detector {
	return &Detector{}
}

// DetectVector sniffs the file content and returns its format.
func (d *Detector) DetectVector(path string) (output.VectorFormat, error) {
	f, err := os.Open(path) //#nosec G304 -- path points into the staging area
	if err != nil {
		return "", &domain.StorageError{Operation: "detect", Key: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return "", fmt.Errorf("empty file: %w", domain.ErrUnsupportedFormat)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, sqliteMagic):
		return output.FormatGeoPackage, nil
	case bytes.HasPrefix(header, zipMagic):
		return output.FormatShapefile, nil
	case len(header) >= 4 && binary.BigEndian.Uint32(header) == shpFileCode:
		// Bare .shp without its sidecars, rejected later for the
		// missing projection file.
		return output.FormatShapefile, nil
	case looksLikeJSON(header):
		return output.FormatGeoJSON, nil
	}

	return "", fmt.Errorf("unrecognized file content: %w", domain.ErrUnsupportedFormat)
}

// OpenVector opens a staged file of a known format for reading.
func (d *Detector) OpenVector(ctx context.Context, path string, format output.VectorFormat) (output.VectorSource, error) {
	switch format {
	case output.FormatGeoJSON:
		return openGeoJSON(path)
	case output.FormatShapefile:
		return openShapefile(path)
	case output.FormatGeoPackage:
		return openGeoPackage(ctx, path)
	}
	return nil, fmt.Errorf("format %q: %w", format, domain.ErrUnsupportedFormat)
}

// looksLikeJSON reports whether the header starts a JSON object,
// allowing leading whitespace and a UTF-8 BOM.
func looksLikeJSON(header []byte) bool {
	trimmed := bytes.TrimPrefix(header, []byte{0xEF, 0xBB, 0xBF})
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
