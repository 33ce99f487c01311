// Package geotiff reads and writes tiled GeoTIFF rasters without cgo.
//
// The reader handles the subset of the format produced by common
// geodata tooling: 8-bit grayscale, RGB and RGBA samples, strip or tile
// layout, deflate or LZW or no compression, horizontal predictor, and
// the GeoTIFF georeferencing tags. The writer produces cloud-optimized
// assets: deflate-compressed 256 px tiles with reduced-resolution
// overview directories, headers ahead of all tile data.
package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF header magic.
const (
	byteOrderLittle = 0x4949 // "II"
	byteOrderBig    = 0x4d4d // "MM"
	magicClassic    = 42
)

// Baseline and extension tags.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

// GeoTIFF tags.
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// Photometric interpretations.
const (
	photometricMinIsBlack = 1
	photometricRGB        = 2
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
)

// GeoKey ids and values.
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterTypePixelArea = 1

	sridUserDefined = 32767
)

// Field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeFloat    = 11
	typeDouble   = 12
)

// maxFieldBytes bounds a single field's external value size. Offset and
// byte count arrays of very large rasters stay well below this.
const maxFieldBytes = 1 << 26

func typeSize(typ uint16) int {
	switch typ {
	case typeByte, typeASCII, 6, 7:
		return 1
	case typeShort, 8:
		return 2
	case typeLong, 9, typeFloat:
		return 4
	case typeRational, 10, typeDouble:
		return 8
	}
	return 0
}

// field is one IFD entry with its value bytes already fetched.
type field struct {
	typ   uint16
	count uint32
	data  []byte
}

// directory is a parsed image file directory.
type directory struct {
	bo     binary.ByteOrder
	fields map[uint16]field
}

// parseDirectory reads the IFD at off and returns it together with the
// offset of the next IFD in the chain (0 when this is the last one).
func parseDirectory(r io.ReaderAt, bo binary.ByteOrder, off int64) (*directory, int64, error) {
	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], off); err != nil {
		return nil, 0, fmt.Errorf("read IFD at %d: %w", off, err)
	}
	n := int(bo.Uint16(cnt[:]))

	buf := make([]byte, n*12+4)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, 0, fmt.Errorf("read IFD entries at %d: %w", off, err)
	}

	dir := &directory{bo: bo, fields: make(map[uint16]field, n)}
	for i := 0; i < n; i++ {
		e := buf[i*12 : i*12+12]
		tag := bo.Uint16(e[0:2])
		typ := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])

		size := int64(typeSize(typ)) * int64(count)
		if size == 0 {
			continue // unknown type, skip
		}
		if size > maxFieldBytes {
			return nil, 0, fmt.Errorf("field %d: value of %d bytes exceeds limit", tag, size)
		}

		var data []byte
		if size <= 4 {
			data = append([]byte(nil), e[8:8+size]...)
		} else {
			valOff := int64(bo.Uint32(e[8:12]))
			data = make([]byte, size)
			if _, err := r.ReadAt(data, valOff); err != nil {
				return nil, 0, fmt.Errorf("read field %d value at %d: %w", tag, valOff, err)
			}
		}
		dir.fields[tag] = field{typ: typ, count: count, data: data}
	}

	next := int64(bo.Uint32(buf[n*12:]))
	return dir, next, nil
}

// uints returns the field's values widened to uint64.
func (d *directory) uints(tag uint16) ([]uint64, bool) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte:
			out[i] = uint64(f.data[i])
		case typeShort:
			out[i] = uint64(d.bo.Uint16(f.data[i*2:]))
		case typeLong:
			out[i] = uint64(d.bo.Uint32(f.data[i*4:]))
		default:
			return nil, false
		}
	}
	return out, true
}

// uint returns the field's first value.
func (d *directory) uint(tag uint16) (uint64, bool) {
	vals, ok := d.uints(tag)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// uintDefault returns the field's first value, or def when absent.
func (d *directory) uintDefault(tag uint16, def uint64) uint64 {
	if v, ok := d.uint(tag); ok {
		return v
	}
	return def
}

// doubles returns the field's values as float64.
func (d *directory) doubles(tag uint16) ([]float64, bool) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, false
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(d.bo.Uint64(f.data[i*8:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(f.data[i*4:])))
		default:
			return nil, false
		}
	}
	return out, true
}

// geoKeys decodes the GeoKeyDirectory into a key/value map. Only keys
// stored inline as shorts are kept, which covers the model type and the
// EPSG code keys.
func (d *directory) geoKeys() map[int]int {
	vals, ok := d.uints(tagGeoKeyDirectory)
	if !ok || len(vals) < 4 {
		return nil
	}
	numKeys := int(vals[3])
	keys := make(map[int]int, numKeys)
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(vals) {
			break
		}
		id, loc, val := vals[base], vals[base+1], vals[base+3]
		if loc == 0 {
			keys[int(id)] = int(val)
		}
	}
	return keys
}
