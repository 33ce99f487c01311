package geotiff

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/tiff/lzw"

	"github.com/jobrunner/stratum/internal/domain"
)

// maxDirectories caps the IFD chain length so a corrupt next pointer
// cannot loop forever.
const maxDirectories = 64

// subfileReduced marks an IFD as a reduced-resolution overview.
const subfileReduced = 0x1

// File is an open TIFF file with all its image directories parsed.
type File struct {
	f    *os.File
	bo   binary.ByteOrder
	dirs []*imageDir
}

// imageDir is one decoded image directory.
type imageDir struct {
	r  io.ReaderAt
	bo binary.ByteOrder

	width, height int
	subfileType   uint64

	compression int
	photometric int
	samples     int
	predictor   int

	// Tile layout; for stripped files blockWidth spans the full image
	// width and blockHeight is RowsPerStrip.
	tiled       bool
	blockWidth  int
	blockHeight int
	offsets     []uint64
	counts      []uint64

	pixelScale     []float64
	tiepoint       []float64
	modelTransform []float64
	keys           map[int]int
}

// Open parses the TIFF at path. The caller owns the returned File and
// must Close it.
func Open(path string) (*File, error) {
	f, err := os.Open(path) //#nosec G304 -- path is a controlled staging or asset location
	if err != nil {
		return nil, err
	}

	file, err := parseFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return file, nil
}

func parseFile(f *os.File) (*File, error) {
	var hdr [8]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", domain.ErrUnsupportedRasterFormat)
	}

	var bo binary.ByteOrder
	switch binary.BigEndian.Uint16(hdr[0:2]) {
	case byteOrderLittle:
		bo = binary.LittleEndian
	case byteOrderBig:
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file: %w", domain.ErrUnsupportedRasterFormat)
	}
	if bo.Uint16(hdr[2:4]) != magicClassic {
		return nil, fmt.Errorf("not a classic TIFF file: %w", domain.ErrUnsupportedRasterFormat)
	}

	file := &File{f: f, bo: bo}
	off := int64(bo.Uint32(hdr[4:8]))
	for off != 0 && len(file.dirs) < maxDirectories {
		dir, next, err := parseDirectory(f, bo, off)
		if err != nil {
			return nil, err
		}
		img, err := newImageDir(f, bo, dir)
		if err != nil {
			return nil, err
		}
		file.dirs = append(file.dirs, img)
		off = next
	}

	if len(file.dirs) == 0 {
		return nil, fmt.Errorf("no image directories: %w", domain.ErrUnsupportedRasterFormat)
	}
	return file, nil
}

// Close releases the underlying file handle.
func (t *File) Close() error {
	return t.f.Close()
}

// Directories returns all image directories in file order.
func (t *File) Directories() []*imageDir {
	return t.dirs
}

// FullResolution returns the first directory that is not marked as a
// reduced-resolution overview.
func (t *File) FullResolution() *imageDir {
	for _, d := range t.dirs {
		if d.subfileType&subfileReduced == 0 {
			return d
		}
	}
	return t.dirs[0]
}

func newImageDir(r io.ReaderAt, bo binary.ByteOrder, dir *directory) (*imageDir, error) {
	width, okW := dir.uint(tagImageWidth)
	height, okH := dir.uint(tagImageLength)
	if !okW || !okH || width == 0 || height == 0 {
		return nil, fmt.Errorf("missing image dimensions: %w", domain.ErrUnsupportedRasterFormat)
	}

	d := &imageDir{
		r:           r,
		bo:          bo,
		width:       int(width),
		height:      int(height),
		subfileType: dir.uintDefault(tagNewSubfileType, 0),
		compression: int(dir.uintDefault(tagCompression, compressionNone)),
		photometric: int(dir.uintDefault(tagPhotometric, photometricMinIsBlack)),
		samples:     int(dir.uintDefault(tagSamplesPerPixel, 1)),
		predictor:   int(dir.uintDefault(tagPredictor, predictorNone)),
		keys:        dir.geoKeys(),
	}

	if v, ok := dir.doubles(tagModelPixelScale); ok {
		d.pixelScale = v
	}
	if v, ok := dir.doubles(tagModelTiepoint); ok {
		d.tiepoint = v
	}
	if v, ok := dir.doubles(tagModelTransformation); ok {
		d.modelTransform = v
	}

	if _, tiled := dir.uint(tagTileWidth); tiled {
		d.tiled = true
		d.blockWidth = int(dir.uintDefault(tagTileWidth, 0))
		d.blockHeight = int(dir.uintDefault(tagTileLength, 0))
		d.offsets, _ = dir.uints(tagTileOffsets)
		d.counts, _ = dir.uints(tagTileByteCounts)
	} else {
		d.blockWidth = d.width
		d.blockHeight = int(dir.uintDefault(tagRowsPerStrip, uint64(d.height)))
		d.offsets, _ = dir.uints(tagStripOffsets)
		d.counts, _ = dir.uints(tagStripByteCounts)
	}
	if d.blockWidth <= 0 || d.blockHeight <= 0 {
		return nil, fmt.Errorf("invalid block size: %w", domain.ErrUnsupportedRasterFormat)
	}
	if len(d.offsets) == 0 || len(d.offsets) != len(d.counts) {
		return nil, fmt.Errorf("missing block offsets: %w", domain.ErrUnsupportedRasterFormat)
	}
	if want := d.blocksAcross() * d.blocksDown(); len(d.offsets) < want {
		return nil, fmt.Errorf("have %d blocks, want %d: %w", len(d.offsets), want, domain.ErrUnsupportedRasterFormat)
	}

	if err := d.checkPixelFormat(dir); err != nil {
		return nil, err
	}
	return d, nil
}

// checkPixelFormat rejects sample layouts the decoder does not handle.
func (d *imageDir) checkPixelFormat(dir *directory) error {
	if planar := dir.uintDefault(tagPlanarConfig, 1); planar != 1 {
		return fmt.Errorf("planar configuration %d: %w", planar, domain.ErrUnsupportedRasterFormat)
	}
	switch d.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionOldDeflate:
	default:
		return fmt.Errorf("compression %d: %w", d.compression, domain.ErrUnsupportedRasterFormat)
	}
	switch d.photometric {
	case photometricMinIsBlack, photometricRGB:
	default:
		return fmt.Errorf("photometric interpretation %d: %w", d.photometric, domain.ErrUnsupportedRasterFormat)
	}
	if d.samples < 1 || d.samples > 4 {
		return fmt.Errorf("%d samples per pixel: %w", d.samples, domain.ErrUnsupportedRasterFormat)
	}
	if bits, ok := dir.uints(tagBitsPerSample); ok {
		for _, b := range bits {
			if b != 8 {
				return fmt.Errorf("%d bits per sample: %w", b, domain.ErrUnsupportedRasterFormat)
			}
		}
	}
	return nil
}

// Size returns the pixel dimensions of the directory.
func (d *imageDir) Size() (int, int) {
	return d.width, d.height
}

func (d *imageDir) blocksAcross() int {
	return (d.width + d.blockWidth - 1) / d.blockWidth
}

func (d *imageDir) blocksDown() int {
	return (d.height + d.blockHeight - 1) / d.blockHeight
}

// georef derives the pixel-to-model mapping for a north-up grid.
func (d *imageDir) georef() (originX, originY, resX, resY float64, ok bool) {
	if len(d.modelTransform) >= 16 {
		t := d.modelTransform
		if t[1] != 0 || t[4] != 0 {
			return 0, 0, 0, 0, false // rotated grids are not supported
		}
		return t[3], t[7], t[0], -t[5], t[0] > 0 && t[5] < 0
	}
	if len(d.pixelScale) >= 2 && len(d.tiepoint) >= 6 {
		sx, sy := d.pixelScale[0], d.pixelScale[1]
		i, j := d.tiepoint[0], d.tiepoint[1]
		x, y := d.tiepoint[3], d.tiepoint[4]
		return x - i*sx, y + j*sy, sx, sy, sx > 0 && sy > 0
	}
	return 0, 0, 0, 0, false
}

// srid resolves the EPSG code from the geokeys, 0 when unknown.
func (d *imageDir) srid() int {
	switch d.keys[keyModelType] {
	case modelTypeProjected:
		if v, ok := d.keys[keyProjectedCSType]; ok && v != sridUserDefined {
			return v
		}
	case modelTypeGeographic:
		if v, ok := d.keys[keyGeographicType]; ok && v != sridUserDefined {
			return v
		}
	}
	return 0
}

// readWindow decodes rect into a fresh image. Pixels outside the grid
// stay transparent.
func (d *imageDir) readWindow(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error) {
	out := image.NewNRGBA(rect)
	visible := rect.Intersect(image.Rect(0, 0, d.width, d.height))
	if visible.Empty() {
		return out, nil
	}

	bx0 := visible.Min.X / d.blockWidth
	bx1 := (visible.Max.X - 1) / d.blockWidth
	by0 := visible.Min.Y / d.blockHeight
	by1 := (visible.Max.Y - 1) / d.blockHeight

	for by := by0; by <= by1; by++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for bx := bx0; bx <= bx1; bx++ {
			if err := d.decodeBlockInto(out, bx, by, visible); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// decodeBlockInto decodes block (bx, by) and copies its intersection
// with visible into out.
func (d *imageDir) decodeBlockInto(out *image.NRGBA, bx, by int, visible image.Rectangle) error {
	data, err := d.blockData(bx, by)
	if err != nil {
		return err
	}

	// Tiles are padded to the full block size; the last strip is not.
	rows := d.blockHeight
	if !d.tiled && (by+1)*d.blockHeight > d.height {
		rows = d.height - by*d.blockHeight
	}
	rowStride := d.blockWidth * d.samples
	if len(data) < rows*rowStride {
		return fmt.Errorf("block %d,%d: short data: %w", bx, by, domain.ErrUnsupportedRasterFormat)
	}
	if d.predictor == predictorHorizontal {
		undoHorizontalPredictor(data, d.blockWidth, rows, d.samples)
	}

	blockOrigin := image.Pt(bx*d.blockWidth, by*d.blockHeight)
	span := image.Rect(blockOrigin.X, blockOrigin.Y, blockOrigin.X+d.blockWidth, blockOrigin.Y+rows).Intersect(visible)

	for y := span.Min.Y; y < span.Max.Y; y++ {
		src := (y-blockOrigin.Y)*rowStride + (span.Min.X-blockOrigin.X)*d.samples
		dst := out.PixOffset(span.Min.X, y)
		for x := span.Min.X; x < span.Max.X; x++ {
			px := data[src : src+d.samples : src+d.samples]
			switch d.samples {
			case 1:
				out.Pix[dst+0] = px[0]
				out.Pix[dst+1] = px[0]
				out.Pix[dst+2] = px[0]
				out.Pix[dst+3] = 0xff
			case 2:
				out.Pix[dst+0] = px[0]
				out.Pix[dst+1] = px[0]
				out.Pix[dst+2] = px[0]
				out.Pix[dst+3] = px[1]
			case 3:
				out.Pix[dst+0] = px[0]
				out.Pix[dst+1] = px[1]
				out.Pix[dst+2] = px[2]
				out.Pix[dst+3] = 0xff
			case 4:
				copy(out.Pix[dst:dst+4], px)
			}
			src += d.samples
			dst += 4
		}
	}
	return nil
}

// blockData reads and decompresses one block.
func (d *imageDir) blockData(bx, by int) ([]byte, error) {
	idx := by*d.blocksAcross() + bx
	off, size := int64(d.offsets[idx]), int64(d.counts[idx])
	if size > maxFieldBytes {
		return nil, fmt.Errorf("block %d: %d bytes: %w", idx, size, domain.ErrUnsupportedRasterFormat)
	}

	raw := make([]byte, size)
	if _, err := d.r.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("read block %d: %w", idx, err)
	}

	switch d.compression {
	case compressionNone:
		return raw, nil
	case compressionDeflate, compressionOldDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", idx, err)
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(io.LimitReader(zr, maxFieldBytes))
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer func() { _ = lr.Close() }()
		return io.ReadAll(io.LimitReader(lr, maxFieldBytes))
	}
	return nil, fmt.Errorf("compression %d: %w", d.compression, domain.ErrUnsupportedRasterFormat)
}

// undoHorizontalPredictor reverses per-row horizontal differencing.
func undoHorizontalPredictor(data []byte, width, rows, samples int) {
	stride := width * samples
	for y := 0; y < rows; y++ {
		row := data[y*stride : (y+1)*stride]
		for i := samples; i < len(row); i++ {
			row[i] += row[i-samples]
		}
	}
}
