package geotiff

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/jobrunner/stratum/internal/ports/output"
)

const (
	// tileSize is the edge length of stored tiles.
	tileSize = 256

	// overviewFloor stops the overview pyramid once both dimensions fit.
	overviewFloor = 512

	// maxAssetBytes is the classic TIFF offset ceiling.
	maxAssetBytes = int64(1)<<32 - 1
)

// WriteAsset renders grid window by window through produce and writes a
// tiled GeoTIFF with reduced-resolution overviews to f. All directories
// and header values are written ahead of the tile data, so readers can
// map the file from its first bytes.
func WriteAsset(ctx context.Context, f *os.File, grid output.RasterGrid, produce output.WindowProducer) error {
	if grid.Width <= 0 || grid.Height <= 0 || !grid.Extent.IsValid() {
		return fmt.Errorf("invalid target grid %dx%d", grid.Width, grid.Height)
	}

	w := &assetWriter{f: f, grid: grid, levels: computeLevels(grid.Width, grid.Height)}
	if err := w.writeHeader(); err != nil {
		return err
	}
	for i := range w.levels {
		if err := w.writeLevel(ctx, i, produce); err != nil {
			return err
		}
	}
	if err := w.patchIndexes(); err != nil {
		return err
	}
	return f.Sync()
}

// levelLayout tracks one resolution level while the asset is written.
type levelLayout struct {
	width, height int
	tilesAcross   int
	tilesDown     int

	// offsetsPatch and countsPatch are the file positions of the index
	// arrays (or of the inline IFD value slot for single-tile levels),
	// filled in once all tile sizes are known.
	offsetsPatch int64
	countsPatch  int64
	offsets      []uint64
	counts       []uint64
}

func (lv *levelLayout) tiles() int {
	return lv.tilesAcross * lv.tilesDown
}

// computeLevels halves the grid until both dimensions fit the overview
// floor. Index 0 is the full-resolution grid.
func computeLevels(width, height int) []*levelLayout {
	var levels []*levelLayout
	w, h := width, height
	for {
		levels = append(levels, &levelLayout{
			width:       w,
			height:      h,
			tilesAcross: (w + tileSize - 1) / tileSize,
			tilesDown:   (h + tileSize - 1) / tileSize,
		})
		if w <= overviewFloor && h <= overviewFloor {
			return levels
		}
		w, h = (w+1)/2, (h+1)/2
	}
}

type assetWriter struct {
	f      *os.File
	grid   output.RasterGrid
	levels []*levelLayout

	dataStart int64
	pos       int64

	zbuf bytes.Buffer
	zw   *zlib.Writer
}

func (w *assetWriter) entryCount(level int) int {
	if level == 0 {
		return 17 // base tags plus the three georeferencing tags
	}
	return 14
}

func (w *assetWriter) ifdSize(level int) int {
	return 2 + w.entryCount(level)*12 + 4
}

func (w *assetWriter) valuesSize(level int) int {
	size := 8 + 8 // BitsPerSample, SampleFormat
	if t := w.levels[level].tiles(); t > 1 {
		size += 8 * t // TileOffsets, TileByteCounts
	}
	if level == 0 {
		size += 24 + 48 + 32 // ModelPixelScale, ModelTiepoint, GeoKeyDirectory
	}
	return size
}

// writeHeader lays out and writes the complete header region: TIFF
// header, one IFD per level with its external values interleaved.
func (w *assetWriter) writeHeader() error {
	total := 8
	for i := range w.levels {
		total += w.ifdSize(i) + w.valuesSize(i)
	}

	buf := make([]byte, total)
	le := binary.LittleEndian
	buf[0], buf[1] = 'I', 'I'
	le.PutUint16(buf[2:], magicClassic)
	le.PutUint32(buf[4:], 8)

	pos := 8
	for i := range w.levels {
		pos = w.buildIFD(buf, pos, i)
	}

	w.dataStart = int64(total)
	w.pos = w.dataStart
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}

// buildIFD fills in the IFD for one level at pos and returns the
// position right after its external values.
func (w *assetWriter) buildIFD(buf []byte, pos, level int) int {
	le := binary.LittleEndian
	lv := w.levels[level]
	n := w.entryCount(level)

	le.PutUint16(buf[pos:], uint16(n))
	e := &entryBuilder{buf: buf, entryPos: pos + 2, valuePos: pos + 2 + n*12 + 4}

	subfile := uint32(0)
	if level > 0 {
		subfile = subfileReduced
	}
	e.inline(tagNewSubfileType, typeLong, 1, subfile)
	e.inline(tagImageWidth, typeLong, 1, uint32(lv.width))
	e.inline(tagImageLength, typeLong, 1, uint32(lv.height))
	e.external(tagBitsPerSample, typeShort, 4, shorts(8, 8, 8, 8))
	e.inlineShort(tagCompression, compressionDeflate)
	e.inlineShort(tagPhotometric, photometricRGB)
	e.inlineShort(tagSamplesPerPixel, 4)
	e.inlineShort(tagPlanarConfig, 1)
	e.inlineShort(tagTileWidth, tileSize)
	e.inlineShort(tagTileLength, tileSize)

	t := lv.tiles()
	if t > 1 {
		lv.offsetsPatch = int64(e.external(tagTileOffsets, typeLong, uint32(t), make([]byte, 4*t)))
		lv.countsPatch = int64(e.external(tagTileByteCounts, typeLong, uint32(t), make([]byte, 4*t)))
	} else {
		lv.offsetsPatch = int64(e.inline(tagTileOffsets, typeLong, 1, 0))
		lv.countsPatch = int64(e.inline(tagTileByteCounts, typeLong, 1, 0))
	}

	e.inlineShort(tagExtraSamples, 2) // unassociated alpha
	e.external(tagSampleFormat, typeShort, 4, shorts(1, 1, 1, 1))

	if level == 0 {
		e.external(tagModelPixelScale, typeDouble, 3,
			doubles(w.grid.ResX(), w.grid.ResY(), 0))
		e.external(tagModelTiepoint, typeDouble, 6,
			doubles(0, 0, 0, w.grid.Extent.MinX, w.grid.Extent.MaxY, 0))
		e.external(tagGeoKeyDirectory, typeShort, 16, shorts(
			1, 1, 0, 3,
			keyModelType, 0, 1, modelTypeProjected,
			keyRasterType, 0, 1, rasterTypePixelArea,
			keyProjectedCSType, 0, 1, uint16(w.grid.Extent.SRID),
		))
	}

	// Next-IFD pointer sits right after the entry table.
	next := uint32(0)
	if level < len(w.levels)-1 {
		next = uint32(e.valuePos)
	}
	le.PutUint32(buf[pos+2+n*12:], next)
	return e.valuePos
}

// entryBuilder emits ascending-tag IFD entries, placing oversized
// values into the region following the entry table.
type entryBuilder struct {
	buf      []byte
	entryPos int
	valuePos int
}

// inline writes an entry whose value fits the 4-byte slot and returns
// the slot's position.
func (e *entryBuilder) inline(tag, typ uint16, count, value uint32) int {
	le := binary.LittleEndian
	le.PutUint16(e.buf[e.entryPos:], tag)
	le.PutUint16(e.buf[e.entryPos+2:], typ)
	le.PutUint32(e.buf[e.entryPos+4:], count)
	slot := e.entryPos + 8
	if typ == typeShort {
		le.PutUint16(e.buf[slot:], uint16(value))
	} else {
		le.PutUint32(e.buf[slot:], value)
	}
	e.entryPos += 12
	return slot
}

func (e *entryBuilder) inlineShort(tag uint16, value uint32) {
	e.inline(tag, typeShort, 1, value)
}

// external writes an entry pointing at data appended to the value
// region and returns the data's position.
func (e *entryBuilder) external(tag, typ uint16, count uint32, data []byte) int {
	pos := e.valuePos
	e.inline(tag, typ, count, uint32(pos))
	copy(e.buf[pos:], data)
	e.valuePos += len(data)
	return pos
}

func shorts(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func doubles(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// writeLevel renders and appends all tiles of one level. Level 0 pixels
// come from the producer, overview pixels from a box-filtered readback
// of the previous level.
func (w *assetWriter) writeLevel(ctx context.Context, level int, produce output.WindowProducer) error {
	lv := w.levels[level]
	for ty := 0; ty < lv.tilesDown; ty++ {
		for tx := 0; tx < lv.tilesAcross; tx++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			rect := image.Rect(
				tx*tileSize, ty*tileSize,
				minInt((tx+1)*tileSize, lv.width),
				minInt((ty+1)*tileSize, lv.height),
			)

			var img *image.NRGBA
			var err error
			if level == 0 {
				img, err = produce(ctx, rect)
			} else {
				img, err = w.downsampleWindow(ctx, level, rect)
			}
			if err != nil {
				return err
			}
			if img == nil || img.Bounds() != rect {
				return fmt.Errorf("window producer returned wrong bounds for %v", rect)
			}

			if err := w.appendTile(lv, img, rect); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendTile compresses one tile and appends it to the data region.
func (w *assetWriter) appendTile(lv *levelLayout, img *image.NRGBA, rect image.Rectangle) error {
	raw := make([]byte, tileSize*tileSize*4)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		src := img.PixOffset(rect.Min.X, y)
		dst := (y - rect.Min.Y) * tileSize * 4
		copy(raw[dst:dst+rect.Dx()*4], img.Pix[src:src+rect.Dx()*4])
	}

	w.zbuf.Reset()
	if w.zw == nil {
		w.zw = zlib.NewWriter(&w.zbuf)
	} else {
		w.zw.Reset(&w.zbuf)
	}
	if _, err := w.zw.Write(raw); err != nil {
		return err
	}
	if err := w.zw.Close(); err != nil {
		return err
	}

	size := int64(w.zbuf.Len())
	if w.pos+size > maxAssetBytes {
		return fmt.Errorf("asset exceeds the 4 GiB TIFF limit")
	}
	if _, err := w.f.WriteAt(w.zbuf.Bytes(), w.pos); err != nil {
		return err
	}

	lv.offsets = append(lv.offsets, uint64(w.pos))
	lv.counts = append(lv.counts, uint64(size))
	w.pos += size
	if w.pos%2 == 1 {
		w.pos++
	}
	return nil
}

// downsampleWindow produces one overview window as the 2x2 box average
// of the previous, already written level.
func (w *assetWriter) downsampleWindow(ctx context.Context, level int, rect image.Rectangle) (*image.NRGBA, error) {
	prev := w.levels[level-1]
	srcRect := image.Rect(
		rect.Min.X*2, rect.Min.Y*2,
		minInt(rect.Max.X*2, prev.width),
		minInt(rect.Max.Y*2, prev.height),
	)

	src, err := w.readLevelWindow(ctx, prev, srcRect)
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			var r, g, b, a, n uint32
			for dy := 0; dy < 2; dy++ {
				sy := y*2 + dy
				if sy >= srcRect.Max.Y {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					sx := x*2 + dx
					if sx >= srcRect.Max.X {
						continue
					}
					o := src.PixOffset(sx, sy)
					r += uint32(src.Pix[o])
					g += uint32(src.Pix[o+1])
					b += uint32(src.Pix[o+2])
					a += uint32(src.Pix[o+3])
					n++
				}
			}
			o := dst.PixOffset(x, y)
			dst.Pix[o] = uint8(r / n)
			dst.Pix[o+1] = uint8(g / n)
			dst.Pix[o+2] = uint8(b / n)
			dst.Pix[o+3] = uint8(a / n)
		}
	}
	return dst, nil
}

// readLevelWindow reads back already written tiles of one level using
// the in-memory tile index.
func (w *assetWriter) readLevelWindow(ctx context.Context, lv *levelLayout, rect image.Rectangle) (*image.NRGBA, error) {
	d := &imageDir{
		r:           w.f,
		bo:          binary.LittleEndian,
		width:       lv.width,
		height:      lv.height,
		compression: compressionDeflate,
		photometric: photometricRGB,
		samples:     4,
		predictor:   predictorNone,
		tiled:       true,
		blockWidth:  tileSize,
		blockHeight: tileSize,
		offsets:     lv.offsets,
		counts:      lv.counts,
	}
	return d.readWindow(ctx, rect)
}

// patchIndexes writes the now-known tile offsets and byte counts into
// the slots reserved in the header region.
func (w *assetWriter) patchIndexes() error {
	le := binary.LittleEndian
	for _, lv := range w.levels {
		offs := make([]byte, 4*len(lv.offsets))
		cnts := make([]byte, 4*len(lv.counts))
		for i := range lv.offsets {
			le.PutUint32(offs[i*4:], uint32(lv.offsets[i]))
			le.PutUint32(cnts[i*4:], uint32(lv.counts[i]))
		}
		if _, err := w.f.WriteAt(offs, lv.offsetsPatch); err != nil {
			return err
		}
		if _, err := w.f.WriteAt(cnts, lv.countsPatch); err != nil {
			return err
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
