package raster

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func solidProducer(c [4]uint8) output.WindowProducer {
	return func(ctx context.Context, rect image.Rectangle) (*image.NRGBA, error) {
		img := image.NewNRGBA(rect)
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				o := img.PixOffset(x, y)
				copy(img.Pix[o:o+4], c[:])
			}
		}
		return img, nil
	}
}

func TestStoreWriteOpenRemove(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "assets"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	grid := output.RasterGrid{
		Width:  100,
		Height: 80,
		Extent: domain.NewExtent(0, 0, 1000, 800, domain.SRIDWebMercator),
	}

	locator, err := store.Write(context.Background(), "layer-1", grid, solidProducer([4]uint8{10, 20, 30, 255}))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasSuffix(locator, ".tif") {
		t.Errorf("locator = %q, want a .tif path", locator)
	}
	if _, err := os.Stat(locator); err != nil {
		t.Fatalf("asset file missing: %v", err)
	}
	if _, err := os.Stat(locator + ".partial"); !os.IsNotExist(err) {
		t.Error("partial file left behind after successful write")
	}

	reader, err := store.Open(context.Background(), locator)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := reader.Grid(); got != grid {
		t.Errorf("Grid() = %+v, want %+v", got, grid)
	}
	img, err := reader.ReadWindow(context.Background(), 0, image.Rect(50, 40, 51, 41))
	if err != nil {
		t.Fatalf("ReadWindow() error = %v", err)
	}
	o := img.PixOffset(50, 40)
	if img.Pix[o] != 10 || img.Pix[o+1] != 20 || img.Pix[o+2] != 30 || img.Pix[o+3] != 255 {
		t.Errorf("pixel = %v, want [10 20 30 255]", img.Pix[o:o+4])
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(locator); !os.IsNotExist(err) {
		t.Error("asset file still present after Remove")
	}

	// Cleanup paths may call Remove twice.
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}

	if _, err := store.Open(context.Background(), locator); !errors.Is(err, domain.ErrRasterRead) {
		t.Errorf("Open() after Remove error = %v, want ErrRasterRead", err)
	}
}

func TestStoreOpenCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	path := filepath.Join(dir, "broken.tif")
	if err := os.WriteFile(path, []byte("not a tiff at all"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := store.Open(context.Background(), path); !errors.Is(err, domain.ErrRasterRead) {
		t.Errorf("Open() error = %v, want ErrRasterRead", err)
	}
}

func TestStoreRemoveOutsideDir(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := store.Remove(context.Background(), "/etc/passwd"); err == nil {
		t.Fatal("Remove() outside the asset directory should fail")
	}
}
