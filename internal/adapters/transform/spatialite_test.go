package transform

import (
	"context"
	"math"
	"testing"

	"github.com/jobrunner/stratum/internal/domain"
)

// newSpatiaLiteOrSkip skips the test when the host has no SpatiaLite
// library.
func newSpatiaLiteOrSkip(t *testing.T) *SpatiaLite {
	t.Helper()
	sl, err := NewSpatiaLite(context.Background())
	if err != nil {
		t.Skipf("SpatiaLite not available: %v", err)
	}
	t.Cleanup(func() { _ = sl.Close() })
	return sl
}

func TestSpatiaLiteTransform(t *testing.T) {
	sl := newSpatiaLiteOrSkip(t)

	coord := domain.Coordinate{X: 10, Y: 45, SRID: domain.SRIDWGS84}
	got, err := sl.Transform(context.Background(), coord, domain.SRIDWebMercator)
	if err != nil {
		t.Fatalf("Transform() error: %v", err)
	}
	if math.Abs(got.X-1113194.9079327357) > 1e-3 || math.Abs(got.Y-5621521.486192067) > 1e-3 {
		t.Errorf("Transform() = (%v, %v), want (1113194.908, 5621521.486)", got.X, got.Y)
	}
}

func TestSpatiaLiteIsSupported(t *testing.T) {
	sl := newSpatiaLiteOrSkip(t)

	if !sl.IsSupported(domain.SRIDWGS84, domain.SRIDWebMercator) {
		t.Error("IsSupported(4326, 3857) = false")
	}
	// UTM zone 32N ships with the EPSG registry
	if !sl.IsSupported(25832, domain.SRIDWebMercator) {
		t.Error("IsSupported(25832, 3857) = false")
	}
	if sl.IsSupported(-1, domain.SRIDWebMercator) {
		t.Error("IsSupported(-1, 3857) = true")
	}
}
