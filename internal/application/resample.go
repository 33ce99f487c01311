package application

import (
	"image"
	"image/color"
	"math"
)

// sampleBilinear reads an image at a fractional pixel position, blending
// the four surrounding pixel centers. Color channels are weighted by
// alpha so transparent neighbors fade the result out instead of pulling
// it toward black. Positions outside the image resolve to transparency.
func sampleBilinear(img *image.NRGBA, x, y float64) color.NRGBA {
	u, v := x-0.5, y-0.5
	i0, j0 := int(math.Floor(u)), int(math.Floor(v))
	fu, fv := u-float64(i0), v-float64(j0)

	weights := [4]float64{(1 - fu) * (1 - fv), fu * (1 - fv), (1 - fu) * fv, fu * fv}
	offsets := [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}

	var r, g, b, a float64
	for k, off := range offsets {
		wgt := weights[k]
		if wgt == 0 {
			continue
		}
		c := pixelAt(img, i0+off[0], j0+off[1])
		wa := wgt * float64(c.A)
		r += wa * float64(c.R)
		g += wa * float64(c.G)
		b += wa * float64(c.B)
		a += wa
	}
	if a == 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{
		R: uint8(math.Round(r / a)),
		G: uint8(math.Round(g / a)),
		B: uint8(math.Round(b / a)),
		A: uint8(math.Round(math.Min(a, 255))),
	}
}

// pixelAt returns the pixel at absolute coordinates, transparent when
// outside the image bounds.
func pixelAt(img *image.NRGBA, x, y int) color.NRGBA {
	if !(image.Point{X: x, Y: y}).In(img.Rect) {
		return color.NRGBA{}
	}
	return img.NRGBAAt(x, y)
}
