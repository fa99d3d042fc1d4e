package replay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/openadapt/adapt/internal/storage"
)

func DecodeScreenshot(s *storage.Screenshot) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(s.PNGData))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot %s: %w", s.ID, err)
	}
	return img, nil
}

// PaintDot returns a copy of img with a filled circle of the given radius
// centred on (x, y). img itself is left untouched.
func PaintDot(img image.Image, x, y float64, radius int, c color.Color) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	r := float64(radius)
	minX := int(math.Floor(x - r))
	maxX := int(math.Ceil(x + r))
	minY := int(math.Floor(y - r))
	maxY := int(math.Ceil(y + r))
	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			if !image.Pt(px, py).In(bounds) {
				continue
			}
			dx := float64(px) - x
			dy := float64(py) - y
			if dx*dx+dy*dy <= r*r {
				out.Set(px, py, c)
			}
		}
	}
	return out
}
