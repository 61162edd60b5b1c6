package detector

import (
	"context"
	"image"
	"math"
)

// DefaultMinDeviation is the luma spread below which a frame counts as
// empty (lens cap, black camera, blank capture).
const DefaultMinDeviation = 8.0

// CropFinder treats every frame as a single pre-cropped face. Frames whose
// luma standard deviation stays under MinDeviation yield no face.
type CropFinder struct {
	MinDeviation float64
	// Inset shrinks the reported box so the padded crop lands on the frame.
	Inset float64
}

func (f CropFinder) Detect(_ context.Context, img image.Image) ([]Box, error) {
	b := img.Bounds()
	if b.Empty() || lumaDeviation(img) < f.MinDeviation {
		return nil, nil
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	k := 1 / (1 + 2*f.Inset)
	bw, bh := w*k, h*k
	return []Box{{
		X: float64(b.Min.X) + (w-bw)/2,
		Y: float64(b.Min.Y) + (h-bh)/2,
		W: bw,
		H: bh,
	}}, nil
}

// lumaDeviation samples at most 64x64 points.
func lumaDeviation(img image.Image) float64 {
	b := img.Bounds()
	stepX := max(1, b.Dx()/64)
	stepY := max(1, b.Dy()/64)
	var n, sum, sq float64
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			l := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
			sum += l
			sq += l * l
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / n
	return math.Sqrt(math.Max(0, sq/n-mean*mean))
}
