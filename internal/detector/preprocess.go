package detector

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// cropRect grows box by padding on every side and clamps it to bounds.
func cropRect(box Box, padding float64, bounds image.Rectangle) image.Rectangle {
	padW := box.W * padding
	padH := box.H * padding
	x1 := math.Max(float64(bounds.Min.X), box.X-padW)
	y1 := math.Max(float64(bounds.Min.Y), box.Y-padH)
	x2 := math.Min(float64(bounds.Max.X), box.X+box.W+padW)
	y2 := math.Min(float64(bounds.Max.Y), box.Y+box.H+padH)
	if x1 >= x2 || y1 >= y2 {
		return image.Rectangle{}
	}
	return image.Rect(int(x1), int(y1), int(math.Ceil(x2)), int(math.Ceil(y2))).Intersect(bounds)
}

// Preprocess crops the padded face, scales it to a size×size square and
// returns a channel-first tensor normalized with the ImageNet statistics.
// It returns nil when the crop is empty.
func Preprocess(img image.Image, box Box, size int, padding float64) []float32 {
	r := cropRect(box, padding, img.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for i := range plane {
		p := dst.Pix[i*4 : i*4+3 : i*4+3]
		for c := range 3 {
			v := float32(p[c]) / 255
			out[c*plane+i] = (v - channelMean[c]) / channelStd[c]
		}
	}
	return out
}
