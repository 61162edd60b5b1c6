package detector

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	return img
}

func TestCropFinder_BlankFrameHasNoFace(t *testing.T) {
	f := CropFinder{MinDeviation: DefaultMinDeviation, Inset: 0.3}
	boxes, err := f.Detect(context.Background(), solid(16, 16))
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestCropFinder_PaddedCropCoversFrame(t *testing.T) {
	f := CropFinder{MinDeviation: DefaultMinDeviation, Inset: 0.25}
	img := checker(30, 60)
	boxes, err := f.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	b := boxes[0]
	assert.InDelta(t, 20.0, b.W, 1e-9)
	assert.InDelta(t, 40.0, b.H, 1e-9)
	assert.InDelta(t, 5.0, b.X, 1e-9)
	assert.InDelta(t, 10.0, b.Y, 1e-9)
	assert.Equal(t, img.Bounds(), cropRect(b, 0.25, img.Bounds()))
}
