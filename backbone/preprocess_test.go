package backbone

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestImageScale(t *testing.T) {
	opts := PreprocessOptions{TargetShorter: 600, MaxLonger: 1000}

	t.Run("ShorterSideDriven", func(t *testing.T) {
		img := solidImage(300, 400, color.RGBA{})
		assert.InDelta(t, 2.0, ImageScale(img, opts), 1e-5)
	})

	t.Run("LongerSideCapped", func(t *testing.T) {
		img := solidImage(300, 900, color.RGBA{})
		// Shorter-driven scale 2.0 would make the longer side 1800 > 1000.
		assert.InDelta(t, 1000.0/900.0, ImageScale(img, opts), 1e-5)
	})

	t.Run("NoResize", func(t *testing.T) {
		img := solidImage(320, 240, color.RGBA{})
		assert.Equal(t, float32(1), ImageScale(img, PreprocessOptions{}))
	})
}

func TestPreprocess(t *testing.T) {
	t.Run("ShapeAndNormalization", func(t *testing.T) {
		img := solidImage(10, 8, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		opts := PreprocessOptions{
			Mean: [3]float32{0.5, 0.5, 0.5},
			Std:  [3]float32{0.5, 0.5, 0.5},
		}
		tns, scale, err := Preprocess(img, opts)
		require.NoError(t, err)
		assert.Equal(t, float32(1), scale)
		assert.Equal(t, []int{3, 8, 10}, tns.Shape())

		// R channel: (1 - 0.5)/0.5 = 1; G/B: (0 - 0.5)/0.5 = -1.
		data := tns.Data()
		plane := 8 * 10
		assert.InDelta(t, 1.0, data[0], 1e-2)
		assert.InDelta(t, -1.0, data[plane], 1e-2)
		assert.InDelta(t, -1.0, data[2*plane], 1e-2)
	})

	t.Run("Resized", func(t *testing.T) {
		img := solidImage(100, 50, color.RGBA{A: 255})
		opts := PreprocessOptions{
			TargetShorter: 25,
			Mean:          [3]float32{0, 0, 0},
			Std:           [3]float32{1, 1, 1},
		}
		tns, scale, err := Preprocess(img, opts)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, scale, 1e-5)
		assert.Equal(t, []int{3, 25, 50}, tns.Shape())
	})

	t.Run("ZeroStdRejected", func(t *testing.T) {
		img := solidImage(4, 4, color.RGBA{A: 255})
		_, _, err := Preprocess(img, PreprocessOptions{})
		assert.Error(t, err)
	})
}
