package backbone

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/chaste10ve/person-search/tensor"
)

// PreprocessOptions controls image-to-tensor conversion.
type PreprocessOptions struct {
	// TargetShorter resizes so the shorter image side matches this value
	// while preserving aspect ratio. Zero keeps the original size.
	TargetShorter int

	// MaxLonger caps the longer side after resizing. Zero means no cap.
	MaxLonger int

	// Mean and Std are the per-channel (RGB) normalization constants.
	Mean [3]float32
	Std  [3]float32
}

// DefaultPreprocessOptions returns the ImageNet-style normalization the
// pretrained backbones expect.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		TargetShorter: 600,
		MaxLonger:     1000,
		Mean:          [3]float32{0.485, 0.456, 0.406},
		Std:           [3]float32{0.229, 0.224, 0.225},
	}
}

// DecodeImage reads and decodes an image from r.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// ImageScale computes the resize factor Preprocess will apply to img.
func ImageScale(img image.Image, opts PreprocessOptions) float32 {
	if opts.TargetShorter <= 0 {
		return 1
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	shorter, longer := w, h
	if h < w {
		shorter, longer = h, w
	}
	scale := float32(opts.TargetShorter) / float32(shorter)
	if opts.MaxLonger > 0 && scale*float32(longer) > float32(opts.MaxLonger) {
		scale = float32(opts.MaxLonger) / float32(longer)
	}
	return scale
}

// Preprocess converts an image into the CHW float32 tensor the backbone
// head consumes: resize, RGB split, [0,1] scaling, then per-channel
// mean/std normalization.
func Preprocess(img image.Image, opts PreprocessOptions) (*tensor.Dense, float32, error) {
	for c, s := range opts.Std {
		if s == 0 {
			return nil, 0, fmt.Errorf("std for channel %d is zero", c)
		}
	}
	scale := ImageScale(img, opts)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	newW := int(float32(w)*scale + 0.5)
	newH := int(float32(h)*scale + 0.5)
	if newW < 1 || newH < 1 {
		return nil, 0, fmt.Errorf("image %dx%d too small after scaling by %g", w, h, scale)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(rgba, rgba.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	data := make([]float32, 3*newH*newW)
	plane := newH * newW
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			off := rgba.PixOffset(x, y)
			idx := y*newW + x
			r := float32(rgba.Pix[off]) / 255
			g := float32(rgba.Pix[off+1]) / 255
			b := float32(rgba.Pix[off+2]) / 255
			data[idx] = (r - opts.Mean[0]) / opts.Std[0]
			data[plane+idx] = (g - opts.Mean[1]) / opts.Std[1]
			data[2*plane+idx] = (b - opts.Mean[2]) / opts.Std[2]
		}
	}

	t, err := tensor.FromSlice(data, 3, newH, newW)
	if err != nil {
		return nil, 0, err
	}
	return t, scale, nil
}
