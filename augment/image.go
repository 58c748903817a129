// Package augment implements the AugMix operation chains on CHW float images
// with pixel values in [0, 1].
package augment

import (
	"fmt"
	"math"
)

// Image is a single CHW image.
type Image struct {
	Channels int
	Height   int
	Width    int
	Pix      []float32
}

// NewImage wraps pix as a CHW image.
func NewImage(channels, height, width int, pix []float32) (Image, error) {
	if channels <= 0 || height <= 0 || width <= 0 {
		return Image{}, fmt.Errorf("invalid image dimensions %dx%dx%d", channels, height, width)
	}
	if len(pix) != channels*height*width {
		return Image{}, fmt.Errorf("pixel buffer has %d values, expected %d", len(pix), channels*height*width)
	}
	return Image{Channels: channels, Height: height, Width: width, Pix: pix}, nil
}

func (im Image) blank() Image {
	return Image{Channels: im.Channels, Height: im.Height, Width: im.Width, Pix: make([]float32, len(im.Pix))}
}

// Clone returns a deep copy.
func (im Image) Clone() Image {
	out := im.blank()
	copy(out.Pix, im.Pix)
	return out
}

func (im Image) plane(c int) []float32 {
	n := im.Height * im.Width
	return im.Pix[c*n : (c+1)*n]
}

// sample reads channel c at (x, y) with nearest-neighbour rounding; outside
// pixels are black.
func (im Image) sample(c int, x, y float64) float32 {
	xi := int(math.Floor(x + 0.5))
	yi := int(math.Floor(y + 0.5))
	if xi < 0 || yi < 0 || xi >= im.Width || yi >= im.Height {
		return 0
	}
	return im.Pix[c*im.Height*im.Width+yi*im.Width+xi]
}

// transform builds an image whose pixel (x, y) is read from src at inverse(x, y).
func (im Image) transform(inverse func(x, y float64) (float64, float64)) Image {
	out := im.blank()
	for c := 0; c < im.Channels; c++ {
		dst := out.plane(c)
		for y := 0; y < im.Height; y++ {
			for x := 0; x < im.Width; x++ {
				sx, sy := inverse(float64(x), float64(y))
				dst[y*im.Width+x] = im.sample(c, sx, sy)
			}
		}
	}
	return out
}

func toByte(v float32) int {
	b := int(math.Floor(float64(v)*255 + 0.5))
	return min(max(b, 0), 255)
}
