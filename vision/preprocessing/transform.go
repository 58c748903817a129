package preprocessing

import (
	"math/rand/v2"
)

// RandomCropFlip zero-pads each image by Padding pixels, crops it back to its
// original size at a random offset and mirrors it horizontally with
// probability 1/2 when Flip is set.
type RandomCropFlip struct {
	Padding int
	Flip    bool
}

// CropFlipParams are the random choices for one image.
type CropFlipParams struct {
	DX, DY int // crop offset into the padded image, in [0, 2·Padding]
	Mirror bool
}

// NewCIFARTransform returns the standard CIFAR training transform.
func NewCIFARTransform() RandomCropFlip {
	return RandomCropFlip{Padding: 4, Flip: true}
}

// Sample draws the parameters for one image. Draws happen in a fixed order:
// x offset, y offset, flip.
func (t RandomCropFlip) Sample(rng *rand.Rand) CropFlipParams {
	var p CropFlipParams
	if t.Padding > 0 {
		p.DX = rng.IntN(2*t.Padding + 1)
		p.DY = rng.IntN(2*t.Padding + 1)
	} else {
		p.DX, p.DY = t.Padding, t.Padding
	}
	if t.Flip {
		p.Mirror = rng.IntN(2) == 1
	}
	return p
}

// Apply returns the transformed copy of a CHW image.
func (t RandomCropFlip) Apply(pixels []float32, channels, height, width int, p CropFlipParams) []float32 {
	out := make([]float32, len(pixels))
	plane := height * width
	for c := 0; c < channels; c++ {
		src := pixels[c*plane : (c+1)*plane]
		dst := out[c*plane : (c+1)*plane]
		for y := 0; y < height; y++ {
			sy := y + p.DY - t.Padding
			if sy < 0 || sy >= height {
				continue
			}
			for x := 0; x < width; x++ {
				sx := x + p.DX - t.Padding
				if sx < 0 || sx >= width {
					continue
				}
				dx := x
				if p.Mirror {
					dx = width - 1 - x
				}
				dst[y*width+dx] = src[sy*width+sx]
			}
		}
	}
	return out
}
