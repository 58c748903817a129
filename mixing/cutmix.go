package mixing

import (
	"math"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// CutMix pastes a random rectangle from each image's permutation partner.
// It activates per batch with probability Prob and only when Beta > 0.
type CutMix struct {
	Beta float64
	Prob float64
	src  *Source
}

// NewCutMix returns the region-swap strategy.
func NewCutMix(beta, prob float64, src *Source) *CutMix {
	return &CutMix{Beta: beta, Prob: prob, src: src}
}

func (c *CutMix) Method() Method { return MethodCutMix }

// Apply draws the activation coin first. An inactive batch yields a RegionSwap
// plan with λ = 1, LabelsB = LabelsA and an empty box.
func (c *CutMix) Apply(images *tensor.Tensor, labels []int) (*Plan, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	n := len(labels)
	_, h, w, _ := images.ImageDims()

	r := c.src.Float64()
	if c.Beta <= 0 || r >= c.Prob {
		a := copyLabels(labels)
		return &Plan{
			Kind:   KindRegionSwap,
			Images: images.Clone(),
			Targets: []Target{{
				Start:       0,
				End:         n,
				LabelsA:     a,
				LabelsB:     copyLabels(labels),
				Lambda:      1,
				Permutation: identityPerm(n),
			}},
		}, nil
	}

	lam := c.src.Beta(c.Beta, c.Beta)
	perm := c.src.Perm(n)
	box, err := RandBBox(w, h, lam, c.src)
	if err != nil {
		return nil, err
	}

	mixed, err := swapRegion(images, perm, box)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Kind:   KindRegionSwap,
		Images: mixed,
		Box:    box,
		Targets: []Target{{
			Start:       0,
			End:         n,
			LabelsA:     copyLabels(labels),
			LabelsB:     permuteLabels(labels, perm),
			Lambda:      1 - float64(box.Area())/float64(w*h),
			Permutation: perm,
		}},
	}, nil
}

// RandBBox draws a box center uniformly (x then y) and sizes the box so that its
// unclipped area is (1-λ) of the image.
func RandBBox(width, height int, lam float64, src *Source) (Box, error) {
	if width <= 0 || height <= 0 {
		return Box{}, trainerr.DataShape("box", "invalid image size %dx%d", width, height)
	}
	cutRat := math.Sqrt(1 - lam)
	cutW := int(float64(width) * cutRat)
	cutH := int(float64(height) * cutRat)

	cx := src.IntN(width)
	cy := src.IntN(height)
	return ClipBox(cx, cy, cutW, cutH, width, height)
}

// ClipBox centers a cutW x cutH box on (cx, cy) and clips it to the image.
func ClipBox(cx, cy, cutW, cutH, width, height int) (Box, error) {
	box := Box{
		X1: clip(cx-cutW/2, 0, width),
		Y1: clip(cy-cutH/2, 0, height),
		X2: clip(cx+cutW/2, 0, width),
		Y2: clip(cy+cutH/2, 0, height),
	}
	if box.X1 > box.X2 || box.Y1 > box.Y2 {
		return Box{}, trainerr.DataShape("box", "degenerate box %+v in %dx%d image", box, width, height)
	}
	return box, nil
}

func clip(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// swapRegion copies the box region of images[perm[i]] into row i. Partners are
// read from the unmodified input.
func swapRegion(images *tensor.Tensor, perm []int, box Box) (*tensor.Tensor, error) {
	c, h, w, err := images.ImageDims()
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}
	if box.X1 < 0 || box.X2 > w || box.Y1 < 0 || box.Y2 > h || box.X1 > box.X2 || box.Y1 > box.Y2 {
		return nil, trainerr.DataShape("box", "box %+v outside %dx%d image", box, w, h)
	}

	out := images.Clone()
	plane := h * w
	for i, j := range perm {
		dst := out.Row(i)
		src := images.Row(j)
		for ch := 0; ch < c; ch++ {
			for y := box.Y1; y < box.Y2; y++ {
				off := ch*plane + y*w
				copy(dst[off+box.X1:off+box.X2], src[off+box.X1:off+box.X2])
			}
		}
	}
	return out, nil
}
