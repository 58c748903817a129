package mixing

import (
	"github.com/sourcegraph/conc/pool"

	"github.com/tsawler/go-mixtrain/augment"
	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// AugMix replaces every image with its AugMix augmentation. Labels are untouched.
type AugMix struct {
	Chain   *augment.AugMix
	Workers int
	src     *Source
}

// NewAugMix returns the preprocess-only strategy.
func NewAugMix(chain *augment.AugMix, workers int, src *Source) *AugMix {
	if workers < 1 {
		workers = 1
	}
	return &AugMix{Chain: chain, Workers: workers, src: src}
}

func (a *AugMix) Method() Method { return MethodAugMix }

// Apply draws one child seed per image in row order, then augments the images
// concurrently. The output depends only on the seeds, not on scheduling.
func (a *AugMix) Apply(images *tensor.Tensor, labels []int) (*Plan, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	c, h, w, _ := images.ImageDims()
	n := len(labels)

	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = a.src.Uint64()
	}

	out := tensor.ZerosLike(images)
	p := pool.New().WithErrors().WithMaxGoroutines(a.Workers)
	for i := 0; i < n; i++ {
		p.Go(func() error {
			im, err := augment.NewImage(c, h, w, images.Row(i))
			if err != nil {
				return trainerr.DataShape("images", "row %d: %v", i, err)
			}
			copy(out.Row(i), a.Chain.Apply(im, seeds[i]).Pix)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	return &Plan{
		Kind:    KindPreprocessOnly,
		Images:  out,
		Targets: []Target{singleTarget(labels)},
	}, nil
}
