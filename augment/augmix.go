package augment

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// AugMix mixes Width randomly composed operation chains with the original image:
//
//	out = (1-m)·x + m·Σ wᵢ·chainᵢ(x),  w ~ Dirichlet(1…1), m ~ Beta(1, 1)
type AugMix struct {
	Severity int
	Width    int
	Depth    int // <= 0 draws a depth in [1, 3] per chain
	Alpha    float64
	Ops      []Op
}

// NewAugMix validates the chain settings.
func NewAugMix(severity, width, depth int) (*AugMix, error) {
	if severity < 1 || severity > maxLevel {
		return nil, fmt.Errorf("severity must be in [1, %d], got %d", maxLevel, severity)
	}
	if width < 1 {
		return nil, fmt.Errorf("width must be at least 1, got %d", width)
	}
	return &AugMix{
		Severity: severity,
		Width:    width,
		Depth:    depth,
		Alpha:    1.0,
		Ops:      DefaultOps,
	}, nil
}

// Apply augments im with a private stream seeded by seed. The result depends only
// on im and seed, so images may be processed concurrently.
func (a *AugMix) Apply(im Image, seed uint64) Image {
	pcg := rand.NewPCG(seed, seed>>1|1)
	rng := rand.New(pcg)

	alpha := make([]float64, a.Width)
	for i := range alpha {
		alpha[i] = a.Alpha
	}
	ws := distmv.NewDirichlet(alpha, pcg).Rand(nil)
	m := distuv.Beta{Alpha: a.Alpha, Beta: a.Alpha, Src: pcg}.Rand()

	mix := make([]float64, len(im.Pix))
	for i := 0; i < a.Width; i++ {
		aug := im
		depth := a.Depth
		if depth <= 0 {
			depth = 1 + rng.IntN(3)
		}
		for d := 0; d < depth; d++ {
			op := a.Ops[rng.IntN(len(a.Ops))]
			aug = op.Apply(aug, a.Severity, rng)
		}
		for k, v := range aug.Pix {
			mix[k] += ws[i] * float64(v)
		}
	}

	out := im.blank()
	for k, v := range im.Pix {
		out.Pix[k] = float32((1-m)*float64(v) + m*mix[k])
	}
	return out
}
