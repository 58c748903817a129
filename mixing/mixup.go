package mixing

import (
	"math"

	"github.com/tsawler/go-mixtrain/tensor"
)

// Mixup interpolates every image with a randomly chosen partner from the same
// batch: x = λ·x_i + (1-λ)·x_perm(i), λ ~ Beta(α, α).
type Mixup struct {
	Alpha float64
	// Dominant folds λ into [0.5, 1] so the original image always dominates.
	Dominant bool
	src      *Source
}

// NewMixup returns the standard mixup strategy.
func NewMixup(alpha float64, src *Source) *Mixup {
	return &Mixup{Alpha: alpha, src: src}
}

// NewDominantMixup returns the variant whose λ is max(λ, 1-λ).
func NewDominantMixup(alpha float64, src *Source) *Mixup {
	return &Mixup{Alpha: alpha, Dominant: true, src: src}
}

func (m *Mixup) Method() Method { return MethodMixup }

// Apply draws λ then the permutation and returns a PairwiseInterpolate plan.
// With α <= 0 no draws are made and the plan is an unmixed interpolation with λ = 1.
func (m *Mixup) Apply(images *tensor.Tensor, labels []int) (*Plan, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	n := len(labels)

	lam := 1.0
	var perm []int
	if m.Alpha > 0 {
		lam = m.src.Beta(m.Alpha, m.Alpha)
		perm = m.src.Perm(n)
	} else {
		perm = identityPerm(n)
	}
	if m.Dominant {
		lam = math.Max(lam, 1-lam)
	}

	mixed := interpolate(images, perm, lam)
	return &Plan{
		Kind:   KindPairwiseInterpolate,
		Images: mixed,
		Targets: []Target{{
			Start:       0,
			End:         n,
			LabelsA:     copyLabels(labels),
			LabelsB:     permuteLabels(labels, perm),
			Lambda:      lam,
			Permutation: perm,
		}},
	}, nil
}

func interpolate(images *tensor.Tensor, perm []int, lam float64) *tensor.Tensor {
	out := tensor.ZerosLike(images)
	a := float32(lam)
	b := float32(1 - lam)
	for i, j := range perm {
		dst := out.Row(i)
		x := images.Row(i)
		y := images.Row(j)
		for k := range dst {
			dst[k] = a*x[k] + b*y[k]
		}
	}
	return out
}
