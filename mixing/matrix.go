package mixing

import (
	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// Matrix splits the batch into thirds: the first third is left unmixed, the
// second comes from standard mixup and the third from dominant mixup.
type Matrix struct {
	Primary   *Mixup
	Secondary *Mixup
}

// NewMatrix returns the three-way split strategy.
func NewMatrix(alpha float64, src *Source) *Matrix {
	return &Matrix{
		Primary:   NewMixup(alpha, src),
		Secondary: NewDominantMixup(alpha, src),
	}
}

func (m *Matrix) Method() Method { return MethodMatrix }

// Apply runs both sub-strategies over the whole batch (primary first) and
// assembles one ThreeWaySplit plan over the concatenated rows.
func (m *Matrix) Apply(images *tensor.Tensor, labels []int) (*Plan, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	n := len(labels)
	if n < 3 {
		return nil, trainerr.DataShape("batch_size", "three-way split needs at least 3 examples, got %d", n)
	}
	third := n / 3

	p1, err := m.Primary.Apply(images, labels)
	if err != nil {
		return nil, err
	}
	p2, err := m.Secondary.Apply(images, labels)
	if err != nil {
		return nil, err
	}

	orig, err := images.SliceBatch(0, third)
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}
	mid, err := p1.Images.SliceBatch(third, 2*third)
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}
	last, err := p2.Images.SliceBatch(2*third, n)
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}
	mixed, err := tensor.ConcatBatch(orig, mid, last)
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}

	return &Plan{
		Kind:   KindThreeWaySplit,
		Images: mixed,
		Targets: []Target{
			{Start: 0, End: third, LabelsA: copyLabels(labels[:third]), Lambda: 1},
			subTarget(p1.Targets[0], third, 2*third),
			subTarget(p2.Targets[0], 2*third, n),
		},
	}, nil
}

func subTarget(t Target, start, end int) Target {
	return Target{
		Start:       start,
		End:         end,
		LabelsA:     copyLabels(t.LabelsA[start:end]),
		LabelsB:     copyLabels(t.LabelsB[start:end]),
		Lambda:      t.Lambda,
		Permutation: append([]int(nil), t.Permutation[start:end]...),
	}
}
