package mixing

import (
	"fmt"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// Kind identifies the plan variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentity
	KindPairwiseInterpolate
	KindRegionSwap
	KindThreeWaySplit
	KindPreprocessOnly
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "Identity"
	case KindPairwiseInterpolate:
		return "PairwiseInterpolate"
	case KindRegionSwap:
		return "RegionSwap"
	case KindThreeWaySplit:
		return "ThreeWaySplit"
	case KindPreprocessOnly:
		return "PreprocessOnly"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Target is the label assignment for the contiguous rows [Start, End) of a plan.
// LabelsB is nil for single-label targets, in which case Lambda is 1.
type Target struct {
	Start, End  int
	LabelsA     []int
	LabelsB     []int
	Lambda      float64
	Permutation []int // partner index per row, relative to the whole batch
}

// Mixed reports whether the target blends two label sets.
func (t Target) Mixed() bool {
	return t.LabelsB != nil
}

// Len returns the number of rows covered.
func (t Target) Len() int {
	return t.End - t.Start
}

// Box is a rectangular region in pixel coordinates, half-open on both axes.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Area returns the number of pixels covered.
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.Area() == 0
}

// Plan is the output of a mixing strategy for one batch: the images to feed the
// classifier and the targets that define how the loss is computed.
type Plan struct {
	Kind    Kind
	Images  *tensor.Tensor
	Targets []Target
	Box     Box // RegionSwap only
}

// AccuracyLabels returns the designated labels for accuracy bookkeeping: LabelsA of
// every target in row order.
func (p *Plan) AccuracyLabels() []int {
	n := 0
	for _, t := range p.Targets {
		n += t.Len()
	}
	labels := make([]int, 0, n)
	for _, t := range p.Targets {
		labels = append(labels, t.LabelsA...)
	}
	return labels
}

// Validate checks that the targets tile [0, rows) and carry consistent labels.
func (p *Plan) Validate(rows int) error {
	if len(p.Targets) == 0 {
		return trainerr.DataShape("plan", "%s plan has no targets", p.Kind)
	}
	if p.Kind == KindThreeWaySplit && len(p.Targets) != 3 {
		return trainerr.DataShape("plan", "ThreeWaySplit plan has %d targets", len(p.Targets))
	}
	next := 0
	for i, t := range p.Targets {
		if t.Start != next || t.End <= t.Start {
			return trainerr.DataShape("plan", "target %d covers [%d, %d), expected to start at %d", i, t.Start, t.End, next)
		}
		if len(t.LabelsA) != t.Len() {
			return trainerr.DataShape("labels", "target %d has %d labels for %d rows", i, len(t.LabelsA), t.Len())
		}
		if t.LabelsB != nil && len(t.LabelsB) != t.Len() {
			return trainerr.DataShape("labels", "target %d has %d secondary labels for %d rows", i, len(t.LabelsB), t.Len())
		}
		if t.Lambda < 0 || t.Lambda > 1 {
			return trainerr.DataShape("lambda", "target %d has lambda %v outside [0, 1]", i, t.Lambda)
		}
		next = t.End
	}
	if next != rows {
		return trainerr.DataShape("plan", "targets cover %d rows, batch has %d", next, rows)
	}
	return nil
}

func singleTarget(labels []int) Target {
	return Target{Start: 0, End: len(labels), LabelsA: copyLabels(labels), Lambda: 1}
}

func copyLabels(labels []int) []int {
	out := make([]int, len(labels))
	copy(out, labels)
	return out
}

func permuteLabels(labels, perm []int) []int {
	out := make([]int, len(perm))
	for i, j := range perm {
		out[i] = labels[j]
	}
	return out
}

func identityPerm(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

func checkBatch(images *tensor.Tensor, labels []int) error {
	if images == nil {
		return trainerr.DataShape("images", "nil image batch")
	}
	if images.Dim() != 4 {
		return trainerr.DataShape("images", "expected [N, C, H, W] batch, got shape %v", images.Shape)
	}
	if images.BatchSize() != len(labels) {
		return trainerr.DataShape("labels", "got %d labels for %d images", len(labels), images.BatchSize())
	}
	if len(labels) == 0 {
		return trainerr.DataShape("labels", "empty batch")
	}
	return nil
}
