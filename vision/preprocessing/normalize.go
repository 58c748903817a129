package preprocessing

import (
	"fmt"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// CIFAR channel statistics.
var (
	CIFARMean = []float32{0.4914, 0.4822, 0.4465}
	CIFARStd  = []float32{0.2023, 0.1994, 0.2010}
)

// Normalizer standardizes each channel of a [N, C, H, W] batch:
// out = (x - mean[c]) / std[c].
type Normalizer struct {
	Mean []float32
	Std  []float32
}

// NewNormalizer creates a normalizer for len(mean) channels.
func NewNormalizer(mean, std []float32) (*Normalizer, error) {
	if len(mean) == 0 || len(mean) != len(std) {
		return nil, trainerr.Configuration("normalize", "need one mean and one std per channel, got %d and %d", len(mean), len(std))
	}
	for c, s := range std {
		if s <= 0 {
			return nil, trainerr.Configuration("normalize", "std of channel %d must be positive, got %v", c, s)
		}
	}
	return &Normalizer{
		Mean: append([]float32(nil), mean...),
		Std:  append([]float32(nil), std...),
	}, nil
}

// NewCIFARNormalizer returns the standard CIFAR normalizer.
func NewCIFARNormalizer() *Normalizer {
	n, _ := NewNormalizer(CIFARMean, CIFARStd)
	return n
}

// Normalize returns a normalized copy of batch.
func (n *Normalizer) Normalize(batch *tensor.Tensor) (*tensor.Tensor, error) {
	c, h, w, err := batch.ImageDims()
	if err != nil {
		return nil, trainerr.DataShape("images", "%v", err)
	}
	if c != len(n.Mean) {
		return nil, trainerr.DataShape("images", "batch has %d channels, normalizer expects %d", c, len(n.Mean))
	}
	plane := h * w

	out := batch.Clone()
	for i := 0; i < batch.Shape[0]; i++ {
		row := out.Row(i)
		for ch := 0; ch < c; ch++ {
			mean, inv := n.Mean[ch], 1/n.Std[ch]
			px := row[ch*plane : (ch+1)*plane]
			for k := range px {
				px[k] = (px[k] - mean) * inv
			}
		}
	}
	return out, nil
}

// String describes the channel statistics.
func (n *Normalizer) String() string {
	return fmt.Sprintf("Normalize(mean=%v, std=%v)", n.Mean, n.Std)
}
