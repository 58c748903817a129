// Package mixing implements the per-batch sample-mixing strategies.
//
// A Strategy turns a batch of images and labels into a Plan. The Plan's Kind
// is fixed for a run by the configured Method, and downstream code (the loss
// evaluator and the metric accumulator) switches exhaustively on it.
package mixing

import (
	"github.com/tsawler/go-mixtrain/augment"
	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// Strategy produces a mixing plan for a batch. Implementations never modify
// their inputs; the only side effect is consuming the random source.
type Strategy interface {
	Method() Method
	Apply(images *tensor.Tensor, labels []int) (*Plan, error)
}

// Options holds the hyperparameters of every strategy. Fields irrelevant to the
// selected method are ignored.
type Options struct {
	Alpha      float64 // mixup interpolation strength
	Beta       float64 // cutmix box-size strength
	CutMixProb float64
	Severity   int // augmix
	Width      int
	Depth      int // <= 0 draws 1-3 ops per chain
	Workers    int
}

// DefaultOptions returns the usual CIFAR settings.
func DefaultOptions() Options {
	return Options{
		Alpha:      1.0,
		Beta:       1.0,
		CutMixProb: 0.5,
		Severity:   3,
		Width:      3,
		Depth:      -1,
		Workers:    4,
	}
}

// NewStrategy builds the strategy for method.
func NewStrategy(method Method, opts Options, src *Source) (Strategy, error) {
	if src == nil {
		return nil, trainerr.Configuration("seed", "strategy %s requires a random source", method)
	}
	switch method {
	case MethodNone:
		return Identity{}, nil
	case MethodMixup:
		return NewMixup(opts.Alpha, src), nil
	case MethodCutMix:
		if opts.CutMixProb < 0 || opts.CutMixProb > 1 {
			return nil, trainerr.Configuration("cutmix_prob", "must be in [0, 1], got %v", opts.CutMixProb)
		}
		return NewCutMix(opts.Beta, opts.CutMixProb, src), nil
	case MethodMatrix:
		return NewMatrix(opts.Alpha, src), nil
	case MethodAugMix:
		chain, err := augment.NewAugMix(opts.Severity, opts.Width, opts.Depth)
		if err != nil {
			return nil, trainerr.WrapConfiguration(err, "severity", "invalid augmix settings")
		}
		return NewAugMix(chain, opts.Workers, src), nil
	default:
		return nil, trainerr.Configuration("mixup", "no strategy for method %s", method)
	}
}

// Identity leaves the batch untouched.
type Identity struct{}

func (Identity) Method() Method { return MethodNone }

// Apply returns an Identity plan. Images are shared with the input.
func (Identity) Apply(images *tensor.Tensor, labels []int) (*Plan, error) {
	if err := checkBatch(images, labels); err != nil {
		return nil, err
	}
	return &Plan{
		Kind:    KindIdentity,
		Images:  images,
		Targets: []Target{singleTarget(labels)},
	}, nil
}
