package layers

import (
	"fmt"
	"math/rand/v2"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// Classifier maps a [N, C, H, W] batch to [N, classes] logits.
type Classifier interface {
	Name() string
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Backward propagates the gradient of the loss w.r.t. the last Forward's
	// logits and accumulates parameter gradients.
	Backward(gradOut *tensor.Tensor) error
	Parameters() []*Parameter
	Train()
	Eval()
	Training() bool
	NumClasses() int
}

// Sequential runs its layers in order.
type Sequential struct {
	name     string
	spec     *ModelSpec
	layers   []Layer
	training bool
	ready    bool // a training-mode forward is pending backward
}

// Build instantiates the layers of a compiled spec with seeded initialization.
func Build(name string, spec *ModelSpec, seed int64) (*Sequential, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model spec must be compiled before building")
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	m := &Sequential{name: name, spec: spec, training: true}
	for _, ls := range spec.Layers {
		layer, err := newLayer(ls, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to build layer %s: %v", ls.Name, err)
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

func (m *Sequential) Name() string { return m.name }

// Spec returns the compiled model description.
func (m *Sequential) Spec() *ModelSpec { return m.spec }

func (m *Sequential) NumClasses() int {
	return m.spec.OutputShape[len(m.spec.OutputShape)-1]
}

func (m *Sequential) Train()         { m.training = true }
func (m *Sequential) Eval()          { m.training = false; m.ready = false }
func (m *Sequential) Training() bool { return m.training }

func (m *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range m.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (m *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	in := m.spec.InputShape
	if x.Dim() != len(in) {
		return nil, trainerr.DataShape("images", "model %s expects %d-D input, got shape %v", m.name, len(in), x.Shape)
	}
	for d := 1; d < len(in); d++ {
		if x.Shape[d] != in[d] {
			return nil, trainerr.DataShape("images", "model %s expects input %v, got %v", m.name, in[1:], x.Shape[1:])
		}
	}

	out := x
	for _, l := range m.layers {
		var err error
		out, err = l.Forward(out, m.training)
		if err != nil {
			return nil, fmt.Errorf("forward failed: %w", err)
		}
	}
	m.ready = m.training
	return out, nil
}

func (m *Sequential) Backward(gradOut *tensor.Tensor) error {
	if !m.ready {
		return fmt.Errorf("backward requires a preceding training-mode forward")
	}
	grad := gradOut
	for i := len(m.layers) - 1; i >= 0; i-- {
		var err error
		grad, err = m.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("backward failed: %w", err)
		}
	}
	m.ready = false
	return nil
}
