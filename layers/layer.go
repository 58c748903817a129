// Package layers provides CPU reference classifiers: a small set of layers with
// forward and backward passes, assembled from a compiled ModelSpec.
package layers

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/tsawler/go-mixtrain/tensor"
)

// Parameter is a learnable tensor and its accumulated gradient.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

func newParameter(name string, shape []int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
		Grad:  make([]float32, n),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	clear(p.Grad)
}

// heUniform fills p with U(-b, b), b = sqrt(6 / fanIn).
func (p *Parameter) heUniform(fanIn int, rng *rand.Rand) {
	bound := math.Sqrt(6 / float64(fanIn))
	for i := range p.Data {
		p.Data[i] = float32((2*rng.Float64() - 1) * bound)
	}
}

// Layer is one stage of a Sequential model. Backward must follow a training-mode
// Forward and accumulates into parameter gradients.
type Layer interface {
	Name() string
	Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)
	Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
}

func newLayer(spec LayerSpec, rng *rand.Rand) (Layer, error) {
	switch spec.Type {
	case Dense:
		return newDenseLayer(spec, rng), nil
	case Conv2D:
		return newConv2DLayer(spec, rng), nil
	case ReLU:
		return &reluLayer{name: spec.Name}, nil
	case MaxPool2D:
		return &maxPoolLayer{name: spec.Name, size: getIntParam(spec.Parameters, "pool_size", 2)}, nil
	case Flatten:
		return &flattenLayer{name: spec.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", spec.Type)
	}
}

type reluLayer struct {
	name string
	mask []bool
}

func (l *reluLayer) Name() string             { return l.name }
func (l *reluLayer) Parameters() []*Parameter { return nil }

func (l *reluLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	out := x.Clone()
	if training {
		l.mask = make([]bool, len(out.Data))
	}
	for i, v := range out.Data {
		if v > 0 {
			if training {
				l.mask[i] = true
			}
		} else {
			out.Data[i] = 0
		}
	}
	return out, nil
}

func (l *reluLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if len(l.mask) != len(gradOut.Data) {
		return nil, fmt.Errorf("%s: backward without matching forward", l.name)
	}
	grad := gradOut.Clone()
	for i, on := range l.mask {
		if !on {
			grad.Data[i] = 0
		}
	}
	return grad, nil
}

type flattenLayer struct {
	name  string
	shape []int
}

func (l *flattenLayer) Name() string             { return l.name }
func (l *flattenLayer) Parameters() []*Parameter { return nil }

func (l *flattenLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if training {
		l.shape = append([]int(nil), x.Shape...)
	}
	return x.Reshape([]int{x.BatchSize(), -1})
}

func (l *flattenLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.shape == nil {
		return nil, fmt.Errorf("%s: backward without matching forward", l.name)
	}
	return gradOut.Reshape(l.shape)
}

type maxPoolLayer struct {
	name    string
	size    int
	inShape []int
	argmax  []int
}

func (l *maxPoolLayer) Name() string             { return l.name }
func (l *maxPoolLayer) Parameters() []*Parameter { return nil }

func (l *maxPoolLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if x.Dim() != 4 {
		return nil, fmt.Errorf("%s: expected 4D input, got %v", l.name, x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/l.size, w/l.size
	out, err := tensor.Zeros([]int{n, c, oh, ow})
	if err != nil {
		return nil, err
	}
	argmax := make([]int, len(out.Data))

	o := 0
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			base := (b*c + ch) * h * w
			for y := 0; y < oh; y++ {
				for xx := 0; xx < ow; xx++ {
					best := base + y*l.size*w + xx*l.size
					for dy := 0; dy < l.size; dy++ {
						for dx := 0; dx < l.size; dx++ {
							idx := base + (y*l.size+dy)*w + xx*l.size + dx
							if x.Data[idx] > x.Data[best] {
								best = idx
							}
						}
					}
					out.Data[o] = x.Data[best]
					argmax[o] = best
					o++
				}
			}
		}
	}

	if training {
		l.inShape = append([]int(nil), x.Shape...)
		l.argmax = argmax
	}
	return out, nil
}

func (l *maxPoolLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if len(l.argmax) != len(gradOut.Data) {
		return nil, fmt.Errorf("%s: backward without matching forward", l.name)
	}
	grad, err := tensor.Zeros(l.inShape)
	if err != nil {
		return nil, err
	}
	for i, idx := range l.argmax {
		grad.Data[idx] += gradOut.Data[i]
	}
	return grad, nil
}
