package layers

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-mixtrain/tensor"
)

// denseLayer computes y = x·W + b with W stored as [in, out].
type denseLayer struct {
	name    string
	in, out int
	weight  *Parameter
	bias    *Parameter
	input   *tensor.Tensor
	inShape []int
}

func newDenseLayer(spec LayerSpec, rng *rand.Rand) *denseLayer {
	in := getIntParam(spec.Parameters, "input_size", 0)
	out := getIntParam(spec.Parameters, "output_size", 0)
	l := &denseLayer{
		name:   spec.Name,
		in:     in,
		out:    out,
		weight: newParameter(spec.Name+".weight", []int{in, out}),
	}
	l.weight.heUniform(in, rng)
	if getBoolParam(spec.Parameters, "use_bias", true) {
		l.bias = newParameter(spec.Name+".bias", []int{out})
	}
	return l
}

func (l *denseLayer) Name() string { return l.name }

func (l *denseLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

func (l *denseLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	n := x.BatchSize()
	if n == 0 || x.RowSize() != l.in {
		return nil, fmt.Errorf("%s: expected %d input features, got shape %v", l.name, l.in, x.Shape)
	}
	out, err := tensor.Zeros([]int{n, l.out})
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		for i := 0; i < n; i++ {
			copy(out.Row(i), l.bias.Data)
		}
	}

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(n, l.in, x.Data), general(l.in, l.out, l.weight.Data),
		1, general(n, l.out, out.Data))

	if training {
		l.input = x
		l.inShape = append([]int(nil), x.Shape...)
	}
	return out, nil
}

func (l *denseLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: backward without matching forward", l.name)
	}
	n := l.input.BatchSize()
	if gradOut.BatchSize() != n || gradOut.RowSize() != l.out {
		return nil, fmt.Errorf("%s: gradient shape %v does not match output [%d %d]", l.name, gradOut.Shape, n, l.out)
	}

	// dW += xᵀ·dy
	blas32.Gemm(blas.Trans, blas.NoTrans, 1,
		general(n, l.in, l.input.Data), general(n, l.out, gradOut.Data),
		1, general(l.in, l.out, l.weight.Grad))

	if l.bias != nil {
		for i := 0; i < n; i++ {
			for j, g := range gradOut.Row(i) {
				l.bias.Grad[j] += g
			}
		}
	}

	// dx = dy·Wᵀ
	gradIn, err := tensor.Zeros(l.inShape)
	if err != nil {
		return nil, err
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		general(n, l.out, gradOut.Data), general(l.in, l.out, l.weight.Data),
		0, general(n, l.in, gradIn.Data))
	return gradIn, nil
}

// general views a row-major buffer as a rows x cols matrix.
func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}
