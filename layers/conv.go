package layers

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/tsawler/go-mixtrain/tensor"
)

// conv2DLayer is a square-kernel convolution implemented with im2col and GEMM.
// Weights are [outC, inC, k, k].
type conv2DLayer struct {
	name                    string
	inC, outC               int
	kernel, stride, padding int
	weight, bias            *Parameter
	inShape                 []int
	cols                    [][]float32 // per-sample im2col buffers from the last training forward
	outH, outW              int
}

func newConv2DLayer(spec LayerSpec, rng *rand.Rand) *conv2DLayer {
	l := &conv2DLayer{
		name:    spec.Name,
		inC:     getIntParam(spec.Parameters, "input_channels", 0),
		outC:    getIntParam(spec.Parameters, "output_channels", 0),
		kernel:  getIntParam(spec.Parameters, "kernel_size", 3),
		stride:  getIntParam(spec.Parameters, "stride", 1),
		padding: getIntParam(spec.Parameters, "padding", 0),
	}
	l.weight = newParameter(spec.Name+".weight", []int{l.outC, l.inC, l.kernel, l.kernel})
	l.weight.heUniform(l.inC*l.kernel*l.kernel, rng)
	if getBoolParam(spec.Parameters, "use_bias", true) {
		l.bias = newParameter(spec.Name+".bias", []int{l.outC})
	}
	return l
}

func (l *conv2DLayer) Name() string { return l.name }

func (l *conv2DLayer) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

func (l *conv2DLayer) patchSize() int {
	return l.inC * l.kernel * l.kernel
}

func (l *conv2DLayer) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if x.Dim() != 4 || x.Shape[1] != l.inC {
		return nil, fmt.Errorf("%s: expected [N, %d, H, W] input, got %v", l.name, l.inC, x.Shape)
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	if h+2*l.padding < l.kernel || w+2*l.padding < l.kernel {
		return nil, fmt.Errorf("%s: kernel does not fit input %v", l.name, x.Shape)
	}
	outH := (h+2*l.padding-l.kernel)/l.stride + 1
	outW := (w+2*l.padding-l.kernel)/l.stride + 1

	out, err := tensor.Zeros([]int{n, l.outC, outH, outW})
	if err != nil {
		return nil, err
	}
	spatial := outH * outW
	cols := make([][]float32, n)
	for b := 0; b < n; b++ {
		col := l.im2col(x.Row(b), h, w, outH, outW)
		dst := out.Row(b)
		if l.bias != nil {
			for oc := 0; oc < l.outC; oc++ {
				plane := dst[oc*spatial : (oc+1)*spatial]
				for i := range plane {
					plane[i] = l.bias.Data[oc]
				}
			}
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(l.outC, l.patchSize(), l.weight.Data), general(l.patchSize(), spatial, col),
			1, general(l.outC, spatial, dst))
		cols[b] = col
	}

	if training {
		l.inShape = append([]int(nil), x.Shape...)
		l.cols = cols
		l.outH, l.outW = outH, outW
	}
	return out, nil
}

func (l *conv2DLayer) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.cols == nil {
		return nil, fmt.Errorf("%s: backward without matching forward", l.name)
	}
	n, h, w := l.inShape[0], l.inShape[2], l.inShape[3]
	spatial := l.outH * l.outW
	if gradOut.BatchSize() != n || gradOut.RowSize() != l.outC*spatial {
		return nil, fmt.Errorf("%s: gradient shape %v does not match output", l.name, gradOut.Shape)
	}

	gradIn, err := tensor.Zeros(l.inShape)
	if err != nil {
		return nil, err
	}
	dcol := make([]float32, l.patchSize()*spatial)
	for b := 0; b < n; b++ {
		dy := gradOut.Row(b)

		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			general(l.outC, spatial, dy), general(l.patchSize(), spatial, l.cols[b]),
			1, general(l.outC, l.patchSize(), l.weight.Grad))

		if l.bias != nil {
			for oc := 0; oc < l.outC; oc++ {
				for _, g := range dy[oc*spatial : (oc+1)*spatial] {
					l.bias.Grad[oc] += g
				}
			}
		}

		blas32.Gemm(blas.Trans, blas.NoTrans, 1,
			general(l.outC, l.patchSize(), l.weight.Data), general(l.outC, spatial, dy),
			0, general(l.patchSize(), spatial, dcol))
		l.col2im(dcol, gradIn.Row(b), h, w)
	}
	return gradIn, nil
}

// im2col lays out each receptive field as a column: row index is
// (channel, ky, kx), column index is the output position.
func (l *conv2DLayer) im2col(img []float32, h, w, outH, outW int) []float32 {
	spatial := outH * outW
	col := make([]float32, l.patchSize()*spatial)
	for c := 0; c < l.inC; c++ {
		for ky := 0; ky < l.kernel; ky++ {
			for kx := 0; kx < l.kernel; kx++ {
				row := ((c*l.kernel+ky)*l.kernel + kx) * spatial
				for oy := 0; oy < outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						col[row+oy*outW+ox] = img[(c*h+iy)*w+ix]
					}
				}
			}
		}
	}
	return col
}

func (l *conv2DLayer) col2im(col, img []float32, h, w int) {
	spatial := l.outH * l.outW
	for c := 0; c < l.inC; c++ {
		for ky := 0; ky < l.kernel; ky++ {
			for kx := 0; kx < l.kernel; kx++ {
				row := ((c*l.kernel+ky)*l.kernel + kx) * spatial
				for oy := 0; oy < l.outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < l.outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						img[(c*h+iy)*w+ix] += col[row+oy*l.outW+ox]
					}
				}
			}
		}
	}
}
