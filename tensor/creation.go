package tensor

import (
	"fmt"
)

// NewTensor creates a tensor over data. A nil data slice allocates zeros.
// The shape slice is copied.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	s := make([]int, len(shape))
	copy(s, shape)
	numElems := calculateNumElements(s)

	if data == nil {
		data = make([]float32, numElems)
	} else if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// ZerosLike creates a zero-filled tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	out, _ := Zeros(t.Shape)
	return out
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromRows stacks equally sized rows into a [len(rows), rowShape...] tensor.
func FromRows(rows [][]float32, rowShape []int) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot build a tensor from zero rows")
	}
	shape := append([]int{len(rows)}, rowShape...)
	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	size := out.RowSize()
	for i, row := range rows {
		if len(row) != size {
			return nil, fmt.Errorf("row %d has %d elements, expected %d", i, len(row), size)
		}
		copy(out.Data[i*size:(i+1)*size], row)
	}
	return out, nil
}
