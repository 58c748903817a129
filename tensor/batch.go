package tensor

import (
	"fmt"
)

// SliceBatch copies rows [start, end) of the batch axis into a new tensor.
func (t *Tensor) SliceBatch(start, end int) (*Tensor, error) {
	if t.Dim() == 0 {
		return nil, fmt.Errorf("cannot slice a scalar tensor")
	}
	if start < 0 || end > t.Shape[0] || start >= end {
		return nil, fmt.Errorf("invalid batch range [%d, %d) for batch of %d", start, end, t.Shape[0])
	}

	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	shape[0] = end - start

	size := t.RowSize()
	data := make([]float32, (end-start)*size)
	copy(data, t.Data[start*size:end*size])
	return NewTensor(shape, data)
}

// GatherBatch builds a tensor whose row i is row indices[i] of t.
func (t *Tensor) GatherBatch(indices []int) (*Tensor, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("gather requires at least one index")
	}

	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	shape[0] = len(indices)

	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	size := t.RowSize()
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[0] {
			return nil, fmt.Errorf("gather index %d out of range for batch of %d", idx, t.Shape[0])
		}
		copy(out.Data[i*size:(i+1)*size], t.Data[idx*size:(idx+1)*size])
	}
	return out, nil
}

// ConcatBatch joins tensors along the batch axis. Trailing dimensions must match.
func ConcatBatch(parts ...*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	first := parts[0]
	rows := 0
	for i, p := range parts {
		if p.Dim() != first.Dim() {
			return nil, fmt.Errorf("tensor %d has %d dimensions, expected %d", i, p.Dim(), first.Dim())
		}
		for d := 1; d < first.Dim(); d++ {
			if p.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v", i, p.Shape, first.Shape)
			}
		}
		rows += p.Shape[0]
	}

	shape := make([]int, len(first.Shape))
	copy(shape, first.Shape)
	shape[0] = rows

	data := make([]float32, 0, rows*first.RowSize())
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return NewTensor(shape, data)
}

// ImageDims returns (channels, height, width) for a [N, C, H, W] tensor.
func (t *Tensor) ImageDims() (int, int, int, error) {
	if t.Dim() != 4 {
		return 0, 0, 0, fmt.Errorf("expected [N, C, H, W] tensor, got shape %v", t.Shape)
	}
	return t.Shape[1], t.Shape[2], t.Shape[3], nil
}
