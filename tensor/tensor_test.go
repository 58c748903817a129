package tensor

import (
	"reflect"
	"testing"
)

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}

func TestNewTensor(t *testing.T) {
	tt, err := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if tt.NumElems != 6 {
		t.Errorf("expected 6 elements, got %d", tt.NumElems)
	}

	v, err := tt.At(1, 2)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if v != 6 {
		t.Errorf("At(1, 2) = %v, expected 6", v)
	}

	if _, err := NewTensor([]int{2, 3}, []float32{1, 2}); err == nil {
		t.Error("expected error for mismatched data length")
	}
	if _, err := NewTensor([]int{0, 3}, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := tt.At(2, 0); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestReshape(t *testing.T) {
	tt, _ := NewTensor([]int{2, 3, 4}, nil)

	r, err := tt.Reshape([]int{2, -1})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !reflect.DeepEqual(r.Shape, []int{2, 12}) {
		t.Errorf("expected shape [2 12], got %v", r.Shape)
	}

	r.Data[0] = 42
	if tt.Data[0] != 42 {
		t.Error("reshape should share data with the source tensor")
	}

	if _, err := tt.Reshape([]int{5, -1}); err == nil {
		t.Error("expected error for indivisible reshape")
	}
	if _, err := tt.Reshape([]int{-1, -1}); err == nil {
		t.Error("expected error for two inferred dimensions")
	}
}

func TestBatchHelpers(t *testing.T) {
	tt, _ := NewTensor([]int{4, 2}, []float32{0, 1, 10, 11, 20, 21, 30, 31})

	t.Run("SliceBatch", func(t *testing.T) {
		s, err := tt.SliceBatch(1, 3)
		if err != nil {
			t.Fatalf("SliceBatch failed: %v", err)
		}
		if !reflect.DeepEqual(s.Data, []float32{10, 11, 20, 21}) {
			t.Errorf("unexpected slice data %v", s.Data)
		}
		s.Data[0] = -1
		if tt.Data[2] != 10 {
			t.Error("SliceBatch must copy")
		}
		if _, err := tt.SliceBatch(3, 3); err == nil {
			t.Error("expected error for empty range")
		}
	})

	t.Run("GatherBatch", func(t *testing.T) {
		g, err := tt.GatherBatch([]int{3, 0, 0})
		if err != nil {
			t.Fatalf("GatherBatch failed: %v", err)
		}
		if !reflect.DeepEqual(g.Data, []float32{30, 31, 0, 1, 0, 1}) {
			t.Errorf("unexpected gather data %v", g.Data)
		}
		if _, err := tt.GatherBatch([]int{4}); err == nil {
			t.Error("expected error for out-of-range index")
		}
	})

	t.Run("ConcatBatch", func(t *testing.T) {
		a, _ := tt.SliceBatch(0, 1)
		b, _ := tt.SliceBatch(1, 4)
		c, err := ConcatBatch(a, b)
		if err != nil {
			t.Fatalf("ConcatBatch failed: %v", err)
		}
		if !c.Equal(tt) {
			t.Errorf("concat of slices should reproduce the source, got %v", c.Data)
		}

		other, _ := NewTensor([]int{1, 3}, nil)
		if _, err := ConcatBatch(a, other); err == nil {
			t.Error("expected error for mismatched trailing dimensions")
		}
	})
}

func TestImageDims(t *testing.T) {
	tt, _ := NewTensor([]int{2, 3, 8, 6}, nil)
	c, h, w, err := tt.ImageDims()
	if err != nil {
		t.Fatalf("ImageDims failed: %v", err)
	}
	if c != 3 || h != 8 || w != 6 {
		t.Errorf("ImageDims = (%d, %d, %d), expected (3, 8, 6)", c, h, w)
	}

	flat, _ := NewTensor([]int{2, 3}, nil)
	if _, _, _, err := flat.ImageDims(); err == nil {
		t.Error("expected error for non-image tensor")
	}
}
