package preprocessing

import (
	"math"
	"testing"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

func TestNewNormalizerValidation(t *testing.T) {
	tests := []struct {
		name      string
		mean, std []float32
	}{
		{"empty", nil, nil},
		{"length mismatch", []float32{0.5, 0.5}, []float32{0.2}},
		{"zero std", []float32{0.5}, []float32{0}},
		{"negative std", []float32{0.5}, []float32{-1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNormalizer(tt.mean, tt.std)
			if !trainerr.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	n, err := NewNormalizer([]float32{0.5, 0.25}, []float32{0.5, 0.25})
	if err != nil {
		t.Fatal(err)
	}
	// [N=1, C=2, H=1, W=2]
	batch, err := tensor.NewTensor([]int{1, 2, 1, 2}, []float32{0, 1, 0.25, 0.75})
	if err != nil {
		t.Fatal(err)
	}

	out, err := n.Normalize(batch)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := []float32{-1, 1, 0, 2}
	for i := range want {
		if math.Abs(float64(out.Data[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], want[i])
		}
	}
	if batch.Data[0] != 0 {
		t.Error("Normalize modified its input")
	}
}

func TestNormalizeChannelMismatch(t *testing.T) {
	batch, err := tensor.Zeros([]int{2, 1, 4, 4})
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewCIFARNormalizer().Normalize(batch)
	if !trainerr.IsDataShape(err) {
		t.Errorf("expected data shape error, got %v", err)
	}
}

func TestCIFARNormalizer(t *testing.T) {
	n := NewCIFARNormalizer()
	if len(n.Mean) != 3 || len(n.Std) != 3 {
		t.Fatalf("expected 3 channels, got %d/%d", len(n.Mean), len(n.Std))
	}
	if n.Mean[0] != 0.4914 || n.Std[2] != 0.2010 {
		t.Errorf("unexpected statistics %s", n)
	}
}
