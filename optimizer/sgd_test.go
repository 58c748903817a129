package optimizer

import (
	"math"
	"reflect"
	"testing"

	"github.com/tsawler/go-mixtrain/layers"
)

func testParams(values ...float32) []*layers.Parameter {
	return []*layers.Parameter{{
		Name:  "fc.weight",
		Shape: []int{len(values)},
		Data:  append([]float32(nil), values...),
		Grad:  make([]float32, len(values)),
	}}
}

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestDefaultSGDConfig(t *testing.T) {
	config := DefaultSGDConfig()
	if config.LearningRate != 0.1 || config.Momentum != 0.9 || !config.Nesterov {
		t.Errorf("unexpected defaults %+v", config)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSGDConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config SGDConfig
	}{
		{"negative lr", SGDConfig{LearningRate: -1}},
		{"negative momentum", SGDConfig{LearningRate: 0.1, Momentum: -0.5}},
		{"negative decay", SGDConfig{LearningRate: 0.1, WeightDecay: -1}},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}},
		{"nesterov with dampening", SGDConfig{LearningRate: 0.1, Momentum: 0.9, Dampening: 0.1, Nesterov: true}},
	}
	for _, tt := range tests {
		if _, err := NewSGDOptimizer(tt.config, testParams(1)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if _, err := NewSGDOptimizer(DefaultSGDConfig(), nil); err == nil {
		t.Error("expected error for empty parameter list")
	}
}

func TestSGDStep(t *testing.T) {
	tests := []struct {
		name     string
		config   SGDConfig
		grads    [][]float32 // one gradient per step
		expected []float32   // parameter after each step
	}{
		{
			name:     "vanilla",
			config:   SGDConfig{LearningRate: 0.1},
			grads:    [][]float32{{1}, {2}},
			expected: []float32{0.9, 0.7},
		},
		{
			name:     "weight decay",
			config:   SGDConfig{LearningRate: 0.1, WeightDecay: 0.5},
			grads:    [][]float32{{0}},
			expected: []float32{0.95},
		},
		{
			// buf = 1, p = 1 - 0.1 = 0.9; buf = 0.9 + 1 = 1.9, p = 0.9 - 0.19 = 0.71
			name:     "momentum",
			config:   SGDConfig{LearningRate: 0.1, Momentum: 0.9},
			grads:    [][]float32{{1}, {1}},
			expected: []float32{0.9, 0.71},
		},
		{
			// buf = 1, d = 1 + 0.9 = 1.9, p = 0.81; buf = 1.9, d = 1 + 1.71 = 2.71, p = 0.539
			name:     "nesterov",
			config:   SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true},
			grads:    [][]float32{{1}, {1}},
			expected: []float32{0.81, 0.539},
		},
		{
			// buf = 1, p = 0.9; buf = 0.9 + 0.5 = 1.4, p = 0.76
			name:     "dampening",
			config:   SGDConfig{LearningRate: 0.1, Momentum: 0.9, Dampening: 0.5},
			grads:    [][]float32{{1}, {1}},
			expected: []float32{0.9, 0.76},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(1)
			sgd, err := NewSGDOptimizer(tt.config, params)
			if err != nil {
				t.Fatalf("NewSGDOptimizer failed: %v", err)
			}
			for step, g := range tt.grads {
				sgd.ZeroGrad()
				copy(params[0].Grad, g)
				if err := sgd.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
				if !approxEqual(params[0].Data[0], tt.expected[step]) {
					t.Errorf("step %d: parameter %v, expected %v", step, params[0].Data[0], tt.expected[step])
				}
			}
			if sgd.GetStepCount() != uint64(len(tt.grads)) {
				t.Errorf("step count %d, expected %d", sgd.GetStepCount(), len(tt.grads))
			}
		})
	}
}

func TestZeroGrad(t *testing.T) {
	params := testParams(1, 2)
	params[0].Grad[0], params[0].Grad[1] = 3, 4
	sgd, _ := NewSGDOptimizer(DefaultSGDConfig(), params)
	sgd.ZeroGrad()
	if !reflect.DeepEqual(params[0].Grad, []float32{0, 0}) {
		t.Errorf("gradients not cleared: %v", params[0].Grad)
	}
}

func TestRegularizationLoss(t *testing.T) {
	sgd, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, WeightDecay: 0.2}, testParams(1, 2))
	if got := sgd.RegularizationLoss(); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RegularizationLoss = %v, expected 0.5", got)
	}
	plain, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, testParams(1, 2))
	if plain.RegularizationLoss() != 0 {
		t.Error("expected zero regularization without weight decay")
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true, WeightDecay: 1e-4}

	params := testParams(1, -1)
	sgd, _ := NewSGDOptimizer(config, params)
	copy(params[0].Grad, []float32{0.5, 0.25})
	sgd.Step()
	sgd.UpdateLearningRate(0.05)

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	restoredParams := testParams(params[0].Data...)
	restored, _ := NewSGDOptimizer(DefaultSGDConfig(), restoredParams)
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.LearningRate() != 0.05 || restored.GetStepCount() != 1 {
		t.Errorf("restored lr %v step %d", restored.LearningRate(), restored.GetStepCount())
	}
	if restored.Config() != sgd.Config() {
		t.Errorf("restored config %+v, expected %+v", restored.Config(), sgd.Config())
	}

	// Both optimizers must now produce identical updates.
	for _, p := range [][]*layers.Parameter{params, restoredParams} {
		copy(p[0].Grad, []float32{0.1, 0.2})
	}
	sgd.Step()
	restored.Step()
	if !reflect.DeepEqual(params[0].Data, restoredParams[0].Data) {
		t.Errorf("restored optimizer diverged: %v vs %v", restoredParams[0].Data, params[0].Data)
	}

	state.Type = "Adam"
	if err := restored.LoadState(state); err == nil {
		t.Error("expected error for mismatched state type")
	}
	state.Type = "SGD"
	state.StateData[0].Name = "momentum_7"
	if err := restored.LoadState(state); err == nil {
		t.Error("expected error for out-of-range buffer index")
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := map[string]int{
		"momentum_0":  0,
		"momentum_12": 12,
		"momentum":    -1,
		"momentum_x":  -1,
	}
	for name, want := range tests {
		if got := extractBufferIndex(name); got != want {
			t.Errorf("extractBufferIndex(%q) = %d, expected %d", name, got, want)
		}
	}
}
