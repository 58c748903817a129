package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/trainerr"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},    // Initial
		{1, 0.1},    // No change yet
		{2, 0.01},   // First reduction
		{3, 0.01},   // Same
		{4, 0.001},  // Second reduction
		{5, 0.001},  // Same
		{6, 0.0001}, // Third reduction
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},      // Initial
		{1, 0.09},     // 0.1 * 0.9
		{2, 0.081},    // 0.1 * 0.9^2
		{3, 0.0729},   // 0.1 * 0.9^3
		{4, 0.06561},  // 0.1 * 0.9^4
		{5, 0.059049}, // 0.1 * 0.9^5
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01

	// Test specific points in the cosine curve
	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},     // Initial (max)
		{5, 0.0001, 1e-6},   // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	// Test beyond TMax
	lr := scheduler.GetLR(10, 0, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestReduceLROnPlateauScheduler(t *testing.T) {
	scheduler := NewReduceLROnPlateauScheduler(0.5, 2, 0.01, "min")

	// Test basic functionality
	currentLR := scheduler.Step(1.0, 0.1) // Initial
	if currentLR != 0.1 {
		t.Errorf("Initial: expected LR %f, got %f", 0.1, currentLR)
	}

	currentLR = scheduler.Step(0.98, currentLR) // Improvement
	if currentLR != 0.1 {
		t.Errorf("After improvement: expected LR %f, got %f", 0.1, currentLR)
	}

	currentLR = scheduler.Step(0.99, currentLR) // No improvement
	if currentLR != 0.1 {
		t.Errorf("No improvement 1: expected LR %f, got %f", 0.1, currentLR)
	}

	currentLR = scheduler.Step(0.99, currentLR) // No improvement - should reduce
	if currentLR != 0.05 {
		t.Errorf("No improvement 2: expected LR %f, got %f", 0.05, currentLR)
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLRScheduler(10, 0.1), "StepLR"},
		{NewExponentialLRScheduler(0.95), "ExponentialLR"},
		{NewCosineAnnealingLRScheduler(100, 0.0), "CosineAnnealingLR"},
		{NewReduceLROnPlateauScheduler(0.1, 10, 0.001, "min"), "ReduceLROnPlateau"},
		{NewMultiStepLRScheduler(nil, 0.1), "MultiStepLR"},
		{&NoOpScheduler{}, "ConstantLR"},
	}

	for _, tt := range tests {
		name := tt.scheduler.GetName()
		if name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}

func TestMultiStepLRScheduler(t *testing.T) {
	scheduler := NewMultiStepLRScheduler([]int{6, 3}, 0.5)
	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 1},
		{2, 1},
		{3, 0.5},
		{5, 0.5},
		{6, 0.25},
		{100, 0.25},
	}
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, 0, 1)
		if math.Abs(lr-tt.expectedLR) > 1e-12 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	defaults := NewMultiStepLRScheduler(nil, 0)
	if len(defaults.Milestones) != 2 || defaults.Milestones[0] != 100 || defaults.Gamma != 0.1 {
		t.Errorf("unexpected defaults %+v", defaults)
	}
}

func TestNewScheduler(t *testing.T) {
	for _, name := range append(ScheduleNames, "none", "Cosine") {
		s, err := NewScheduler(name, 50)
		if err != nil {
			t.Errorf("NewScheduler(%q) failed: %v", name, err)
			continue
		}
		if s.GetName() == "" {
			t.Errorf("NewScheduler(%q) has no name", name)
		}
	}

	cosine, _ := NewScheduler("cosine", 50)
	if tmax := cosine.(*CosineAnnealingLRScheduler).TMax; tmax != 50 {
		t.Errorf("cosine should anneal over the run, TMax = %d", tmax)
	}

	if _, err := NewScheduler("warmup", 10); !trainerr.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func newTestSGD(t *testing.T, lr float32) *optimizer.SGDOptimizer {
	t.Helper()
	param := &layers.Parameter{Name: "w", Shape: []int{2}, Data: []float32{1, 1}, Grad: make([]float32, 2)}
	cfg := optimizer.DefaultSGDConfig()
	cfg.LearningRate = lr
	opt, err := optimizer.NewSGDOptimizer(cfg, []*layers.Parameter{param})
	if err != nil {
		t.Fatal(err)
	}
	return opt
}

func TestScheduleAdvance(t *testing.T) {
	opt := newTestSGD(t, 0.1)
	schedule := NewSchedule(NewStepLRScheduler(2, 0.1), opt, 0.1)
	schedule.SetEpoch(0)

	want := []float64{0.1, 0.01, 0.01, 0.001}
	for i, w := range want {
		lr := schedule.Advance()
		if math.Abs(lr-w) > 1e-9 {
			t.Errorf("after advance %d: lr %v, want %v", i+1, lr, w)
		}
		if math.Abs(float64(opt.LearningRate())-w) > 1e-7 {
			t.Errorf("optimizer lr %v, want %v", opt.LearningRate(), w)
		}
	}
	if schedule.Epoch() != 4 {
		t.Errorf("Epoch() = %d, want 4", schedule.Epoch())
	}
}

func TestScheduleSetEpochOnResume(t *testing.T) {
	opt := newTestSGD(t, 0.1)
	schedule := NewSchedule(NewCosineAnnealingLRScheduler(10, 0), opt, 0.1)
	schedule.SetEpoch(5)
	if math.Abs(float64(opt.LearningRate())-0.05) > 1e-7 {
		t.Errorf("resumed lr %v, want 0.05", opt.LearningRate())
	}
}

func TestSchedulePlateau(t *testing.T) {
	opt := newTestSGD(t, 0.1)
	schedule := NewSchedule(NewReduceLROnPlateauScheduler(0.5, 1, 0, "min"), opt, 0.1)
	schedule.SetEpoch(0)
	if opt.LearningRate() != 0.1 {
		t.Fatalf("plateau schedule must not touch the initial lr, got %v", opt.LearningRate())
	}

	for _, loss := range []float64{1.0, 0.5} {
		schedule.Report(loss)
		schedule.Advance()
	}
	if math.Abs(float64(opt.LearningRate())-0.1) > 1e-7 {
		t.Errorf("lr reduced while improving: %v", opt.LearningRate())
	}
	schedule.Report(0.6)
	if lr := schedule.Advance(); math.Abs(lr-0.05) > 1e-7 {
		t.Errorf("lr after plateau %v, want 0.05", lr)
	}
}
