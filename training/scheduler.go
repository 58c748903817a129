package training

import (
	"math"
	"sort"
	"strings"

	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers other than ReduceLROnPlateau are pure functions of the epoch.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// MultiStepLRScheduler multiplies the learning rate by Gamma at each milestone epoch.
type MultiStepLRScheduler struct {
	Milestones []int // sorted ascending
	Gamma      float64
}

// NewMultiStepLRScheduler creates a milestone scheduler. With no milestones it
// uses the CIFAR recipe of dividing by ten at epochs 100 and 150.
func NewMultiStepLRScheduler(milestones []int, gamma float64) *MultiStepLRScheduler {
	if len(milestones) == 0 {
		milestones = []int{100, 150}
	}
	m := append([]int(nil), milestones...)
	sort.Ints(m)
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &MultiStepLRScheduler{Milestones: m, Gamma: gamma}
}

func (s *MultiStepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	passed := sort.SearchInts(s.Milestones, epoch+1)
	return baseLR * math.Pow(s.Gamma, float64(passed))
}

func (s *MultiStepLRScheduler) GetName() string {
	return "MultiStepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 200
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving.
// It is stateful and driven through Step rather than GetLR.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of epochs with no improvement after which LR will be reduced
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}

	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step checks if LR should be reduced based on metric.
// It is called once per epoch with the evaluation metric.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// NoOpScheduler maintains constant learning rate
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// ScheduleNames lists the names accepted by NewScheduler.
var ScheduleNames = []string{"constant", "step", "multistep", "exponential", "cosine", "plateau"}

// NewScheduler returns the scheduler registered under name. Cosine annealing
// runs over the whole training run.
func NewScheduler(name string, epochs int) (LRScheduler, error) {
	switch strings.ToLower(name) {
	case "constant", "none":
		return &NoOpScheduler{}, nil
	case "step":
		return NewStepLRScheduler(30, 0.1), nil
	case "multistep":
		return NewMultiStepLRScheduler(nil, 0.1), nil
	case "exponential":
		return NewExponentialLRScheduler(0.95), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(epochs, 0), nil
	case "plateau":
		return NewReduceLROnPlateauScheduler(0.1, 10, 1e-4, "min"), nil
	default:
		return nil, trainerr.Configuration("schedule", "unknown learning rate schedule %q (expected one of %s)",
			name, strings.Join(ScheduleNames, ", "))
	}
}

// Schedule applies an LRScheduler to an optimizer at epoch boundaries.
type Schedule struct {
	scheduler LRScheduler
	optimizer optimizer.Optimizer
	baseLR    float64
	epoch     int

	metric    float64
	hasMetric bool
}

// NewSchedule creates a schedule positioned at epoch 0.
func NewSchedule(scheduler LRScheduler, opt optimizer.Optimizer, baseLR float64) *Schedule {
	return &Schedule{scheduler: scheduler, optimizer: opt, baseLR: baseLR}
}

// Epoch returns the epoch the current learning rate belongs to.
func (s *Schedule) Epoch() int {
	return s.epoch
}

// Name returns the underlying scheduler name.
func (s *Schedule) Name() string {
	return s.scheduler.GetName()
}

// SetEpoch positions the schedule at epoch, as when resuming. The optimizer's
// learning rate is recomputed unless the scheduler is metric driven.
func (s *Schedule) SetEpoch(epoch int) {
	s.epoch = epoch
	if _, ok := s.scheduler.(*ReduceLROnPlateauScheduler); ok {
		return
	}
	s.optimizer.UpdateLearningRate(float32(s.scheduler.GetLR(epoch, 0, s.baseLR)))
}

// Report records the evaluation metric consumed by the next Advance.
func (s *Schedule) Report(metric float64) {
	s.metric = metric
	s.hasMetric = true
}

// Advance moves to the next epoch and updates the optimizer's learning rate.
// It must be called exactly once per epoch.
func (s *Schedule) Advance() float64 {
	s.epoch++
	var lr float64
	if plateau, ok := s.scheduler.(*ReduceLROnPlateauScheduler); ok {
		lr = float64(s.optimizer.LearningRate())
		if s.hasMetric {
			lr = plateau.Step(s.metric, lr)
		}
	} else {
		lr = s.scheduler.GetLR(s.epoch, 0, s.baseLR)
	}
	s.hasMetric = false
	s.optimizer.UpdateLearningRate(float32(lr))
	return lr
}
