package optimizer

import (
	"fmt"

	"github.com/tsawler/go-mixtrain/checkpoints"
	"github.com/tsawler/go-mixtrain/layers"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	Dampening    float32
	WeightDecay  float32 // L2 penalty folded into the gradient
	Nesterov     bool
}

// DefaultSGDConfig returns the CIFAR training defaults: Nesterov momentum 0.9
// and weight decay 1e-4.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.1,
		Momentum:     0.9,
		WeightDecay:  1e-4,
		Nesterov:     true,
	}
}

// Validate checks the hyperparameters.
func (c SGDConfig) Validate() error {
	if c.LearningRate < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", c.LearningRate)
	}
	if c.Momentum < 0 {
		return fmt.Errorf("momentum cannot be negative: %f", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", c.WeightDecay)
	}
	if c.Nesterov && (c.Momentum <= 0 || c.Dampening != 0) {
		return fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}
	return nil
}

// SGDOptimizer is stochastic gradient descent with optional momentum,
// dampening, Nesterov acceleration and weight decay:
//
//	g = ∇p + wd·p
//	buf = μ·buf + (1-τ)·g    (buf = g on the first step)
//	d = g + μ·buf if nesterov, else buf
//	p = p - lr·d
type SGDOptimizer struct {
	config SGDConfig

	params          []*layers.Parameter
	momentumBuffers [][]float32
	stepCount       uint64
}

// NewSGDOptimizer creates an optimizer over params.
func NewSGDOptimizer(config SGDConfig, params []*layers.Parameter) (*SGDOptimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SGDOptimizer{config: config, params: params}, nil
}

func (sgd *SGDOptimizer) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

func (sgd *SGDOptimizer) Step() error {
	useMomentum := sgd.config.Momentum != 0
	if useMomentum && sgd.momentumBuffers == nil {
		sgd.momentumBuffers = make([][]float32, len(sgd.params))
	}

	for i, p := range sgd.params {
		if len(p.Grad) != len(p.Data) {
			return fmt.Errorf("parameter %s has %d gradients for %d values", p.Name, len(p.Grad), len(p.Data))
		}

		var buf []float32
		first := false
		if useMomentum {
			if sgd.momentumBuffers[i] == nil {
				sgd.momentumBuffers[i] = make([]float32, len(p.Data))
				first = true
			}
			buf = sgd.momentumBuffers[i]
		}

		for k, g := range p.Grad {
			if sgd.config.WeightDecay != 0 {
				g += sgd.config.WeightDecay * p.Data[k]
			}
			d := g
			if useMomentum {
				if first {
					buf[k] = g
				} else {
					buf[k] = sgd.config.Momentum*buf[k] + (1-sgd.config.Dampening)*g
				}
				if sgd.config.Nesterov {
					d = g + sgd.config.Momentum*buf[k]
				} else {
					d = buf[k]
				}
			}
			p.Data[k] -= sgd.config.LearningRate * d
		}
	}

	sgd.stepCount++
	return nil
}

// Config returns the current hyperparameters.
func (sgd *SGDOptimizer) Config() SGDConfig {
	return sgd.config
}

func (sgd *SGDOptimizer) GetStepCount() uint64 {
	return sgd.stepCount
}

func (sgd *SGDOptimizer) UpdateLearningRate(lr float32) {
	sgd.config.LearningRate = lr
}

func (sgd *SGDOptimizer) LearningRate() float32 {
	return sgd.config.LearningRate
}

// RegularizationLoss returns wd/2 · Σ p².
func (sgd *SGDOptimizer) RegularizationLoss() float64 {
	if sgd.config.WeightDecay == 0 {
		return 0
	}
	var sum float64
	for _, p := range sgd.params {
		for _, v := range p.Data {
			sum += float64(v) * float64(v)
		}
	}
	return 0.5 * float64(sgd.config.WeightDecay) * sum
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.momentumBuffers))
	for i, buf := range sgd.momentumBuffers {
		if buf == nil {
			continue
		}
		stateData = append(stateData, checkpoints.OptimizerTensor{
			Name:      bufferName("momentum", i),
			Shape:     append([]int(nil), sgd.params[i].Shape...),
			Data:      append([]float32(nil), buf...),
			StateType: "momentum",
		})
	}

	return &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": float64(sgd.config.LearningRate),
			"momentum":      float64(sgd.config.Momentum),
			"dampening":     float64(sgd.config.Dampening),
			"weight_decay":  float64(sgd.config.WeightDecay),
			"nesterov":      boolParam(sgd.config.Nesterov),
			"step_count":    float64(sgd.stepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizer) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	cfg := sgd.config
	cfg.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", cfg.LearningRate)
	cfg.Momentum = extractFloat32Param(state.Parameters, "momentum", cfg.Momentum)
	cfg.Dampening = extractFloat32Param(state.Parameters, "dampening", cfg.Dampening)
	cfg.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", cfg.WeightDecay)
	cfg.Nesterov = extractBoolParam(state.Parameters, "nesterov", cfg.Nesterov)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid saved hyperparameters: %v", err)
	}

	buffers := make([][]float32, len(sgd.params))
	restored := false
	for _, tensor := range state.StateData {
		if tensor.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		if len(tensor.Data) != len(sgd.params[idx].Data) {
			return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
				tensor.Name, len(sgd.params[idx].Data), len(tensor.Data))
		}
		buffers[idx] = append([]float32(nil), tensor.Data...)
		restored = true
	}

	sgd.config = cfg
	sgd.stepCount = extractUint64Param(state.Parameters, "step_count", sgd.stepCount)
	sgd.momentumBuffers = nil
	if restored {
		sgd.momentumBuffers = buffers
	}
	return nil
}
