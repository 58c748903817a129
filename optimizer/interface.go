// Package optimizer updates classifier parameters from their accumulated gradients.
package optimizer

import (
	"fmt"

	"github.com/tsawler/go-mixtrain/checkpoints"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	// ZeroGrad clears the gradients of every managed parameter.
	ZeroGrad()

	// Step applies one update from the current gradients.
	Step() error

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)

	// LearningRate returns the learning rate used by the next Step.
	LearningRate() float32

	// RegularizationLoss returns the penalty implied by weight decay at the
	// current parameters. It is reported, not added to the training loss.
	RegularizationLoss() float64
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
