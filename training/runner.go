package training

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
	"github.com/tsawler/go-mixtrain/vision/dataloader"
	"github.com/tsawler/go-mixtrain/vision/preprocessing"
)

// Mode selects whether an epoch updates parameters.
type Mode int

const (
	Training Mode = iota
	Evaluation
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "Training"
	case Evaluation:
		return "Evaluation"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// BatchSource yields the batches of one epoch. NextBatch returns nil once the
// epoch is exhausted; Reset starts the next epoch.
type BatchSource interface {
	Reset()
	NextBatch() (*dataloader.Batch, error)
	Len() int
}

// EpochExecutor runs a single epoch in the given mode.
type EpochExecutor interface {
	RunEpoch(ctx context.Context, mode Mode, loader BatchSource) (EpochSummary, error)
}

// EpochRunner drives the classifier through one epoch of batches. Training
// epochs mix each batch with the configured strategy and step the optimizer;
// evaluation epochs use the identity plan and compute the loss only.
type EpochRunner struct {
	Model      layers.Classifier
	Optimizer  optimizer.Optimizer
	Strategy   mixing.Strategy
	Criterion  Criterion
	Normalizer *preprocessing.Normalizer // nil feeds raw [0,1] pixels

	CalibrationBins int
	// Progress renders a progress bar per epoch when stdout is a terminal.
	Progress bool
}

// NewEpochRunner creates a runner with cross-entropy loss.
func NewEpochRunner(model layers.Classifier, opt optimizer.Optimizer, strategy mixing.Strategy, normalizer *preprocessing.Normalizer) *EpochRunner {
	return &EpochRunner{
		Model:           model,
		Optimizer:       opt,
		Strategy:        strategy,
		Criterion:       NewCrossEntropyLoss("mean"),
		Normalizer:      normalizer,
		CalibrationBins: DefaultCalibrationBins,
	}
}

// RunEpoch consumes every batch of loader once and returns the epoch metrics.
// Cancellation is checked between batches.
func (r *EpochRunner) RunEpoch(ctx context.Context, mode Mode, loader BatchSource) (EpochSummary, error) {
	switch mode {
	case Training:
		if r.Optimizer == nil || r.Strategy == nil {
			return EpochSummary{}, trainerr.Configuration("mode", "training requires an optimizer and a mixing strategy")
		}
		r.Model.Train()
	case Evaluation:
		r.Model.Eval()
	default:
		return EpochSummary{}, trainerr.Configuration("mode", "unknown epoch mode %s", mode)
	}

	loader.Reset()
	metrics := NewMetricAccumulator(r.Model.NumClasses(), r.CalibrationBins)
	var bar *ProgressBar
	if r.Progress {
		bar = NewProgressBar(mode.String(), loader.Len())
	}

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return EpochSummary{}, err
		}

		batch, err := loader.NextBatch()
		if err != nil {
			return EpochSummary{}, fmt.Errorf("failed to load batch %d: %w", step, err)
		}
		if batch == nil {
			break
		}

		var outputs *tensor.Tensor
		var plan *mixing.Plan
		var loss float64
		if mode == Training {
			outputs, plan, loss, err = r.trainBatch(batch)
		} else {
			outputs, plan, loss, err = r.evalBatch(batch)
		}
		if err != nil {
			return EpochSummary{}, fmt.Errorf("%s batch %d: %w", mode, step, err)
		}

		if err := metrics.Update(outputs, plan.AccuracyLabels(), loss); err != nil {
			return EpochSummary{}, fmt.Errorf("%s batch %d metrics: %w", mode, step, err)
		}
		if mode == Training {
			metrics.AddRegularization(r.Optimizer.RegularizationLoss())
		}

		if klog.V(2).Enabled() {
			klog.Infof("%s batch %d/%d: plan=%s loss=%.4f running acc=%.2f%%",
				mode, step+1, loader.Len(), plan.Kind, loss, metrics.RunningAccuracy())
		}
		if bar != nil {
			bar.Update(step+1, map[string]float64{
				"loss": metrics.RunningLoss(),
				"acc":  metrics.RunningAccuracy(),
			})
		}
	}

	if bar != nil {
		bar.Finish()
	}
	if metrics.Batches() == 0 {
		return EpochSummary{}, trainerr.DataShape("loader", "%s epoch produced no batches", mode)
	}
	return metrics.Finalize(), nil
}

func (r *EpochRunner) trainBatch(batch *dataloader.Batch) (*tensor.Tensor, *mixing.Plan, float64, error) {
	plan, err := r.Strategy.Apply(batch.Images, batch.Labels)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%s mixing failed: %w", r.Strategy.Method(), err)
	}
	inputs, err := r.normalize(plan.Images)
	if err != nil {
		return nil, nil, 0, err
	}

	r.Optimizer.ZeroGrad()
	outputs, err := r.Model.Forward(inputs)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("forward pass failed: %w", err)
	}
	res, err := EvaluatePlan(outputs, plan, r.Criterion)
	if err != nil {
		return nil, nil, 0, err
	}
	if err := r.Model.Backward(res.Grad); err != nil {
		return nil, nil, 0, fmt.Errorf("backward pass failed: %w", err)
	}
	if err := r.Optimizer.Step(); err != nil {
		return nil, nil, 0, fmt.Errorf("optimizer step failed: %w", err)
	}
	return outputs, plan, res.Loss, nil
}

func (r *EpochRunner) evalBatch(batch *dataloader.Batch) (*tensor.Tensor, *mixing.Plan, float64, error) {
	plan, err := mixing.Identity{}.Apply(batch.Images, batch.Labels)
	if err != nil {
		return nil, nil, 0, err
	}
	inputs, err := r.normalize(plan.Images)
	if err != nil {
		return nil, nil, 0, err
	}
	outputs, err := r.Model.Forward(inputs)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("forward pass failed: %w", err)
	}
	loss, err := r.Criterion.Forward(outputs, plan.AccuracyLabels())
	if err != nil {
		return nil, nil, 0, err
	}
	return outputs, plan, loss, nil
}

func (r *EpochRunner) normalize(images *tensor.Tensor) (*tensor.Tensor, error) {
	if r.Normalizer == nil {
		return images, nil
	}
	out, err := r.Normalizer.Normalize(images)
	if err != nil {
		return nil, fmt.Errorf("normalization failed: %w", err)
	}
	return out, nil
}
