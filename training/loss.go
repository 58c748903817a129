package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// Criterion is a per-example classification loss over [N, classes] logits.
type Criterion interface {
	Forward(logits *tensor.Tensor, labels []int) (float64, error)
	Backward(logits *tensor.Tensor, labels []int) (*tensor.Tensor, error)
}

// CrossEntropyLoss implements Cross Entropy loss function for classification
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes the Cross Entropy loss
// logits: [batch_size, num_classes]
// labels: batch_size class indices
func (ce *CrossEntropyLoss) Forward(logits *tensor.Tensor, labels []int) (float64, error) {
	if err := checkLogits(logits, labels); err != nil {
		return 0, err
	}

	batchSize, numClasses := logits.Shape[0], logits.Shape[1]
	var total float64
	for i := 0; i < batchSize; i++ {
		row := logits.Data[i*numClasses : (i+1)*numClasses]
		total += logSumExp(row) - float64(row[labels[i]])
	}

	if ce.reduction == "mean" {
		total /= float64(batchSize)
	}
	return total, nil
}

// Backward computes the gradient of Cross Entropy loss w.r.t. the logits:
// softmax(x) - onehot(label), scaled by 1/N under mean reduction.
func (ce *CrossEntropyLoss) Backward(logits *tensor.Tensor, labels []int) (*tensor.Tensor, error) {
	if err := checkLogits(logits, labels); err != nil {
		return nil, err
	}

	batchSize, numClasses := logits.Shape[0], logits.Shape[1]
	scale := 1.0
	if ce.reduction == "mean" {
		scale = 1.0 / float64(batchSize)
	}

	grad := tensor.ZerosLike(logits)
	probs := make([]float64, numClasses)
	for i := 0; i < batchSize; i++ {
		softmax(logits.Data[i*numClasses:(i+1)*numClasses], probs)
		probs[labels[i]] -= 1
		out := grad.Data[i*numClasses : (i+1)*numClasses]
		for j, p := range probs {
			out[j] = float32(p * scale)
		}
	}
	return grad, nil
}

func checkLogits(logits *tensor.Tensor, labels []int) error {
	if logits == nil || logits.Dim() != 2 {
		var shape []int
		if logits != nil {
			shape = logits.Shape
		}
		return trainerr.DataShape("outputs", "logits must be 2D [batch_size, num_classes], got shape %v", shape)
	}
	if logits.Shape[0] != len(labels) {
		return trainerr.DataShape("labels", "batch size mismatch: logits %d, labels %d", logits.Shape[0], len(labels))
	}
	if len(labels) == 0 {
		return trainerr.DataShape("labels", "empty batch")
	}
	for _, l := range labels {
		if l < 0 || l >= logits.Shape[1] {
			return trainerr.DataShape("labels", "target class %d out of range [0, %d)", l, logits.Shape[1])
		}
	}
	return nil
}

func logSumExp(row []float32) float64 {
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}

// softmax writes the probabilities of row into out.
func softmax(row []float32, out []float64) {
	lse := logSumExp(row)
	for j, v := range row {
		out[j] = math.Exp(float64(v) - lse)
	}
}

// LossResult is the scalar batch loss and its gradient w.r.t. the logits.
type LossResult struct {
	Loss float64
	Grad *tensor.Tensor
}

// EvaluatePlan computes the composite loss a mixing plan calls for:
//
//	Identity, PreprocessOnly:      base(out, labels)
//	PairwiseInterpolate, RegionSwap: λ·base(out, a) + (1-λ)·base(out, b)
//	ThreeWaySplit:                 mean of the three per-third losses
func EvaluatePlan(outputs *tensor.Tensor, plan *mixing.Plan, base Criterion) (LossResult, error) {
	if plan == nil {
		return LossResult{}, trainerr.DataShape("plan", "nil plan")
	}
	if outputs == nil || outputs.Dim() != 2 {
		return LossResult{}, trainerr.DataShape("outputs", "expected [N, classes] outputs")
	}
	if err := plan.Validate(outputs.Shape[0]); err != nil {
		return LossResult{}, err
	}

	switch plan.Kind {
	case mixing.KindIdentity, mixing.KindPreprocessOnly:
		if len(plan.Targets) != 1 {
			return LossResult{}, trainerr.DataShape("plan", "%s plan has %d targets", plan.Kind, len(plan.Targets))
		}
		return evaluateLabels(outputs, plan.Targets[0].LabelsA, base)

	case mixing.KindPairwiseInterpolate, mixing.KindRegionSwap:
		if len(plan.Targets) != 1 {
			return LossResult{}, trainerr.DataShape("plan", "%s plan has %d targets", plan.Kind, len(plan.Targets))
		}
		return evaluateTarget(outputs, plan.Targets[0], base)

	case mixing.KindThreeWaySplit:
		return evaluateThirds(outputs, plan.Targets, base)

	default:
		return LossResult{}, trainerr.Configuration("kind", "unknown plan kind %s", plan.Kind)
	}
}

func evaluateLabels(outputs *tensor.Tensor, labels []int, base Criterion) (LossResult, error) {
	loss, err := base.Forward(outputs, labels)
	if err != nil {
		return LossResult{}, fmt.Errorf("loss forward failed: %w", err)
	}
	grad, err := base.Backward(outputs, labels)
	if err != nil {
		return LossResult{}, fmt.Errorf("loss backward failed: %w", err)
	}
	return LossResult{Loss: loss, Grad: grad}, nil
}

// evaluateTarget interpolates the losses of both label sets of a target.
// Single-label targets reduce to the base loss.
func evaluateTarget(outputs *tensor.Tensor, t mixing.Target, base Criterion) (LossResult, error) {
	a, err := evaluateLabels(outputs, t.LabelsA, base)
	if err != nil || !t.Mixed() {
		return a, err
	}
	b, err := evaluateLabels(outputs, t.LabelsB, base)
	if err != nil {
		return LossResult{}, err
	}

	lam := t.Lambda
	for i := range a.Grad.Data {
		a.Grad.Data[i] = float32(lam*float64(a.Grad.Data[i]) + (1-lam)*float64(b.Grad.Data[i]))
	}
	return LossResult{Loss: lam*a.Loss + (1-lam)*b.Loss, Grad: a.Grad}, nil
}

func evaluateThirds(outputs *tensor.Tensor, targets []mixing.Target, base Criterion) (LossResult, error) {
	grad := tensor.ZerosLike(outputs)
	classes := outputs.Shape[1]
	scale := 1.0 / float64(len(targets))

	var total float64
	for i, t := range targets {
		part, err := outputs.SliceBatch(t.Start, t.End)
		if err != nil {
			return LossResult{}, trainerr.DataShape("plan", "third %d: %v", i, err)
		}
		res, err := evaluateTarget(part, t, base)
		if err != nil {
			return LossResult{}, fmt.Errorf("third %d: %w", i, err)
		}
		total += res.Loss
		dst := grad.Data[t.Start*classes : t.End*classes]
		for k, g := range res.Grad.Data {
			dst[k] = float32(float64(g) * scale)
		}
	}
	return LossResult{Loss: total * scale, Grad: grad}, nil
}
