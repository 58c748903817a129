package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// DefaultCalibrationBins is the number of equal-width confidence bins used for
// the RMS calibration error.
const DefaultCalibrationBins = 15

// EpochSummary holds the aggregated metrics of one epoch. Accuracies and the
// calibration error are percentages.
type EpochSummary struct {
	Loss        float64
	RegLoss     float64
	Accuracy    float64
	Top1        float64
	Top5        float64
	Calibration float64
	MacroF1     float64
	Batches     int
	Examples    int
}

// MetricAccumulator collects per-batch statistics for one epoch.
//
// Accuracy is correct/total over the whole epoch against the designated labels.
// Top-1 and top-5 are averaged per batch, so a short final batch weighs as much
// as a full one.
type MetricAccumulator struct {
	numBins int

	lossSum    float64
	regLossSum float64
	batches    int

	correct int
	total   int

	top1Sum float64
	top5Sum float64

	confidences []float64
	hits        []bool

	confusion *ConfusionMatrix
}

// NewMetricAccumulator creates an accumulator for a classifier with numClasses
// outputs. numBins <= 0 selects DefaultCalibrationBins.
func NewMetricAccumulator(numClasses, numBins int) *MetricAccumulator {
	if numBins <= 0 {
		numBins = DefaultCalibrationBins
	}
	return &MetricAccumulator{
		numBins:   numBins,
		confusion: NewConfusionMatrix(numClasses),
	}
}

// Update records one batch. labels are the designated accuracy labels and loss
// is the batch loss already computed by the loss evaluator.
func (m *MetricAccumulator) Update(outputs *tensor.Tensor, labels []int, loss float64) error {
	if err := checkLogits(outputs, labels); err != nil {
		return err
	}
	batchSize, numClasses := outputs.Shape[0], outputs.Shape[1]
	if numClasses != m.confusion.NumClasses {
		return trainerr.DataShape("outputs", "class count mismatch: expected %d, got %d", m.confusion.NumClasses, numClasses)
	}

	k5 := min(5, numClasses)
	var top1, top5 int
	probs := make([]float64, numClasses)
	for i := 0; i < batchSize; i++ {
		row := outputs.Data[i*numClasses : (i+1)*numClasses]
		label := labels[i]

		rank := labelRank(row, label)
		if rank < 1 {
			top1++
		}
		if rank < k5 {
			top5++
		}

		softmax(row, probs)
		pred := argmax(row)
		hit := pred == label
		if hit {
			m.correct++
		}
		m.confidences = append(m.confidences, probs[pred])
		m.hits = append(m.hits, hit)
		m.confusion.Matrix[label][pred]++
		m.confusion.TotalSamples++
	}

	m.total += batchSize
	m.top1Sum += 100 * float64(top1) / float64(batchSize)
	m.top5Sum += 100 * float64(top5) / float64(batchSize)
	m.lossSum += loss
	m.batches++
	return nil
}

// AddRegularization records the weight-decay penalty observed for a batch.
func (m *MetricAccumulator) AddRegularization(v float64) {
	m.regLossSum += v
}

// Batches returns the number of batches recorded so far.
func (m *MetricAccumulator) Batches() int {
	return m.batches
}

// RunningLoss returns the mean batch loss so far.
func (m *MetricAccumulator) RunningLoss() float64 {
	if m.batches == 0 {
		return 0
	}
	return m.lossSum / float64(m.batches)
}

// RunningAccuracy returns the cumulative accuracy so far, in percent.
func (m *MetricAccumulator) RunningAccuracy() float64 {
	if m.total == 0 {
		return 0
	}
	return 100 * float64(m.correct) / float64(m.total)
}

// Finalize computes the epoch summary. An empty epoch yields zeros.
func (m *MetricAccumulator) Finalize() EpochSummary {
	s := EpochSummary{
		Loss:     m.RunningLoss(),
		Accuracy: m.RunningAccuracy(),
		Batches:  m.batches,
		Examples: m.total,
	}
	if m.batches > 0 {
		s.RegLoss = m.regLossSum / float64(m.batches)
		s.Top1 = m.top1Sum / float64(m.batches)
		s.Top5 = m.top5Sum / float64(m.batches)
	}
	s.Calibration = 100 * RMSCalibrationError(m.confidences, m.hits, m.numBins)
	s.MacroF1 = 100 * m.confusion.GetMetric(MacroF1)
	return s
}

// labelRank counts the logits ranked ahead of the label's: greater ones, and
// equal ones at a lower index.
func labelRank(row []float32, label int) int {
	target := row[label]
	rank := 0
	for j, v := range row {
		if v > target || (v == target && j < label) {
			rank++
		}
	}
	return rank
}

// argmax returns the index of the first maximum, matching labelRank's ties.
func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// RMSCalibrationError partitions [0, 1] into numBins equal-width confidence bins
// and returns sqrt(Σ_b (n_b/n)·(conf_b − acc_b)²) as a fraction. Empty bins are
// skipped; an empty input yields 0.
func RMSCalibrationError(confidences []float64, correct []bool, numBins int) float64 {
	n := len(confidences)
	if n == 0 || numBins <= 0 || len(correct) != n {
		return 0
	}

	confSum := make([]float64, numBins)
	hitSum := make([]float64, numBins)
	counts := make([]int, numBins)
	for i, c := range confidences {
		b := int(c * float64(numBins))
		b = max(0, min(b, numBins-1))
		confSum[b] += c
		if correct[i] {
			hitSum[b]++
		}
		counts[b]++
	}

	var sq float64
	for b, cnt := range counts {
		if cnt == 0 {
			continue
		}
		gap := confSum[b]/float64(cnt) - hitSum[b]/float64(cnt)
		sq += float64(cnt) / float64(n) * gap * gap
	}
	return math.Sqrt(sq)
}

// MetricType represents the confusion-matrix derived metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// GetMetric calculates a confusion-matrix metric as a fraction.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.calculateMacroPrecision()
	case MacroRecall:
		return cm.calculateMacroRecall()
	case MacroF1:
		return harmonicMean(cm.calculateMacroPrecision(), cm.calculateMacroRecall())
	case MicroF1:
		// single-label multi-class: micro precision = micro recall = accuracy
		return cm.GetAccuracy()
	default:
		return 0.0
	}
}

func (cm *ConfusionMatrix) calculateMacroPrecision() float64 {
	sum := 0.0
	validClasses := 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		predicted := 0.0
		for trueClass := 0; trueClass < cm.NumClasses; trueClass++ {
			predicted += float64(cm.Matrix[trueClass][class])
		}
		if predicted > 0 {
			sum += tp / predicted
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

func (cm *ConfusionMatrix) calculateMacroRecall() float64 {
	sum := 0.0
	validClasses := 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		actual := 0.0
		for _, n := range cm.Matrix[class] {
			actual += float64(n)
		}
		if actual > 0 {
			sum += tp / actual
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

func harmonicMean(a, b float64) float64 {
	if a+b == 0 {
		return 0.0
	}
	return 2 * a * b / (a + b)
}
