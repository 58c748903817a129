package layers

import (
	"sort"
	"strings"

	"github.com/tsawler/go-mixtrain/trainerr"
)

type architecture func(b *ModelBuilder, numClasses int) *ModelBuilder

var architectures = map[string]architecture{
	"Linear": func(b *ModelBuilder, numClasses int) *ModelBuilder {
		return b.AddFlatten("flatten").
			AddDense(numClasses, true, "fc")
	},
	"MLP": func(b *ModelBuilder, numClasses int) *ModelBuilder {
		return b.AddFlatten("flatten").
			AddDense(256, true, "fc1").
			AddReLU("relu1").
			AddDense(numClasses, true, "fc2")
	},
	"SimpleCNN": func(b *ModelBuilder, numClasses int) *ModelBuilder {
		return b.AddConv2D(16, 3, 1, 1, true, "conv1").
			AddReLU("relu1").
			AddMaxPool2D(2, "pool1").
			AddConv2D(32, 3, 1, 1, true, "conv2").
			AddReLU("relu2").
			AddMaxPool2D(2, "pool2").
			AddFlatten("flatten").
			AddDense(128, true, "fc1").
			AddReLU("relu3").
			AddDense(numClasses, true, "fc2")
	},
}

// Architectures returns the registered architecture names.
func Architectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClassifier builds a registered architecture for [C, H, W] inputs.
func NewClassifier(arch string, inputShape []int, numClasses int, seed int64) (*Sequential, error) {
	build, ok := architectures[arch]
	if !ok {
		return nil, trainerr.Configuration("model", "unknown architecture %q (available: %s)", arch, strings.Join(Architectures(), ", "))
	}
	if numClasses < 2 {
		return nil, trainerr.Configuration("num_classes", "need at least 2 classes, got %d", numClasses)
	}
	if len(inputShape) != 3 {
		return nil, trainerr.Configuration("model", "input shape must be [C, H, W], got %v", inputShape)
	}

	spec, err := build(NewModelBuilder(append([]int{1}, inputShape...)), numClasses).Compile()
	if err != nil {
		return nil, trainerr.WrapConfiguration(err, "model", "architecture %s does not fit input %v", arch, inputShape)
	}
	return Build(arch, spec, seed)
}
