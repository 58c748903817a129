package layers

import (
	"fmt"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	MaxPool2D
	Flatten
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case MaxPool2D:
		return "MaxPool2D"
	case Flatten:
		return "Flatten"
	default:
		return "Unknown"
	}
}

// LayerSpec is the configuration of one layer. Shapes and parameter metadata
// are filled in by ModelBuilder.Compile.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	InputShape      []int   `json:"input_shape,omitempty"`
	OutputShape     []int   `json:"output_shape,omitempty"`
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec is a compiled stack of layers.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a builder for inputs of shape [batch, ...].
func NewModelBuilder(inputShape []int) *ModelBuilder {
	shape := make([]int, len(inputShape))
	copy(shape, inputShape)
	return &ModelBuilder{inputShape: shape}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	if layer.Parameters == nil {
		layer.Parameters = map[string]interface{}{}
	}
	mb.layers = append(mb.layers, layer)
	mb.compiled = false
	return mb
}

// AddDense adds a fully connected layer. Inputs with more than two dimensions
// are flattened.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddConv2D adds a square-kernel convolution.
func (mb *ModelBuilder) AddConv2D(
	outputChannels, kernelSize, stride, padding int,
	useBias bool, name string,
) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	})
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name})
}

// AddMaxPool2D adds non-overlapping max pooling with the given window.
func (mb *ModelBuilder) AddMaxPool2D(poolSize int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       MaxPool2D,
		Name:       name,
		Parameters: map[string]interface{}{"pool_size": poolSize},
	})
}

// AddFlatten collapses all non-batch dimensions.
func (mb *ModelBuilder) AddFlatten(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Flatten, Name: name})
}

// Compile computes shapes and parameter counts for every layer.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) < 2 {
		return nil, fmt.Errorf("input shape %v must include a batch dimension", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}

	currentShape := mb.inputShape
	for i, src := range mb.layers {
		layer := src
		layer.Parameters = make(map[string]interface{}, len(src.Parameters))
		for k, v := range src.Parameters {
			layer.Parameters[k] = v
		}
		if layer.Name == "" {
			layer.Name = fmt.Sprintf("%s_%d", strings.ToLower(layer.Type.String()), i)
		}
		layer.InputShape = append([]int(nil), currentShape...)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(&layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		model.Layers[i] = layer

		model.ParameterShapes = append(model.ParameterShapes, paramShapes...)
		model.TotalParameters += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.Compiled = true
	mb.compiled = true
	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Conv2D:
		return computeConv2DInfo(layer, inputShape)
	case MaxPool2D:
		return computePoolInfo(layer, inputShape)
	case Flatten:
		return []int{inputShape[0], flatSize(inputShape)}, nil, 0, nil
	case ReLU:
		return append([]int(nil), inputShape...), nil, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	outputSize := getIntParam(layer.Parameters, "output_size", 0)
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid output_size parameter")
	}
	useBias := getBoolParam(layer.Parameters, "use_bias", true)

	inputSize := flatSize(inputShape)
	layer.Parameters["input_size"] = inputSize

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputSize})
		paramCount += int64(outputSize)
	}
	return []int{inputShape[0], outputSize}, paramShapes, paramCount, nil
}

func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("Conv2D layer requires 4D input [batch, channels, height, width], got %v", inputShape)
	}

	outputChannels := getIntParam(layer.Parameters, "output_channels", 0)
	kernelSize := getIntParam(layer.Parameters, "kernel_size", 0)
	stride := getIntParam(layer.Parameters, "stride", 1)
	padding := getIntParam(layer.Parameters, "padding", 0)
	useBias := getBoolParam(layer.Parameters, "use_bias", true)
	if outputChannels <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, nil, 0, fmt.Errorf("invalid convolution parameters %v", layer.Parameters)
	}

	inputChannels := inputShape[1]
	layer.Parameters["input_channels"] = inputChannels

	if inputShape[2]+2*padding < kernelSize || inputShape[3]+2*padding < kernelSize {
		return nil, nil, 0, fmt.Errorf("kernel %d does not fit input %v", kernelSize, inputShape)
	}

	outputHeight := (inputShape[2]+2*padding-kernelSize)/stride + 1
	outputWidth := (inputShape[3]+2*padding-kernelSize)/stride + 1

	paramShapes := [][]int{{outputChannels, inputChannels, kernelSize, kernelSize}}
	paramCount := int64(outputChannels * inputChannels * kernelSize * kernelSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outputChannels})
		paramCount += int64(outputChannels)
	}
	return []int{inputShape[0], outputChannels, outputHeight, outputWidth}, paramShapes, paramCount, nil
}

func computePoolInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("MaxPool2D layer requires 4D input, got %v", inputShape)
	}
	size := getIntParam(layer.Parameters, "pool_size", 2)
	if size <= 0 || inputShape[2] < size || inputShape[3] < size {
		return nil, nil, 0, fmt.Errorf("pool size %d does not fit input %v", size, inputShape)
	}
	return []int{inputShape[0], inputShape[1], inputShape[2] / size, inputShape[3] / size}, nil, 0, nil
}

func flatSize(shape []int) int {
	size := 1
	for _, d := range shape[1:] {
		size *= d
	}
	return size
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Input Shape: %v\n", ms.InputShape)
	fmt.Fprintf(&sb, "Output Shape: %v\n", ms.OutputShape)
	fmt.Fprintf(&sb, "Total Parameters: %d\n", ms.TotalParameters)
	for i, layer := range ms.Layers {
		fmt.Fprintf(&sb, "  %2d %-10s %-9s %v -> %v (%d params)\n",
			i+1, layer.Name, layer.Type, layer.InputShape, layer.OutputShape, layer.ParameterCount)
	}
	return sb.String()
}

// getIntParam also accepts float64 values, which is what a spec decoded from
// JSON carries.
func getIntParam(params map[string]interface{}, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultValue
}

func getBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return defaultValue
}

// Compatible reports whether weights saved from other can be loaded into m:
// the same layer types in the same order with identical parameter shapes.
func (m *ModelSpec) Compatible(other *ModelSpec) bool {
	if m == nil || other == nil || len(m.Layers) != len(other.Layers) {
		return false
	}
	for i, l1 := range m.Layers {
		l2 := other.Layers[i]
		if l1.Type != l2.Type || len(l1.ParameterShapes) != len(l2.ParameterShapes) {
			return false
		}
		for j, shape1 := range l1.ParameterShapes {
			shape2 := l2.ParameterShapes[j]
			if len(shape1) != len(shape2) {
				return false
			}
			for k := range shape1 {
				if shape1[k] != shape2[k] {
					return false
				}
			}
		}
	}
	return true
}
