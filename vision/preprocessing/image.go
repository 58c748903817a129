// Package preprocessing converts decoded images into CHW float tensors and
// applies the per-example input transforms used during training.
package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
)

// ImageProcessor decodes images into CHW float32 pixels of a fixed square size,
// reusing its scratch buffer between calls.
type ImageProcessor struct {
	mu            sync.Mutex
	processBuffer []float32
	targetSize    int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image and resizes it with nearest
// neighbour sampling. Returns data in CHW format normalized to [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	if p.targetSize <= 0 {
		return nil, fmt.Errorf("invalid target size %d", p.targetSize)
	}
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.targetSize
	plane := size * size
	if len(p.processBuffer) < 3*plane {
		p.processBuffer = make([]float32, 3*plane)
	}
	data := p.processBuffer[:3*plane]

	scaleX := float64(width) / float64(size)
	scaleY := float64(height) / float64(size)
	for y := 0; y < size; y++ {
		srcY := min(int(float64(y)*scaleY), height-1)
		for x := 0; x < size; x++ {
			srcX := min(int(float64(x)*scaleX), width-1)
			r, g, b, _ := img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY).RGBA()

			idx := y*size + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// Copy out of the reusable buffer
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    size,
		Height:   size,
		Channels: 3,
	}, nil
}

// FromBytes converts interleaved-by-plane 8-bit pixels (the CIFAR binary
// layout: all red, then green, then blue) into [0, 1] floats.
func FromBytes(pixels []byte) []float32 {
	out := make([]float32, len(pixels))
	for i, v := range pixels {
		out[i] = float32(v) / 255
	}
	return out
}
