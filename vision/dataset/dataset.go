// Package dataset provides indexed image classification datasets whose items
// are CHW float32 pixels in [0, 1].
package dataset

// Dataset is an indexed collection of labelled images of one fixed shape.
type Dataset interface {
	Len() int
	// Get returns the pixels of item index in CHW order and its class label.
	// The returned slice must not be modified by the caller.
	Get(index int) (pixels []float32, label int, err error)
	// Shape returns (channels, height, width).
	Shape() (int, int, int)
	NumClasses() int
}

// Keyed datasets expose a stable cache key per item, such as a file path.
type Keyed interface {
	Key(index int) string
}
