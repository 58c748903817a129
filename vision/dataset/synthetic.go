package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SyntheticDataset generates learnable images on demand: each class has its own
// colour and stripe frequency, and every item adds seeded per-pixel noise.
// Item i always has label i mod classes and identical pixels for a given seed.
type SyntheticDataset struct {
	size     int
	channels int
	height   int
	width    int
	classes  int
	seed     uint64
	noise    float64
}

// NewSyntheticDataset creates a dataset of size items of shape
// [channels, height, width].
func NewSyntheticDataset(size, channels, height, width, classes int, seed int64) (*SyntheticDataset, error) {
	if size <= 0 || channels <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid synthetic dataset shape: %d items of [%d, %d, %d]", size, channels, height, width)
	}
	if classes < 2 {
		return nil, fmt.Errorf("synthetic dataset needs at least 2 classes, got %d", classes)
	}
	return &SyntheticDataset{
		size:     size,
		channels: channels,
		height:   height,
		width:    width,
		classes:  classes,
		seed:     uint64(seed),
		noise:    0.1,
	}, nil
}

func (d *SyntheticDataset) Len() int { return d.size }

func (d *SyntheticDataset) Get(index int) ([]float32, int, error) {
	if index < 0 || index >= d.size {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", index, d.size)
	}
	label := index % d.classes
	rng := rand.New(rand.NewPCG(d.seed, uint64(index)))

	pixels := make([]float32, d.channels*d.height*d.width)
	freq := float64(1+label%4) * math.Pi / float64(d.width)
	for c := 0; c < d.channels; c++ {
		base := float64((label*(c+3))%d.classes) / float64(d.classes)
		plane := pixels[c*d.height*d.width : (c+1)*d.height*d.width]
		for y := 0; y < d.height; y++ {
			for x := 0; x < d.width; x++ {
				v := 0.6*base + 0.3*(0.5+0.5*math.Sin(freq*float64(x+y))) + d.noise*rng.NormFloat64()
				plane[y*d.width+x] = float32(min(1, max(0, v)))
			}
		}
	}
	return pixels, label, nil
}

func (d *SyntheticDataset) Shape() (int, int, int) { return d.channels, d.height, d.width }

func (d *SyntheticDataset) NumClasses() int { return d.classes }
