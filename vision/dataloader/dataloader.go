package dataloader

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
	"github.com/tsawler/go-mixtrain/vision/dataset"
	"github.com/tsawler/go-mixtrain/vision/preprocessing"
)

// Batch is a [N, C, H, W] image tensor with pixel values in [0, 1] and its N labels.
type Batch struct {
	Images *tensor.Tensor
	Labels []int
}

// NewBatch pairs images with labels, checking that the counts agree.
func NewBatch(images *tensor.Tensor, labels []int) (*Batch, error) {
	if images == nil || images.Dim() != 4 {
		return nil, trainerr.DataShape("images", "expected [N, C, H, W] images")
	}
	if images.Shape[0] != len(labels) {
		return nil, trainerr.DataShape("labels", "got %d labels for %d images", len(labels), images.Shape[0])
	}
	return &Batch{Images: images, Labels: labels}, nil
}

// Len returns the number of examples.
func (b *Batch) Len() int {
	return len(b.Labels)
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize int
	Shuffle   bool
	Seed      int64 // seeds the shuffle order and the transform draws
	DropLast  bool

	// Transform is applied per example after loading; nil leaves images as is.
	Transform *preprocessing.RandomCropFlip

	MaxCacheSize int           // Maximum number of decoded images to cache; 0 disables
	NumWorkers   int           // Number of parallel workers for loading
	CacheManager *CacheManager // Optional shared cache manager
}

// DataLoader yields shuffled, optionally augmented batches from a dataset.
// Every epoch is a deterministic function of the seed and the epoch count.
type DataLoader struct {
	dataset  dataset.Dataset
	config   Config
	indices  []int
	position int
	rng      *rand.Rand
	mu       sync.Mutex

	cacheManager *CacheManager
}

// NewDataLoader creates a new data loader positioned at the start of its first epoch.
func NewDataLoader(ds dataset.Dataset, config Config) (*DataLoader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, trainerr.Configuration("data", "dataset is empty")
	}
	if config.BatchSize <= 0 {
		return nil, trainerr.Configuration("batch_size", "must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}

	cacheManager := config.CacheManager
	if cacheManager == nil && config.MaxCacheSize > 0 {
		c, h, w := ds.Shape()
		cacheManager = NewCacheManager(config.MaxCacheSize, c*h*w)
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:      ds,
		config:       config,
		indices:      indices,
		rng:          rand.New(rand.NewPCG(uint64(config.Seed), 0xda7a)),
		cacheManager: cacheManager,
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds to the beginning and reshuffles when shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.config.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	if dl.config.DropLast {
		return n / dl.config.BatchSize
	}
	return (n + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// NextBatch loads the next batch, or returns nil once the epoch is exhausted.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 || (dl.config.DropLast && remaining < dl.config.BatchSize) {
		return nil, nil
	}
	batchSize := min(remaining, dl.config.BatchSize)
	indices := dl.indices[dl.position : dl.position+batchSize]
	dl.position += batchSize

	// Transform draws happen here, in batch order, so the result does not
	// depend on worker scheduling.
	params := make([]preprocessing.CropFlipParams, batchSize)
	if dl.config.Transform != nil {
		for i := range params {
			params[i] = dl.config.Transform.Sample(dl.rng)
		}
	}

	c, h, w := dl.dataset.Shape()
	itemSize := c * h * w
	data := make([]float32, batchSize*itemSize)
	labels := make([]int, batchSize)

	p := pool.New().WithErrors().WithMaxGoroutines(dl.config.NumWorkers)
	for i, idx := range indices {
		p.Go(func() error {
			pixels, label, err := dl.load(idx)
			if err != nil {
				return fmt.Errorf("item %d: %w", idx, err)
			}
			if len(pixels) != itemSize {
				return trainerr.DataShape("images", "item %d has %d values, expected %d", idx, len(pixels), itemSize)
			}
			if dl.config.Transform != nil {
				pixels = dl.config.Transform.Apply(pixels, c, h, w, params[i])
			}
			copy(data[i*itemSize:(i+1)*itemSize], pixels)
			labels[i] = label
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	images, err := tensor.NewTensor([]int{batchSize, c, h, w}, data)
	if err != nil {
		return nil, err
	}
	return NewBatch(images, labels)
}

// load fetches an item, going through the cache for keyed datasets.
func (dl *DataLoader) load(idx int) ([]float32, int, error) {
	keyed, ok := dl.dataset.(dataset.Keyed)
	if !ok || dl.cacheManager == nil {
		return dl.dataset.Get(idx)
	}

	key := keyed.Key(idx)
	if cached, exists := dl.cacheManager.Get(key); exists {
		return cached.Pixels, cached.Label, nil
	}
	pixels, label, err := dl.dataset.Get(idx)
	if err != nil {
		return nil, 0, err
	}
	dl.cacheManager.Put(key, CachedItem{Pixels: pixels, Label: label})
	return pixels, label, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	if dl.cacheManager == nil {
		return "Cache: disabled"
	}
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}

// NumClasses returns the class count of the underlying dataset.
func (dl *DataLoader) NumClasses() int {
	return dl.dataset.NumClasses()
}

// NewLoaders creates a shuffling, augmenting train loader and a fixed-order
// test loader that share one decode cache.
func NewLoaders(train, test dataset.Dataset, config Config) (*DataLoader, *DataLoader, error) {
	if config.MaxCacheSize > 0 && config.CacheManager == nil {
		c, h, w := train.Shape()
		config.CacheManager = NewCacheManager(config.MaxCacheSize, c*h*w)
	}

	trainConfig := config
	trainConfig.Shuffle = true
	trainLoader, err := NewDataLoader(train, trainConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("train loader: %w", err)
	}

	testConfig := config
	testConfig.Shuffle = false
	testConfig.DropLast = false
	testConfig.Transform = nil
	testLoader, err := NewDataLoader(test, testConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("test loader: %w", err)
	}
	return trainLoader, testLoader, nil
}
