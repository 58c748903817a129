package dataset

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-mixtrain/vision/preprocessing"
)

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory represents a class. Images are decoded on access and
// resized to a square of imageSize pixels.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
	imageSize  int
	processor  *preprocessing.ImageProcessor
}

// NewImageFolderDataset creates a dataset from a directory structure. Classes
// are indexed in lexical order of their directory names.
func NewImageFolderDataset(root string, imageSize int, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = []string{".jpg", ".jpeg", ".png"}
	}
	if imageSize <= 0 {
		return nil, fmt.Errorf("invalid image size %d", imageSize)
	}

	dataset := &ImageFolderDataset{
		classToIdx: make(map[string]int),
		imageSize:  imageSize,
		processor:  preprocessing.NewImageProcessor(imageSize),
	}

	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	sort.Strings(classes)

	classIdx := 0
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}

		className := filepath.Base(classPath)
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		var files []string
		for _, ext := range extensions {
			matches, err := filepath.Glob(filepath.Join(classPath, "*"+ext))
			if err != nil {
				continue
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
		for _, file := range files {
			dataset.imagePaths = append(dataset.imagePaths, file)
			dataset.labels = append(dataset.labels, classIdx)
		}

		classIdx++
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// Get decodes the image at index.
func (d *ImageFolderDataset) Get(index int) ([]float32, int, error) {
	path, label, err := d.GetItem(index)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	img, err := d.processor.DecodeAndPreprocess(file)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return img.Data, label, nil
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Key returns the image path, used as the decode cache key.
func (d *ImageFolderDataset) Key(index int) string {
	return d.imagePaths[index]
}

func (d *ImageFolderDataset) Shape() (int, int, int) {
	return 3, d.imageSize, d.imageSize
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Split splits the dataset into train and test sets. A non-zero seed shuffles
// the items first.
func (d *ImageFolderDataset) Split(trainRatio float64, seed int64) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if seed != 0 {
		rng := rand.New(rand.NewPCG(uint64(seed), 0x5917))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// Subset creates a subset of the dataset with the specified indices
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
		imageSize:  d.imageSize,
		processor:  preprocessing.NewImageProcessor(d.imageSize),
	}

	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}

	return sb.String()
}
