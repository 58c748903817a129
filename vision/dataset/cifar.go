package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tsawler/go-mixtrain/trainerr"
	"github.com/tsawler/go-mixtrain/vision/preprocessing"
)

// Variant selects the CIFAR label set.
type Variant int

const (
	CIFAR10 Variant = iota
	CIFAR100
)

const (
	cifarChannels = 3
	cifarSize     = 32
	cifarPixels   = cifarChannels * cifarSize * cifarSize
)

func (v Variant) String() string {
	switch v {
	case CIFAR10:
		return "cifar10"
	case CIFAR100:
		return "cifar100"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// NumClasses returns the number of labels of the variant. CIFAR-100 uses its
// fine labels.
func (v Variant) NumClasses() int {
	if v == CIFAR100 {
		return 100
	}
	return 10
}

// labelBytes is the per-record label prefix: CIFAR-100 stores a coarse then a
// fine label.
func (v Variant) labelBytes() int {
	if v == CIFAR100 {
		return 2
	}
	return 1
}

// files lists the binary batch files of a split.
func (v Variant) files(train bool) []string {
	if v == CIFAR100 {
		if train {
			return []string{"train.bin"}
		}
		return []string{"test.bin"}
	}
	if train {
		return []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	}
	return []string{"test_batch.bin"}
}

// subdir is the directory name of the official binary archive.
func (v Variant) subdir() string {
	if v == CIFAR100 {
		return "cifar-100-binary"
	}
	return "cifar-10-batches-bin"
}

// ParseVariant maps a dataset name to its variant.
func ParseVariant(name string) (Variant, error) {
	switch name {
	case "cifar10", "cifar-10", "CIFAR10":
		return CIFAR10, nil
	case "cifar100", "cifar-100", "CIFAR100":
		return CIFAR100, nil
	default:
		return 0, trainerr.Configuration("dataset", "unknown CIFAR variant %q", name)
	}
}

// CIFARDataset holds one split of CIFAR-10 or CIFAR-100 in memory as bytes.
type CIFARDataset struct {
	variant Variant
	pixels  []byte // Len() records of cifarPixels bytes, planar RGB
	labels  []int
}

// LoadCIFAR reads the binary version of a split from dir, which may be the
// archive directory itself or its parent. Missing files are a configuration
// error; the dataset is never downloaded.
func LoadCIFAR(dir string, variant Variant, train bool) (*CIFARDataset, error) {
	root := dir
	if _, err := os.Stat(filepath.Join(dir, variant.subdir())); err == nil {
		root = filepath.Join(dir, variant.subdir())
	}

	ds := &CIFARDataset{variant: variant}
	for _, name := range variant.files(train) {
		path := filepath.Join(root, name)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, trainerr.Configuration("data", "%s file %s not found", variant, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		pixels, labels, err := ReadCIFARRecords(bufio.NewReader(f), variant)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		ds.pixels = append(ds.pixels, pixels...)
		ds.labels = append(ds.labels, labels...)
	}
	if len(ds.labels) == 0 {
		return nil, trainerr.Configuration("data", "no %s records found in %s", variant, root)
	}
	return ds, nil
}

// ReadCIFARRecords decodes consecutive fixed-size records until EOF.
func ReadCIFARRecords(r io.Reader, variant Variant) ([]byte, []int, error) {
	recordSize := variant.labelBytes() + cifarPixels
	record := make([]byte, recordSize)

	var pixels []byte
	var labels []int
	for n := 0; ; n++ {
		_, err := io.ReadFull(r, record)
		if err == io.EOF {
			return pixels, labels, nil
		}
		if err != nil {
			return nil, nil, trainerr.DataShape("data", "record %d truncated: %v", n, err)
		}
		label := int(record[variant.labelBytes()-1])
		if label >= variant.NumClasses() {
			return nil, nil, trainerr.DataShape("labels", "record %d has label %d, %s has %d classes", n, label, variant, variant.NumClasses())
		}
		labels = append(labels, label)
		pixels = append(pixels, record[variant.labelBytes():]...)
	}
}

// NewCIFARFromRecords builds a dataset from decoded records.
func NewCIFARFromRecords(variant Variant, pixels []byte, labels []int) (*CIFARDataset, error) {
	if len(pixels) != len(labels)*cifarPixels {
		return nil, trainerr.DataShape("data", "%d pixel bytes for %d records", len(pixels), len(labels))
	}
	return &CIFARDataset{variant: variant, pixels: pixels, labels: labels}, nil
}

func (d *CIFARDataset) Len() int { return len(d.labels) }

func (d *CIFARDataset) Get(index int) ([]float32, int, error) {
	if index < 0 || index >= len(d.labels) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.labels))
	}
	return preprocessing.FromBytes(d.pixels[index*cifarPixels : (index+1)*cifarPixels]), d.labels[index], nil
}

func (d *CIFARDataset) Shape() (int, int, int) { return cifarChannels, cifarSize, cifarSize }

func (d *CIFARDataset) NumClasses() int { return d.variant.NumClasses() }

// Variant returns the label set of the dataset.
func (d *CIFARDataset) Variant() Variant { return d.variant }
