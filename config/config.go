// Package config holds the run configuration of a training job: defaults, an
// optional YAML file and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-mixtrain/checkpoints"
	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/trainerr"
	"github.com/tsawler/go-mixtrain/training"
	"github.com/tsawler/go-mixtrain/vision/dataloader"
)

// Datasets lists the accepted values of Config.Dataset.
var Datasets = []string{"cifar10", "cifar100", "folder", "synthetic"}

// Config is the complete description of a training run.
type Config struct {
	Name   string `yaml:"name"`
	Seed   int64  `yaml:"seed"`
	Resume bool   `yaml:"resume"`

	Model      string `yaml:"model"`
	NumClasses int    `yaml:"num_classes"`

	LR          float64 `yaml:"lr"`
	Momentum    float64 `yaml:"momentum"`
	WeightDecay float64 `yaml:"weight_decay"`
	Schedule    string  `yaml:"schedule"`
	BatchSize   int     `yaml:"batch_size"`
	Epochs      int     `yaml:"epochs"`

	// Method is the mixing method name: none, mixup, cutmix, matrix or augmix.
	Method      string  `yaml:"mixup"`
	Alpha       float64 `yaml:"alpha"`
	Beta        float64 `yaml:"beta"`
	CutMixProb  float64 `yaml:"cutmix_prob"`
	Severity    int     `yaml:"severity"`
	AugMixWidth int     `yaml:"augmix_width"`
	AugMixDepth int     `yaml:"augmix_depth"`

	Data      string `yaml:"data"`
	Dataset   string `yaml:"dataset"`
	ImageSize int    `yaml:"image_size"` // folder datasets only
	TrainSize int    `yaml:"train_limit"`
	TestSize  int    `yaml:"test_limit"`
	Workers   int    `yaml:"workers"`
	CacheSize int    `yaml:"cache_size"`
	Prefetch  int    `yaml:"prefetch"` // batches loaded ahead; 0 loads inline

	CheckpointDir string `yaml:"checkpoint_dir"`
	ResultsDir    string `yaml:"results_dir"`
	Format        string `yaml:"format"`
}

// Default returns the CIFAR-100 recipe: 200 epochs of SGD with momentum under
// cosine annealing.
func Default() *Config {
	return &Config{
		Name:          "0",
		Model:         "SimpleCNN",
		NumClasses:    100,
		LR:            0.1,
		Momentum:      0.9,
		WeightDecay:   1e-4,
		Schedule:      "cosine",
		BatchSize:     128,
		Epochs:        200,
		Method:        mixing.MethodNone.String(),
		Alpha:         1.0,
		Beta:          0,
		CutMixProb:    0,
		Severity:      3,
		AugMixWidth:   3,
		AugMixDepth:   -1,
		Data:          "./data",
		Dataset:       "cifar100",
		ImageSize:     32,
		Workers:       4,
		Prefetch:      2,
		CheckpointDir: "checkpoint",
		ResultsDir:    "results",
		Format:        checkpoints.FormatJSON.String(),
	}
}

// Load reads a YAML file on top of Default. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, trainerr.WrapConfiguration(err, "config", "failed to parse %s", path)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting as a configuration error.
func (c *Config) Validate() error {
	method, err := c.MixingMethod()
	if err != nil {
		return err
	}
	if _, err := c.CheckpointFormat(); err != nil {
		return err
	}
	if _, err := training.NewScheduler(c.Schedule, max(c.Epochs, 1)); err != nil {
		return err
	}
	if !slices.Contains(layers.Architectures(), c.Model) {
		return trainerr.Configuration("model", "unknown architecture %q", c.Model)
	}
	if !slices.Contains(Datasets, c.Dataset) {
		return trainerr.Configuration("dataset", "unknown dataset %q", c.Dataset)
	}

	switch {
	case method == mixing.MethodMatrix && c.BatchSize < 3:
		return trainerr.Configuration("batch_size", "matrix mixing splits batches into thirds and needs at least 3, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return trainerr.Configuration("epochs", "must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return trainerr.Configuration("batch_size", "must be positive, got %d", c.BatchSize)
	case c.LR <= 0:
		return trainerr.Configuration("lr", "must be positive, got %v", c.LR)
	case c.Momentum < 0:
		return trainerr.Configuration("momentum", "cannot be negative, got %v", c.Momentum)
	case c.WeightDecay < 0:
		return trainerr.Configuration("weight_decay", "cannot be negative, got %v", c.WeightDecay)
	case c.CutMixProb < 0 || c.CutMixProb > 1:
		return trainerr.Configuration("cutmix_prob", "must be in [0, 1], got %v", c.CutMixProb)
	case c.Severity < 1 || c.Severity > 10:
		return trainerr.Configuration("severity", "must be in [1, 10], got %d", c.Severity)
	case c.AugMixWidth <= 0:
		return trainerr.Configuration("augmix_width", "must be positive, got %d", c.AugMixWidth)
	case c.NumClasses < 2:
		return trainerr.Configuration("num_classes", "need at least 2 classes, got %d", c.NumClasses)
	case c.TrainSize < 0 || c.TestSize < 0:
		return trainerr.Configuration("train_limit", "limits cannot be negative")
	case c.Workers < 0:
		return trainerr.Configuration("workers", "cannot be negative, got %d", c.Workers)
	case c.Prefetch < 0:
		return trainerr.Configuration("prefetch", "cannot be negative, got %d", c.Prefetch)
	case c.CheckpointDir == "":
		return trainerr.Configuration("checkpoint_dir", "must not be empty")
	case c.ResultsDir == "":
		return trainerr.Configuration("results_dir", "must not be empty")
	}
	return nil
}

// MixingMethod parses Method.
func (c *Config) MixingMethod() (mixing.Method, error) {
	return mixing.ParseMethod(c.Method)
}

// CheckpointFormat parses Format.
func (c *Config) CheckpointFormat() (checkpoints.CheckpointFormat, error) {
	format, err := checkpoints.ParseFormat(c.Format)
	if err != nil {
		return 0, trainerr.WrapConfiguration(err, "format", "invalid checkpoint format")
	}
	return format, nil
}

// MixingOptions returns the strategy hyperparameters.
func (c *Config) MixingOptions() mixing.Options {
	return mixing.Options{
		Alpha:      c.Alpha,
		Beta:       c.Beta,
		CutMixProb: c.CutMixProb,
		Severity:   c.Severity,
		Width:      c.AugMixWidth,
		Depth:      c.AugMixDepth,
		Workers:    max(c.Workers, 1),
	}
}

// LoaderConfig returns the data loader settings. Matrix mixing splits every
// training batch into thirds, so a short final batch is dropped.
func (c *Config) LoaderConfig() dataloader.Config {
	method, _ := c.MixingMethod()
	return dataloader.Config{
		BatchSize:    c.BatchSize,
		Seed:         c.Seed,
		DropLast:     method == mixing.MethodMatrix,
		MaxCacheSize: c.CacheSize,
		NumWorkers:   max(c.Workers, 1),
	}
}

// LogPath is the CSV epoch log of the run.
func (c *Config) LogPath() string {
	return filepath.Join(c.ResultsDir, fmt.Sprintf("log_%s_%s_%s_%d.csv", c.Model, c.Name, c.Method, c.Seed))
}
