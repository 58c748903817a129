// mixtrain trains an image classifier on CIFAR-10/100 (or an image folder, or
// synthetic data) with mixup, CutMix, matrix mixing or AugMix, checkpointing the
// model with the best test accuracy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-mixtrain/config"
	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/training"
	"github.com/tsawler/go-mixtrain/vision/dataloader"
	"github.com/tsawler/go-mixtrain/vision/dataset"
	"github.com/tsawler/go-mixtrain/vision/preprocessing"
)

var (
	flagConfig      = flag.String("config", "", "YAML run configuration; flags given explicitly override it")
	flagWriteConfig = flag.String("write-config", "", "Write the effective configuration to this path and exit")

	flagLR          = flag.Float64("lr", 0.1, "Base learning rate")
	flagResume      = flag.Bool("resume", false, "Resume from the run's checkpoint")
	flagName        = flag.String("name", "0", "Run name")
	flagSeed        = flag.Int64("seed", 0, "Random seed")
	flagModel       = flag.String("model", "SimpleCNN", "Model architecture")
	flagBatchSize   = flag.Int("batch-size", 128, "Batch size")
	flagEpochs      = flag.Int("epoch", 200, "Total epochs to run")
	flagAlpha       = flag.Float64("alpha", 1.0, "Mixup interpolation strength")
	flagMethod      = flag.String("mixup", "none", "Mixing method: none, mixup, cutmix, matrix, augmix")
	flagBeta        = flag.Float64("beta", 0, "CutMix box-size strength")
	flagCutMixProb  = flag.Float64("cutmix-prob", 0, "CutMix probability per batch")
	flagMomentum    = flag.Float64("momentum", 0.9, "SGD momentum")
	flagWeightDecay = flag.Float64("weight-decay", 1e-4, "SGD weight decay")
	flagSeverity    = flag.Int("severity", 3, "AugMix severity (1-10)")
	flagNumClasses  = flag.Int("num-classes", 100, "Number of classes for synthetic data")
	flagData        = flag.String("data", "./data", "Dataset directory")
	flagDataset     = flag.String("dataset", "cifar100", "Dataset: cifar10, cifar100, folder, synthetic")
	flagSchedule    = flag.String("schedule", "cosine", "Learning rate schedule")
	flagCheckpoint  = flag.String("checkpoint-dir", "checkpoint", "Checkpoint directory")
	flagResults     = flag.String("results-dir", "results", "Directory for the epoch CSV log")
	flagFormat      = flag.String("format", "json", "Checkpoint format: json or binary")
	flagWorkers     = flag.Int("workers", 4, "Parallel loading and augmentation workers")
	flagTrainLimit  = flag.Int("train-limit", 0, "Use only the first N training images (0 = all)")
	flagTestLimit   = flag.Int("test-limit", 0, "Use only the first N test images (0 = all)")
	flagPrefetch    = flag.Int("prefetch", 2, "Batches to load ahead in the background (0 = none)")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if err := run(); err != nil {
		klog.Errorf("Error:\n%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *flagWriteConfig != "" {
		if err := cfg.Save(*flagWriteConfig); err != nil {
			return err
		}
		klog.Infof("configuration written to %s", *flagWriteConfig)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	if cfg.Resume {
		klog.Info("==> Resuming from checkpoint..")
		if err := session.Resume(); err != nil {
			return err
		}
	}
	return session.Run(ctx)
}

// loadConfig starts from the config file, or the defaults, and applies every
// flag set on the command line.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return nil, err
		}
	}

	overrides := map[string]func(){
		"lr":             func() { cfg.LR = *flagLR },
		"resume":         func() { cfg.Resume = *flagResume },
		"name":           func() { cfg.Name = *flagName },
		"seed":           func() { cfg.Seed = *flagSeed },
		"model":          func() { cfg.Model = *flagModel },
		"batch-size":     func() { cfg.BatchSize = *flagBatchSize },
		"epoch":          func() { cfg.Epochs = *flagEpochs },
		"alpha":          func() { cfg.Alpha = *flagAlpha },
		"mixup":          func() { cfg.Method = *flagMethod },
		"beta":           func() { cfg.Beta = *flagBeta },
		"cutmix-prob":    func() { cfg.CutMixProb = *flagCutMixProb },
		"momentum":       func() { cfg.Momentum = *flagMomentum },
		"weight-decay":   func() { cfg.WeightDecay = *flagWeightDecay },
		"severity":       func() { cfg.Severity = *flagSeverity },
		"num-classes":    func() { cfg.NumClasses = *flagNumClasses },
		"data":           func() { cfg.Data = *flagData },
		"dataset":        func() { cfg.Dataset = *flagDataset },
		"schedule":       func() { cfg.Schedule = *flagSchedule },
		"checkpoint-dir": func() { cfg.CheckpointDir = *flagCheckpoint },
		"results-dir":    func() { cfg.ResultsDir = *flagResults },
		"format":         func() { cfg.Format = *flagFormat },
		"workers":        func() { cfg.Workers = *flagWorkers },
		"train-limit":    func() { cfg.TrainSize = *flagTrainLimit },
		"test-limit":     func() { cfg.TestSize = *flagTestLimit },
		"prefetch":       func() { cfg.Prefetch = *flagPrefetch },
	}
	flag.Visit(func(f *flag.Flag) {
		if set, ok := overrides[f.Name]; ok {
			set()
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDatasets returns the train and test splits, limited as configured, and
// whether the CIFAR transform and normalization apply.
func loadDatasets(cfg *config.Config) (dataset.Dataset, dataset.Dataset, bool, error) {
	var train, test dataset.Dataset
	isCIFAR := false

	switch cfg.Dataset {
	case "cifar10", "cifar100":
		variant, err := dataset.ParseVariant(cfg.Dataset)
		if err != nil {
			return nil, nil, false, err
		}
		tr, err := dataset.LoadCIFAR(cfg.Data, variant, true)
		if err != nil {
			return nil, nil, false, err
		}
		te, err := dataset.LoadCIFAR(cfg.Data, variant, false)
		if err != nil {
			return nil, nil, false, err
		}
		train, test, isCIFAR = tr, te, true
	case "folder":
		all, err := dataset.NewImageFolderDataset(cfg.Data, cfg.ImageSize, nil)
		if err != nil {
			return nil, nil, false, err
		}
		klog.Infof("Image folder: %s", all)
		tr, te := all.Split(0.8, cfg.Seed+1)
		train, test = tr, te
	case "synthetic":
		tr, err := dataset.NewSyntheticDataset(5000, 3, 32, 32, cfg.NumClasses, cfg.Seed)
		if err != nil {
			return nil, nil, false, err
		}
		te, err := dataset.NewSyntheticDataset(1000, 3, 32, 32, cfg.NumClasses, cfg.Seed+1)
		if err != nil {
			return nil, nil, false, err
		}
		train, test = tr, te
	default:
		return nil, nil, false, fmt.Errorf("unsupported dataset %q", cfg.Dataset)
	}

	train, err := dataset.NewSubset(train, cfg.TrainSize)
	if err != nil {
		return nil, nil, false, err
	}
	test, err = dataset.NewSubset(test, cfg.TestSize)
	if err != nil {
		return nil, nil, false, err
	}
	return train, test, isCIFAR, nil
}

func newSession(cfg *config.Config) (*training.TrainingSession, error) {
	klog.Info("==> Preparing data..")
	train, test, isCIFAR, err := loadDatasets(cfg)
	if err != nil {
		return nil, err
	}

	loaderConfig := cfg.LoaderConfig()
	var normalizer *preprocessing.Normalizer
	if isCIFAR {
		transform := preprocessing.NewCIFARTransform()
		loaderConfig.Transform = &transform
		normalizer = preprocessing.NewCIFARNormalizer()
	}
	trainLoader, testLoader, err := dataloader.NewLoaders(train, test, loaderConfig)
	if err != nil {
		return nil, err
	}
	klog.Infof("%d train / %d test images, %d classes, %d batches per epoch",
		train.Len(), test.Len(), train.NumClasses(), trainLoader.Len())
	var trainSource, testSource training.BatchSource = trainLoader, testLoader
	if cfg.Prefetch > 0 {
		if trainSource, err = dataloader.NewPrefetcher(trainLoader, cfg.Prefetch); err != nil {
			return nil, err
		}
		if testSource, err = dataloader.NewPrefetcher(testLoader, cfg.Prefetch); err != nil {
			return nil, err
		}
	}

	klog.Info("==> Building model..")
	c, h, w := train.Shape()
	model, err := layers.NewClassifier(cfg.Model, []int{c, h, w}, train.NumClasses(), cfg.Seed)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("\n%s", training.NewModelArchitecturePrinter(cfg.Model).Format(model.Spec()))

	opt, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{
		LearningRate: float32(cfg.LR),
		Momentum:     float32(cfg.Momentum),
		WeightDecay:  float32(cfg.WeightDecay),
		Nesterov:     cfg.Momentum > 0,
	}, model.Parameters())
	if err != nil {
		return nil, err
	}
	scheduler, err := training.NewScheduler(cfg.Schedule, cfg.Epochs)
	if err != nil {
		return nil, err
	}

	method, err := cfg.MixingMethod()
	if err != nil {
		return nil, err
	}
	source := mixing.NewSource(cfg.Seed)
	strategy, err := mixing.NewStrategy(method, cfg.MixingOptions(), source)
	if err != nil {
		return nil, err
	}
	runner := training.NewEpochRunner(model, opt, strategy, normalizer)
	runner.Progress = true

	log, err := training.OpenEpochLog(cfg.LogPath())
	if err != nil {
		return nil, err
	}
	format, err := cfg.CheckpointFormat()
	if err != nil {
		return nil, err
	}

	return training.NewTrainingSession(training.SessionConfig{
		Architecture:  cfg.Model,
		Method:        method,
		Seed:          cfg.Seed,
		Epochs:        cfg.Epochs,
		BaseLR:        cfg.LR,
		CheckpointDir: cfg.CheckpointDir,
		Format:        format,
		Description:   cfg.Name,
	}, training.Components{
		Model:       model,
		Optimizer:   opt,
		Scheduler:   scheduler,
		Runner:      runner,
		Source:      source,
		TrainLoader: trainSource,
		TestLoader:  testSource,
		Log:         log,
	})
}
