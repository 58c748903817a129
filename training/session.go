package training

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-mixtrain/checkpoints"
	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// SessionConfig identifies a training run and where its state is kept.
type SessionConfig struct {
	Architecture  string
	Method        mixing.Method
	Seed          int64
	Epochs        int
	BaseLR        float64
	CheckpointDir string
	Format        checkpoints.CheckpointFormat
	Description   string
	Tags          []string
}

// Components are the collaborators a session drives.
type Components struct {
	Model       layers.Classifier
	Optimizer   optimizer.Optimizer
	Scheduler   LRScheduler
	Runner      EpochExecutor
	Source      *mixing.Source // mixing random stream, checkpointed for resume
	TrainLoader BatchSource
	TestLoader  BatchSource
	Log         *EpochLog // optional
}

// EpochRecord is the outcome of one completed epoch.
type EpochRecord struct {
	Epoch        int
	Train        EpochSummary
	Test         EpochSummary
	LearningRate float64 // rate used during the epoch
	Checkpointed bool
	Duration     time.Duration
}

// TrainingSession owns the state of one run: the model, optimizer, schedule,
// mixing stream and the best accuracy seen.
type TrainingSession struct {
	config SessionConfig

	model     layers.Classifier
	optimizer optimizer.Optimizer
	schedule  *Schedule
	runner    EpochExecutor
	source    *mixing.Source
	train     BatchSource
	test      BatchSource
	log       *EpochLog

	policy     *BestModelPolicy
	saver      *checkpoints.CheckpointSaver
	startEpoch int
	runID      string
	history    []EpochRecord
}

// NewTrainingSession validates the configuration and assembles a session that
// starts at epoch 0.
func NewTrainingSession(cfg SessionConfig, c Components) (*TrainingSession, error) {
	if cfg.Epochs <= 0 {
		return nil, trainerr.Configuration("epochs", "must be positive, got %d", cfg.Epochs)
	}
	if cfg.CheckpointDir == "" {
		return nil, trainerr.Configuration("checkpoint_dir", "must not be empty")
	}
	if c.Model == nil || c.Optimizer == nil || c.Runner == nil || c.Source == nil {
		return nil, trainerr.Configuration("session", "model, optimizer, runner and random source are required")
	}
	if c.TrainLoader == nil || c.TestLoader == nil {
		return nil, trainerr.Configuration("data", "train and test loaders are required")
	}
	scheduler := c.Scheduler
	if scheduler == nil {
		scheduler = &NoOpScheduler{}
	}
	if cfg.BaseLR <= 0 {
		cfg.BaseLR = float64(c.Optimizer.LearningRate())
	}

	s := &TrainingSession{
		config:    cfg,
		model:     c.Model,
		optimizer: c.Optimizer,
		schedule:  NewSchedule(scheduler, c.Optimizer, cfg.BaseLR),
		runner:    c.Runner,
		source:    c.Source,
		train:     c.TrainLoader,
		test:      c.TestLoader,
		log:       c.Log,
		policy:    NewBestModelPolicy(),
		saver:     checkpoints.NewCheckpointSaver(cfg.Format),
		runID:     uuid.NewString(),
	}
	s.schedule.SetEpoch(0)
	return s, nil
}

// RunID identifies the run in checkpoints and logs.
func (s *TrainingSession) RunID() string {
	return s.runID
}

// StartEpoch returns the first epoch Run will execute.
func (s *TrainingSession) StartEpoch() int {
	return s.startEpoch
}

// BestAccuracy returns the best evaluation accuracy seen, in percent.
func (s *TrainingSession) BestAccuracy() float64 {
	return s.policy.Best()
}

// History returns the records of the epochs run so far.
func (s *TrainingSession) History() []EpochRecord {
	return s.history
}

// CheckpointPath is the file the session saves to and resumes from.
func (s *TrainingSession) CheckpointPath() string {
	return checkpoints.Path(s.config.CheckpointDir, s.config.Architecture, s.config.Method.String(), s.config.Seed, s.config.Format)
}

// Resume restores the model, optimizer, mixing stream and best accuracy from the
// run's checkpoint and continues after the checkpointed epoch.
func (s *TrainingSession) Resume() error {
	info, err := os.Stat(s.config.CheckpointDir)
	if err != nil || !info.IsDir() {
		return trainerr.Configuration("resume", "no checkpoint directory found at %s", s.config.CheckpointDir)
	}

	path := s.CheckpointPath()
	cp, err := s.saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to resume from %s: %w", path, err)
	}
	if cp.Metadata.Architecture != s.config.Architecture || cp.Metadata.Method != s.config.Method.String() {
		return trainerr.Configuration("resume", "checkpoint %s was written by %s/%s, not %s/%s", path,
			cp.Metadata.Architecture, cp.Metadata.Method, s.config.Architecture, s.config.Method)
	}

	if specified, ok := s.model.(interface{ Spec() *layers.ModelSpec }); ok && cp.ModelSpec != nil {
		if !specified.Spec().Compatible(cp.ModelSpec) {
			return trainerr.Configuration("resume", "checkpoint %s holds an incompatible %s model", path, s.config.Architecture)
		}
	}
	if err := checkpoints.LoadWeights(cp.Weights, s.model.Parameters()); err != nil {
		return fmt.Errorf("failed to restore weights: %w", err)
	}
	if cp.OptimizerState != nil {
		if err := s.optimizer.LoadState(cp.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer: %w", err)
		}
	}
	if len(cp.RNGState) > 0 {
		if err := s.source.Restore(cp.RNGState); err != nil {
			return fmt.Errorf("failed to restore random state: %w", err)
		}
	}

	s.policy = RestoreBestModelPolicy(cp.TrainingState.Best())
	s.startEpoch = cp.TrainingState.Epoch + 1
	s.schedule.SetEpoch(s.startEpoch)
	if cp.Metadata.RunID != "" {
		s.runID = cp.Metadata.RunID
	}

	klog.Infof("Resumed run %s from %s: epoch %d, best accuracy %.2f%%",
		s.runID, path, cp.TrainingState.Epoch, s.policy.Best())
	return nil
}

// Run trains from the start epoch through the configured number of epochs.
// Each epoch trains, evaluates, logs a row, checkpoints on a strictly better
// accuracy and advances the learning rate schedule once.
func (s *TrainingSession) Run(ctx context.Context) error {
	klog.Infof("Run %s: %s with %s mixing, epochs %d-%d, schedule %s",
		s.runID, s.config.Architecture, s.config.Method, s.startEpoch, s.config.Epochs-1, s.schedule.Name())

	for epoch := s.startEpoch; epoch < s.config.Epochs; epoch++ {
		if err := s.runEpoch(ctx, epoch); err != nil {
			return err
		}
	}

	klog.Infof("Run %s finished: best accuracy %.2f%%", s.runID, s.policy.Best())
	return nil
}

func (s *TrainingSession) runEpoch(ctx context.Context, epoch int) error {
	start := time.Now()
	lr := float64(s.optimizer.LearningRate())

	train, err := s.runner.RunEpoch(ctx, Training, s.train)
	if err != nil {
		return fmt.Errorf("training epoch %d failed: %w", epoch, err)
	}
	test, err := s.runner.RunEpoch(ctx, Evaluation, s.test)
	if err != nil {
		return fmt.Errorf("evaluation epoch %d failed: %w", epoch, err)
	}

	if s.log != nil {
		if err := s.log.Append(epoch, train, test); err != nil {
			return err
		}
	}

	record := EpochRecord{Epoch: epoch, Train: train, Test: test, LearningRate: lr}
	if s.policy.Consider(test.Accuracy) {
		if err := s.saveCheckpoint(epoch, lr, test); err != nil {
			return err
		}
		record.Checkpointed = true
	}

	s.schedule.Report(test.Loss)
	next := s.schedule.Advance()
	record.Duration = time.Since(start)
	s.history = append(s.history, record)

	klog.Infof("Epoch %d/%d: train loss %.4f acc %.2f%% | test loss %.4f acc %.2f%% top1 %.2f%% top5 %.2f%% rms %.2f%% | lr %.5f -> %.5f (%s)",
		epoch, s.config.Epochs-1, train.Loss, train.Accuracy, test.Loss, test.Accuracy, test.Top1, test.Top5,
		test.Calibration, lr, next, record.Duration.Round(time.Millisecond))
	klog.V(1).Infof("Epoch %d: reg loss %.5f, train rms %.2f%%, test macro F1 %.2f%%", epoch, train.RegLoss, train.Calibration, test.MacroF1)
	return nil
}

func (s *TrainingSession) saveCheckpoint(epoch int, lr float64, test EpochSummary) error {
	optState, err := s.optimizer.GetState()
	if err != nil {
		return fmt.Errorf("failed to capture optimizer state: %w", err)
	}
	rngState, err := s.source.State()
	if err != nil {
		return fmt.Errorf("failed to capture random state: %w", err)
	}

	cp := &checkpoints.Checkpoint{
		Weights: checkpoints.ExtractWeights(s.model.Parameters()),
		TrainingState: checkpoints.TrainingState{
			Epoch:             epoch,
			Step:              int(s.optimizer.GetStepCount()),
			LearningRate:      float32(lr),
			Accuracy:          float32(test.Accuracy),
			BestLoss:          float32(test.Loss),
			BestAccuracy:      float32(s.policy.Best()),
			BestAccuracyExact: s.policy.Best(),
			TotalSteps:        int(s.optimizer.GetStepCount()),
		},
		OptimizerState: optState,
		RNGState:       rngState,
		Metadata: checkpoints.CheckpointMetadata{
			RunID:        s.runID,
			Architecture: s.config.Architecture,
			Method:       s.config.Method.String(),
			Seed:         s.config.Seed,
			CreatedAt:    time.Now(),
			Description:  s.config.Description,
			Tags:         s.config.Tags,
		},
	}
	if specified, ok := s.model.(interface{ Spec() *layers.ModelSpec }); ok {
		cp.ModelSpec = specified.Spec()
	}

	path := s.CheckpointPath()
	if err := s.saver.SaveCheckpoint(cp, path); err != nil {
		return fmt.Errorf("failed to save checkpoint for epoch %d: %w", epoch, err)
	}
	klog.Infof("Saved checkpoint %s (accuracy %.2f%%)", path, test.Accuracy)
	return nil
}
