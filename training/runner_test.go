package training

import (
	"context"
	"errors"
	"testing"

	"github.com/tsawler/go-mixtrain/layers"
	"github.com/tsawler/go-mixtrain/mixing"
	"github.com/tsawler/go-mixtrain/optimizer"
	"github.com/tsawler/go-mixtrain/trainerr"
	"github.com/tsawler/go-mixtrain/vision/dataloader"
	"github.com/tsawler/go-mixtrain/vision/dataset"
)

// sliceSource replays a fixed list of batches every epoch.
type sliceSource struct {
	batches []*dataloader.Batch
	pos     int
	resets  int
}

func (s *sliceSource) Reset() {
	s.pos = 0
	s.resets++
}

func (s *sliceSource) NextBatch() (*dataloader.Batch, error) {
	if s.pos >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceSource) Len() int { return len(s.batches) }

func syntheticLoader(t *testing.T, size, batchSize int, shuffle bool) *dataloader.DataLoader {
	t.Helper()
	ds, err := dataset.NewSyntheticDataset(size, 3, 8, 8, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	dl, err := dataloader.NewDataLoader(ds, dataloader.Config{BatchSize: batchSize, Shuffle: shuffle, Seed: 5, NumWorkers: 2})
	if err != nil {
		t.Fatal(err)
	}
	return dl
}

func newTestRunner(t *testing.T, method mixing.Method) *EpochRunner {
	t.Helper()
	model, err := layers.NewClassifier("Linear", []int{3, 8, 8}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	opt, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{LearningRate: 0.01}, model.Parameters())
	if err != nil {
		t.Fatal(err)
	}
	opts := mixing.DefaultOptions()
	opts.CutMixProb = 1
	opts.Workers = 2
	strategy, err := mixing.NewStrategy(method, opts, mixing.NewSource(3))
	if err != nil {
		t.Fatal(err)
	}
	return NewEpochRunner(model, opt, strategy, nil)
}

func TestEpochRunnerLearns(t *testing.T) {
	runner := newTestRunner(t, mixing.MethodNone)
	train := syntheticLoader(t, 64, 16, true)
	test := syntheticLoader(t, 32, 16, false)
	ctx := context.Background()

	before, err := runner.RunEpoch(ctx, Evaluation, test)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for epoch := 0; epoch < 5; epoch++ {
		summary, err := runner.RunEpoch(ctx, Training, train)
		if err != nil {
			t.Fatalf("training epoch %d failed: %v", epoch, err)
		}
		if summary.Batches != 4 || summary.Examples != 64 {
			t.Fatalf("epoch %d saw %d batches, %d examples", epoch, summary.Batches, summary.Examples)
		}
	}
	after, err := runner.RunEpoch(ctx, Evaluation, test)
	if err != nil {
		t.Fatal(err)
	}

	if after.Loss >= before.Loss {
		t.Errorf("test loss did not decrease: %.4f -> %.4f", before.Loss, after.Loss)
	}
	if after.Top1 > after.Top5 {
		t.Errorf("top1 %v exceeds top5 %v", after.Top1, after.Top5)
	}
	if runner.Model.Training() {
		t.Error("model should be in eval mode after an evaluation epoch")
	}
}

func TestEpochRunnerAllMethods(t *testing.T) {
	for _, method := range mixing.Methods {
		t.Run(method.String(), func(t *testing.T) {
			runner := newTestRunner(t, method)
			summary, err := runner.RunEpoch(context.Background(), Training, syntheticLoader(t, 24, 12, true))
			if err != nil {
				t.Fatalf("training epoch failed: %v", err)
			}
			if summary.Examples != 24 {
				t.Errorf("expected 24 examples, got %d", summary.Examples)
			}
			if summary.Loss <= 0 {
				t.Errorf("expected positive loss, got %v", summary.Loss)
			}
			if summary.Accuracy < 0 || summary.Accuracy > 100 {
				t.Errorf("accuracy %v outside [0, 100]", summary.Accuracy)
			}
		})
	}
}

func TestEpochRunnerEvaluationDoesNotUpdate(t *testing.T) {
	runner := newTestRunner(t, mixing.MethodMixup)
	before := append([]float32(nil), runner.Model.Parameters()[0].Data...)

	if _, err := runner.RunEpoch(context.Background(), Evaluation, syntheticLoader(t, 8, 4, false)); err != nil {
		t.Fatal(err)
	}
	for i, v := range runner.Model.Parameters()[0].Data {
		if v != before[i] {
			t.Fatal("evaluation changed the parameters")
		}
	}
}

func TestEpochRunnerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty loader", func(t *testing.T) {
		runner := newTestRunner(t, mixing.MethodNone)
		src := &sliceSource{}
		_, err := runner.RunEpoch(ctx, Evaluation, src)
		if !trainerr.IsDataShape(err) {
			t.Errorf("expected data shape error, got %v", err)
		}
		if src.resets != 1 {
			t.Errorf("loader reset %d times, want 1", src.resets)
		}
	})

	t.Run("training without optimizer", func(t *testing.T) {
		runner := newTestRunner(t, mixing.MethodNone)
		runner.Optimizer = nil
		if _, err := runner.RunEpoch(ctx, Training, &sliceSource{}); !trainerr.IsConfiguration(err) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		runner := newTestRunner(t, mixing.MethodNone)
		if _, err := runner.RunEpoch(ctx, Mode(7), &sliceSource{}); !trainerr.IsConfiguration(err) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		runner := newTestRunner(t, mixing.MethodNone)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := runner.RunEpoch(cancelled, Training, syntheticLoader(t, 8, 4, false))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("wrong image shape", func(t *testing.T) {
		runner := newTestRunner(t, mixing.MethodNone)
		images := mustTensor(t, []int{2, 1, 8, 8}, make([]float32, 128))
		batch, err := dataloader.NewBatch(images, []int{0, 1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := runner.RunEpoch(ctx, Evaluation, &sliceSource{batches: []*dataloader.Batch{batch}}); err == nil {
			t.Error("expected error for mismatched input shape")
		}
	})
}
