package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// EpochLogHeader is the fixed column schema of the per-epoch CSV log.
var EpochLogHeader = []string{
	"epoch", "train loss", "reg loss", "train acc", "train top1 acc", "train top5 acc", "train rms",
	"test loss", "test acc", "test top1 acc", "test top5 acc", "test rms",
}

// EpochLog appends one row per epoch to a CSV file. The header is written only
// when the file does not exist yet; existing rows are never rewritten.
type EpochLog struct {
	path string
}

// OpenEpochLog prepares the log at path, creating its directory and writing
// the header row if the file is absent.
func OpenEpochLog(path string) (*EpochLog, error) {
	if _, err := os.Stat(path); err == nil {
		return &EpochLog{path: path}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat epoch log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	l := &EpochLog{path: path}
	if err := l.append(EpochLogHeader); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the log file location.
func (l *EpochLog) Path() string {
	return l.path
}

// Append writes the row for one epoch.
func (l *EpochLog) Append(epoch int, train, test EpochSummary) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return l.append([]string{
		strconv.Itoa(epoch),
		f(train.Loss), f(train.RegLoss), f(train.Accuracy), f(train.Top1), f(train.Top5), f(train.Calibration),
		f(test.Loss), f(test.Accuracy), f(test.Top1), f(test.Top5), f(test.Calibration),
	})
}

func (l *EpochLog) append(record []string) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open epoch log: %w", err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(record); err != nil {
		file.Close()
		return fmt.Errorf("failed to write epoch log: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush epoch log: %w", err)
	}
	return file.Close()
}
