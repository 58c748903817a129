package trainerr

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		config   bool
		shape    bool
		contains string
	}{
		{"configuration", Configuration("mixup", "unknown method %q", "foo"), true, false, `configuration(mixup): unknown method "foo"`},
		{"data shape", DataShape("labels", "got %d labels for %d images", 3, 4), false, true, "data_shape(labels): got 3 labels for 4 images"},
		{"wrapped configuration", WrapConfiguration(io.EOF, "config", "failed to parse"), true, false, "failed to parse: EOF"},
		{"plain error", io.EOF, false, false, "EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfiguration(tt.err); got != tt.config {
				t.Errorf("IsConfiguration = %v, expected %v", got, tt.config)
			}
			if got := IsDataShape(tt.err); got != tt.shape {
				t.Errorf("IsDataShape = %v, expected %v", got, tt.shape)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, expected to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestCategorySurvivesWrapping(t *testing.T) {
	base := DataShape("box", "x1 > x2")
	wrapped := fmt.Errorf("training epoch 3 failed: %w", errors.Wrap(base, "batch 7"))

	if !IsDataShape(wrapped) {
		t.Error("category should survive fmt and pkg/errors wrapping")
	}
	if !strings.Contains(fmt.Sprintf("%+v", base), "errors_test.go") {
		t.Error("expected a stack trace in the verbose output")
	}
}
