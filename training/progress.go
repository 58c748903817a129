package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tsawler/go-mixtrain/layers"
)

// ProgressBar provides PyTorch-style training progress visualization
type ProgressBar struct {
	out         io.Writer // nil disables rendering
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a progress bar on stdout. It renders nothing when
// stdout is not a terminal, so redirected runs keep clean logs.
func NewProgressBar(description string, total int) *ProgressBar {
	var out io.Writer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		out = os.Stdout
	}
	return NewProgressBarTo(out, description, total)
}

// NewProgressBarTo creates a progress bar that renders to out.
func NewProgressBarTo(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Enabled reports whether the bar renders anything.
func (pb *ProgressBar) Enabled() bool {
	return pb.out != nil
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	if pb.out != nil {
		fmt.Fprintln(pb.out)
	}
}

func (pb *ProgressBar) render() {
	if pb.out == nil {
		return
	}
	fmt.Fprint(pb.out, pb.line(time.Since(pb.startTime)))
}

// line formats the bar for the given elapsed time.
func (pb *ProgressBar) line(elapsed time.Duration) string {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}

	filled := min(int(percentage*float64(pb.width)), pb.width)
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	var eta time.Duration
	var rate float64
	if pb.current > 0 && elapsed > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		// accuracies are already percentages
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}

	return line + "]"
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter formats a PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
}

// NewModelArchitecturePrinter creates a new model architecture printer
func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
	}
}

// Format renders the model architecture and parameter summary.
func (p *ModelArchitecturePrinter) Format(modelSpec *layers.ModelSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(\n", p.modelName)
	for _, layer := range modelSpec.Layers {
		fmt.Fprintf(&b, "  %s\n", p.formatLayer(layer))
	}
	fmt.Fprintf(&b, ")\n")
	fmt.Fprintf(&b, "Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Fprintf(&b, "Input size (MB): %.3f\n", calculateInputSize(modelSpec.InputShape))
	fmt.Fprintf(&b, "Params size (MB): %.3f", float64(modelSpec.TotalParameters*4)/1024/1024)
	return b.String()
}

func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	param := func(key string) interface{} { return layer.Parameters[key] }
	switch layer.Type {
	case layers.Conv2D:
		k := param("kernel_size")
		s := param("stride")
		pad := param("padding")
		return fmt.Sprintf("(%s): Conv2d(%v, %v, kernel_size=(%v, %v), stride=(%v, %v), padding=(%v, %v), bias=%v)",
			layer.Name, param("input_channels"), param("output_channels"), k, k, s, s, pad, pad, param("use_bias"))
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%v, out_features=%v, bias=%v)",
			layer.Name, param("input_size"), param("output_size"), param("use_bias"))
	case layers.MaxPool2D:
		return fmt.Sprintf("(%s): MaxPool2d(kernel_size=%v)", layer.Name, param("pool_size"))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// calculateInputSize estimates input tensor size in MB
func calculateInputSize(inputShape []int) float64 {
	size := 1
	for _, dim := range inputShape {
		size *= dim
	}
	return float64(size*4) / 1024 / 1024
}
