package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
)

// ProgressBar renders a run's progress over its epochs on one terminal line.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a bar writing to out; a nil out writes to stdout.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances the bar to step and replaces the shown metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish fills the bar and ends the line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	if pb.current > 0 && percentage > 0 {
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))

	names := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, key := range names {
		value := pb.metrics[key]
		if strings.Contains(key, "accuracy") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", key, value)
		}
	}
	fmt.Fprint(pb.out, line+"]")
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ProgressRecorder is a Recorder drawing an epoch progress bar that shows the
// latest train and val total losses, and printing the test statistics.
type ProgressRecorder struct {
	mu     sync.Mutex
	out    io.Writer
	bar    *ProgressBar
	epochs int
	shown  map[string]float64
}

// NewProgressRecorder creates a recorder for a run of numEpochs epochs.
func NewProgressRecorder(out io.Writer, description string, numEpochs int) *ProgressRecorder {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressRecorder{
		out:    out,
		bar:    NewProgressBar(out, description, numEpochs),
		epochs: numEpochs,
		shown:  make(map[string]float64),
	}
}

// RecordEpoch implements Recorder.
func (p *ProgressRecorder) RecordEpoch(phase domain.Phase, epoch int, stats Statistics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch phase {
	case domain.PhaseTrain:
		p.shown[string(phase)+"_loss"] = stats[MetricTotalLoss]
		p.bar.Update(epoch, p.shown)
	case domain.PhaseVal:
		p.shown[string(phase)+"_loss"] = stats[MetricTotalLoss]
		p.bar.Update(epoch+1, p.shown)
	case domain.PhaseTest:
		p.bar.Finish()
		fmt.Fprintf(p.out, "Test after %d epochs:\n", epoch)
		for _, name := range stats.Names() {
			fmt.Fprintf(p.out, "  %-14s %.6f\n", name, stats[name])
		}
	}
	return nil
}

// PrintArchitecture writes every named parameter of m with its shape,
// followed by the parameter count.
func PrintArchitecture(out io.Writer, name string, m layers.Parametrized) {
	fmt.Fprintf(out, "%s(\n", name)
	for _, p := range m.NamedParameters() {
		fmt.Fprintf(out, "  (%s): %v\n", p.Name, p.Tensor.Shape)
	}
	fmt.Fprintf(out, ")\n")
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(layers.CountParameters(m)))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(layers.CountParameters(m)*8)/1024/1024)
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
