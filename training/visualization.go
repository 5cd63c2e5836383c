package training

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/tensor"
)

// Visualizer renders qualitative results for an epoch. The loops call it on
// every save cadence hit of the validation phase and ignore its error beyond
// logging it.
type Visualizer interface {
	VisualizeEpoch(ctx context.Context, domains []*domain.DomainConfig, epoch int, outputDir string, device tensor.DeviceType) error
}

// VisualizerFunc adapts a function to the Visualizer interface.
type VisualizerFunc func(ctx context.Context, domains []*domain.DomainConfig, epoch int, outputDir string, device tensor.DeviceType) error

func (f VisualizerFunc) VisualizeEpoch(ctx context.Context, domains []*domain.DomainConfig, epoch int, outputDir string, device tensor.DeviceType) error {
	return f(ctx, domains, epoch, outputDir, device)
}

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	LossCurves            PlotType = "loss_curves"
	LatentScatter         PlotType = "latent_scatter"
	ReconstructionScatter PlotType = "reconstruction_scatter"
)

// PlotData represents the universal JSON format for the sidecar plotting service
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel  string `json:"x_axis_label"`
	YAxisLabel  string `json:"y_axis_label"`
	XAxisScale  string `json:"x_axis_scale"`
	YAxisScale  string `json:"y_axis_scale"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interactive bool   `json:"interactive"`
}

func defaultPlotConfig(x, y string) PlotConfig {
	return PlotConfig{
		XAxisLabel:  x,
		YAxisLabel:  y,
		XAxisScale:  "linear",
		YAxisScale:  "linear",
		ShowLegend:  true,
		ShowGrid:    true,
		Width:       800,
		Height:      600,
		Interactive: true,
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

var seriesColors = []string{"#FF6B6B", "#4ECDC4", "#FF9F43", "#5F27CD", "#6C5CE7", "#10AC84"}

type seriesKey struct {
	phase  domain.Phase
	metric string
}

func (k seriesKey) String() string { return fmt.Sprintf("%s %s", k.phase, k.metric) }

// VisualizationCollector keeps the epoch statistics of a run so loss curves
// can be plotted. It implements Recorder and is safe for concurrent use.
type VisualizationCollector struct {
	modelName string

	mu     sync.Mutex
	series map[seriesKey][]DataPoint
}

// NewVisualizationCollector creates an empty collector.
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{
		modelName: modelName,
		series:    make(map[seriesKey][]DataPoint),
	}
}

// RecordEpoch appends every statistic as a point of the "<phase> <metric>"
// series.
func (vc *VisualizationCollector) RecordEpoch(phase domain.Phase, epoch int, stats Statistics) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for name, v := range stats {
		key := seriesKey{phase: phase, metric: name}
		vc.series[key] = append(vc.series[key], DataPoint{X: epoch, Y: v})
	}
	return nil
}

// GenerateLossCurvesPlot plots the recorded series of the given metrics for
// every phase, or all series when no metric is named.
func (vc *VisualizationCollector) GenerateLossCurvesPlot(metrics ...string) PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	wanted := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		wanted[m] = true
	}
	keys := make([]seriesKey, 0, len(vc.series))
	for k := range vc.series {
		if len(wanted) == 0 || wanted[k.metric] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })

	series := make([]SeriesData, 0, len(keys))
	for i, k := range keys {
		series = append(series, SeriesData{
			Name:  k.String(),
			Type:  "line",
			Data:  append([]DataPoint(nil), vc.series[k]...),
			Style: map[string]interface{}{"color": seriesColors[i%len(seriesColors)], "line_width": 2},
		})
	}
	return PlotData{
		PlotType:  LossCurves,
		Title:     fmt.Sprintf("Loss Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config:    defaultPlotConfig("Epoch", "Loss"),
	}
}

// Clear drops all recorded series.
func (vc *VisualizationCollector) Clear() {
	vc.mu.Lock()
	vc.series = make(map[seriesKey][]DataPoint)
	vc.mu.Unlock()
}

// EncodeDomains runs every domain's autoencoder in evaluation mode over its
// loader for phase and returns the latent means and the reconstructions of
// the first input feature as plot data. The first two latent dimensions are
// plotted; a 1-D latent space is plotted against zero.
func EncodeDomains(domains []*domain.DomainConfig, phase domain.Phase, modelName string) ([]PlotData, error) {
	latent := PlotData{
		PlotType:  LatentScatter,
		Title:     fmt.Sprintf("Latent Space - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Config:    defaultPlotConfig("z[0]", "z[1]"),
	}
	recon := PlotData{
		PlotType:  ReconstructionScatter,
		Title:     fmt.Sprintf("Reconstruction - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Config:    defaultPlotConfig("x[0]", "reconstructed x[0]"),
	}

	for k, d := range domains {
		loader, err := phaseLoader(d, phase)
		if err != nil {
			return nil, err
		}
		d.ModelConfig.Model.Eval()
		loader.Reset()

		color := seriesColors[k%len(seriesColors)]
		ls := SeriesData{Name: d.Name, Type: "scatter", Style: map[string]interface{}{"color": color}}
		rs := SeriesData{Name: d.Name, Type: "scatter", Style: map[string]interface{}{"color": color}}
		for {
			batch, err := nextBatch(loader, d)
			if err != nil {
				return nil, err
			}
			if batch == nil {
				break
			}
			out, err := d.ModelConfig.Model.Forward(batch.Inputs)
			if err != nil {
				return nil, fmt.Errorf("domain %q forward: %w", d.Name, err)
			}
			for r := 0; r < out.Mu.Rows(); r++ {
				label := ""
				if batch.Labels != nil {
					label = fmt.Sprint(int(batch.Labels.Data[r]))
				}
				y := 0.0
				if out.Mu.Cols() > 1 {
					y = out.Mu.At(r, 1)
				}
				ls.Data = append(ls.Data, DataPoint{X: out.Mu.At(r, 0), Y: y, Label: label})
				rs.Data = append(rs.Data, DataPoint{X: batch.Inputs.At(r, 0), Y: out.Recons.At(r, 0), Label: label})
			}
		}
		latent.Series = append(latent.Series, ls)
		recon.Series = append(recon.Series, rs)
	}
	return []PlotData{latent, recon}, nil
}
