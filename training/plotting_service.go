package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/tensor"
)

// PlottingService sends plot data to a sidecar plotting application. It
// implements Visualizer.
type PlottingService struct {
	baseURL    string
	httpClient *http.Client
	config     PlottingServiceConfig
	collector  *VisualizationCollector
	logger     logrus.FieldLogger
}

// PlottingServiceConfig contains configuration for the plotting service
type PlottingServiceConfig struct {
	BaseURL       string        `mapstructure:"base_url" json:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	// SaveJSON also writes each epoch's plots to <output_dir>/plots_epoch_<n>.json.
	SaveJSON bool `mapstructure:"save_json" json:"save_json"`
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	ViewURL   string `json:"view_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// PlottingOption configures a PlottingService.
type PlottingOption func(*PlottingService)

// WithCollector adds the loss curves of collector to every epoch's plots.
func WithCollector(c *VisualizationCollector) PlottingOption {
	return func(ps *PlottingService) { ps.collector = c }
}

// WithPlottingLogger sets the logger; the default is the logrus standard logger.
func WithPlottingLogger(l logrus.FieldLogger) PlottingOption {
	return func(ps *PlottingService) { ps.logger = l }
}

// NewPlottingService creates a new plotting service client
func NewPlottingService(config PlottingServiceConfig, opts ...PlottingOption) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	ps := &PlottingService{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(ps)
	}
	return ps
}

// SendPlotData posts plot data to the sidecar's /api/plot endpoint.
func (ps *PlottingService) SendPlotData(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	jsonData, err := json.Marshal(plotData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plot data: %w", err)
	}

	url := fmt.Sprintf("%s/api/plot", ps.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-latent-training")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var plotResponse PlottingResponse
	if err := json.Unmarshal(respBody, &plotResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &plotResponse, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, plotResponse.Message)
	}
	return &plotResponse, nil
}

// SendPlotDataWithRetry retries SendPlotData up to RetryAttempts times.
func (ps *PlottingService) SendPlotDataWithRetry(ctx context.Context, plotData PlotData) (*PlottingResponse, error) {
	var lastErr error
	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		resp, err := ps.SendPlotData(ctx, plotData)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		ps.logger.WithFields(logrus.Fields{
			"attempt":   attempt + 1,
			"plot_type": plotData.PlotType,
		}).WithError(err).Debug("plot upload failed")

		if attempt < ps.config.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ps.config.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("failed to send plot data after %d attempts: %w", ps.config.RetryAttempts, lastErr)
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", ps.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// VisualizeEpoch encodes the validation data of every domain and uploads the
// latent scatter, the reconstruction scatter and, with a collector, the loss
// curves. Computation runs on CPU whatever the device.
func (ps *PlottingService) VisualizeEpoch(ctx context.Context, domains []*domain.DomainConfig, epoch int, outputDir string, device tensor.DeviceType) error {
	name := fmt.Sprintf("epoch %d", epoch)
	plots, err := EncodeDomains(domains, domain.PhaseVal, name)
	if err != nil {
		return err
	}
	if ps.collector != nil {
		plots = append(plots, ps.collector.GenerateLossCurvesPlot(MetricTotalLoss))
	}

	if ps.config.SaveJSON {
		if err := writePlots(filepath.Join(outputDir, fmt.Sprintf("plots_epoch_%d.json", epoch)), plots); err != nil {
			return err
		}
	}

	for _, p := range plots {
		resp, err := ps.SendPlotDataWithRetry(ctx, p)
		if err != nil {
			return err
		}
		ps.logger.WithFields(logrus.Fields{
			"epoch":     epoch,
			"plot_type": p.PlotType,
			"plot_id":   resp.PlotID,
		}).Debug("plot uploaded")
	}
	return nil
}

func writePlots(path string, plots []PlotData) error {
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plots: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
