package training

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/tensor"
)

// mockHTTPServer creates a mock HTTP server for testing
func mockHTTPServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func testPlottingConfig(url string) PlottingServiceConfig {
	config := DefaultPlottingServiceConfig()
	config.BaseURL = url
	config.RetryDelay = time.Millisecond
	return config
}

func writeResponse(w http.ResponseWriter, status int, resp PlottingResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func TestDefaultPlottingServiceConfig(t *testing.T) {
	config := DefaultPlottingServiceConfig()
	assert.Equal(t, "http://localhost:8080", config.BaseURL)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 3, config.RetryAttempts)
	assert.Equal(t, time.Second, config.RetryDelay)
	assert.False(t, config.SaveJSON)
}

func TestNewPlottingService(t *testing.T) {
	config := PlottingServiceConfig{BaseURL: "http://test:9090", Timeout: 15 * time.Second}
	ps := NewPlottingService(config)

	assert.Equal(t, config.BaseURL, ps.baseURL)
	assert.Equal(t, config.Timeout, ps.httpClient.Timeout)
	assert.Equal(t, 1, ps.config.RetryAttempts)
	assert.Nil(t, ps.collector)
}

func TestSendPlotDataSuccess(t *testing.T) {
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/plot", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "go-latent-training", r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var received PlotData
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, LossCurves, received.PlotType)
		assert.Equal(t, "TestModel", received.ModelName)

		writeResponse(w, http.StatusOK, PlottingResponse{
			Success: true,
			Message: "Plot generated successfully",
			PlotURL: "/plots/123",
			PlotID:  "plot_123",
		})
	})

	ps := NewPlottingService(testPlottingConfig(server.URL))
	resp, err := ps.SendPlotData(context.Background(), PlotData{
		PlotType:  LossCurves,
		Title:     "Test Plot",
		Timestamp: time.Now(),
		ModelName: "TestModel",
		Series:    []SeriesData{{Name: "train total_loss", Type: "line", Data: []DataPoint{{X: 0, Y: 2.0}}}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "/plots/123", resp.PlotURL)
	assert.Equal(t, "plot_123", resp.PlotID)
}

func TestSendPlotDataHTTPError(t *testing.T) {
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusBadRequest, PlottingResponse{Message: "Invalid plot data", ErrorCode: "INVALID_DATA"})
	})

	ps := NewPlottingService(testPlottingConfig(server.URL))
	resp, err := ps.SendPlotData(context.Background(), PlotData{PlotType: LossCurves})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	require.NotNil(t, resp)
	assert.Equal(t, "INVALID_DATA", resp.ErrorCode)
}

func TestSendPlotDataWithRetry(t *testing.T) {
	var calls atomic.Int32
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeResponse(w, http.StatusServiceUnavailable, PlottingResponse{Message: "busy"})
			return
		}
		writeResponse(w, http.StatusOK, PlottingResponse{Success: true, PlotID: "retried"})
	})

	ps := NewPlottingService(testPlottingConfig(server.URL))
	resp, err := ps.SendPlotDataWithRetry(context.Background(), PlotData{PlotType: LatentScatter})
	require.NoError(t, err)
	assert.Equal(t, "retried", resp.PlotID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendPlotDataWithRetryFailure(t *testing.T) {
	var calls atomic.Int32
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeResponse(w, http.StatusInternalServerError, PlottingResponse{Message: "boom"})
	})

	config := testPlottingConfig(server.URL)
	config.RetryAttempts = 2
	ps := NewPlottingService(config, WithPlottingLogger(quietLogger()))
	_, err := ps.SendPlotDataWithRetry(context.Background(), PlotData{PlotType: LatentScatter})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())

	config.RetryDelay = time.Hour
	ps = NewPlottingService(config, WithPlottingLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ps.SendPlotDataWithRetry(ctx, PlotData{PlotType: LatentScatter})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ps := NewPlottingService(testPlottingConfig(server.URL))
	assert.NoError(t, ps.CheckHealth(context.Background()))

	healthy.Store(false)
	err := ps.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	unreachable := NewPlottingService(testPlottingConfig("http://127.0.0.1:1"))
	assert.Error(t, unreachable.CheckHealth(context.Background()))
}

func TestPlottingServiceVisualizeEpoch(t *testing.T) {
	var mu sync.Mutex
	var received []PlotType
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		var pd PlotData
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pd))
		mu.Lock()
		received = append(received, pd.PlotType)
		mu.Unlock()
		writeResponse(w, http.StatusOK, PlottingResponse{Success: true})
	})

	di := newTestDomain(t, domainOpts{name: "rna", samples: 6, seed: 1})
	dj := newTestDomain(t, domainOpts{name: "atac", samples: 6, seed: 2, offset: 2})

	collector := NewVisualizationCollector("align")
	require.NoError(t, collector.RecordEpoch(domain.PhaseTrain, 0, Statistics{MetricTotalLoss: 1}))

	config := testPlottingConfig(server.URL)
	config.SaveJSON = true
	ps := NewPlottingService(config, WithCollector(collector), WithPlottingLogger(quietLogger()))

	dir := t.TempDir()
	var vis Visualizer = ps
	require.NoError(t, vis.VisualizeEpoch(context.Background(), []*domain.DomainConfig{di, dj}, 4, dir, tensor.CPU))

	assert.Equal(t, []PlotType{LatentScatter, ReconstructionScatter, LossCurves}, received)

	raw, err := os.ReadFile(filepath.Join(dir, "plots_epoch_4.json"))
	require.NoError(t, err)
	var saved []PlotData
	require.NoError(t, json.Unmarshal(raw, &saved))
	require.Len(t, saved, 3)
	require.Len(t, saved[0].Series, 2)
	assert.Len(t, saved[0].Series[0].Data, 6)
}

func TestPlottingServiceVisualizeEpochUploadFailure(t *testing.T) {
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusInternalServerError, PlottingResponse{Message: "down"})
	})
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})

	ps := NewPlottingService(testPlottingConfig(server.URL), WithPlottingLogger(quietLogger()))
	err := ps.VisualizeEpoch(context.Background(), []*domain.DomainConfig{d}, 0, t.TempDir(), tensor.CPU)
	assert.Error(t, err)
}
