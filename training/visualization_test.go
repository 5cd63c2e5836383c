package training

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/domain"
)

func TestVisualizationCollectorLossCurves(t *testing.T) {
	vc := NewVisualizationCollector("align")
	for epoch, loss := range []float64{3, 2, 1} {
		require.NoError(t, vc.RecordEpoch(domain.PhaseTrain, epoch, Statistics{MetricTotalLoss: loss, MetricDCMLoss: 0.7}))
		require.NoError(t, vc.RecordEpoch(domain.PhaseVal, epoch, Statistics{MetricTotalLoss: loss + 0.5}))
	}

	plot := vc.GenerateLossCurvesPlot(MetricTotalLoss)
	assert.Equal(t, LossCurves, plot.PlotType)
	assert.Equal(t, "align", plot.ModelName)
	assert.Equal(t, "Epoch", plot.Config.XAxisLabel)
	require.Len(t, plot.Series, 2)
	assert.Equal(t, "train total_loss", plot.Series[0].Name)
	assert.Equal(t, "val total_loss", plot.Series[1].Name)
	require.Len(t, plot.Series[1].Data, 3)
	assert.Equal(t, DataPoint{X: 2, Y: 1.5}, plot.Series[1].Data[2])

	all := vc.GenerateLossCurvesPlot()
	assert.Len(t, all.Series, 3)

	vc.Clear()
	assert.Empty(t, vc.GenerateLossCurvesPlot().Series)
}

func TestPlotDataToJSON(t *testing.T) {
	vc := NewVisualizationCollector("align")
	require.NoError(t, vc.RecordEpoch(domain.PhaseVal, 0, Statistics{MetricTotalLoss: 0.25}))

	raw, err := vc.GenerateLossCurvesPlot().ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "loss_curves", decoded["plot_type"])
	series := decoded["series"].([]interface{})
	require.Len(t, series, 1)
	point := series[0].(map[string]interface{})["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 0.25, point["y"])
}

func TestEncodeDomains(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "rna", samples: 10, seed: 1})
	dj := newTestDomain(t, domainOpts{name: "atac", samples: 6, seed: 2})
	di.ModelConfig.Model.Train()

	plots, err := EncodeDomains([]*domain.DomainConfig{di, dj}, domain.PhaseVal, "epoch 3")
	require.NoError(t, err)
	require.Len(t, plots, 2)

	latent, recon := plots[0], plots[1]
	assert.Equal(t, LatentScatter, latent.PlotType)
	assert.Equal(t, ReconstructionScatter, recon.PlotType)
	require.Len(t, latent.Series, 2)
	assert.Equal(t, "rna", latent.Series[0].Name)
	assert.Len(t, latent.Series[0].Data, 10)
	assert.Len(t, latent.Series[1].Data, 6)
	assert.Len(t, recon.Series[1].Data, 6)
	assert.NotEmpty(t, latent.Series[0].Data[0].Label)
	assert.False(t, di.ModelConfig.Model.IsTraining())

	// Evaluation mode encodes the posterior mean, so a second pass matches.
	again, err := EncodeDomains([]*domain.DomainConfig{di, dj}, domain.PhaseVal, "epoch 3")
	require.NoError(t, err)
	assert.Equal(t, latent.Series[0].Data, again[0].Series[0].Data)

	_, err = EncodeDomains([]*domain.DomainConfig{di}, domain.PhaseTest, "epoch 3")
	assert.ErrorIs(t, err, ErrContractViolation)
}
