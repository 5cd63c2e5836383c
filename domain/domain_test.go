package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
)

func testLoaders(t *testing.T) map[Phase]data.Loader {
	t.Helper()
	ds, err := data.Synthetic(data.SyntheticConfig{NSamples: 20, NClasses: 2, Dim: 3, Separation: 2, Seed: 1})
	require.NoError(t, err)
	loaders, err := BuildLoaders(ds, LoaderConfig{BatchSize: 4, Shuffle: true, Split: data.SplitConfig{Train: 0.6, Val: 0.2}}, "x", "y")
	require.NoError(t, err)
	return loaders
}

func vaeSpec() DomainSpec {
	return DomainSpec{
		Name:      "rna",
		Model:     models.Config{Type: "VanillaVAE", InputDim: 3, HiddenDims: []int{4}, LatentDim: 2},
		Optimizer: optimizer.Config{Type: "adam", LearningRate: 1e-3},
		ReconLoss: loss.Config{Type: "mae"},
		DataKey:   "x",
		LabelKey:  "y",
	}
}

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{"train": PhaseTrain, "val": PhaseVal, "validation": PhaseVal, "test": PhaseTest} {
		got, err := ParsePhase(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePhase("predict")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBuildLoaders(t *testing.T) {
	loaders := testLoaders(t)
	require.Len(t, loaders, 3)
	assert.Equal(t, 12, loaders[PhaseTrain].DatasetLen())
	assert.Equal(t, 4, loaders[PhaseVal].DatasetLen())
	assert.Equal(t, 4, loaders[PhaseTest].DatasetLen())

	loaders[PhaseVal].Reset()
	b, err := loaders[PhaseVal].Next()
	require.NoError(t, err)
	assert.Contains(t, b, "x")
	assert.Contains(t, b, "y")

	ds, err := data.Synthetic(data.SyntheticConfig{NSamples: 10, NClasses: 2, Dim: 2, Seed: 1})
	require.NoError(t, err)
	noTest, err := BuildLoaders(ds, LoaderConfig{BatchSize: 2, Split: data.SplitConfig{Train: 0.5, Val: 0.5}}, "", "")
	require.NoError(t, err)
	assert.NotContains(t, noTest, PhaseTest)

	_, err = BuildLoaders(ds, LoaderConfig{BatchSize: 0, Split: data.SplitConfig{Train: 0.5, Val: 0.5}}, "", "")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewDomainConfig(t *testing.T) {
	cfg, err := NewDomainConfig(vaeSpec(), testLoaders(t))
	require.NoError(t, err)
	assert.Equal(t, "rna", cfg.Name)
	assert.True(t, cfg.ModelConfig.Trainable)
	assert.Equal(t, "x", cfg.DataKey)

	_, ok := cfg.Loader(PhaseTest)
	assert.True(t, ok)
	_, ok = cfg.Loader(Phase("predict"))
	assert.False(t, ok)

	spec := vaeSpec()
	spec.Frozen = true
	spec.DataKey = ""
	frozen, err := NewDomainConfig(spec, testLoaders(t))
	require.NoError(t, err)
	assert.False(t, frozen.ModelConfig.Trainable)
	assert.Equal(t, data.DefaultDataKey, frozen.DataKey)
}

func TestNewDomainConfigErrors(t *testing.T) {
	loaders := testLoaders(t)
	tests := []struct {
		name   string
		mutate func(*DomainSpec)
		target error
	}{
		{"unknown model", func(s *DomainSpec) { s.Model.Type = "VanillaConvVAE" }, models.ErrUnknownModel},
		{"unknown optimizer", func(s *DomainSpec) { s.Optimizer.Type = "lbfgs" }, optimizer.ErrUnknownOptimizer},
		{"unknown loss", func(s *DomainSpec) { s.ReconLoss.Type = "huber" }, loss.ErrUnknownLoss},
		{"missing name", func(s *DomainSpec) { s.Name = "" }, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := vaeSpec()
			tt.mutate(&spec)
			_, err := NewDomainConfig(spec, loaders)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	_, err := NewDomainConfig(vaeSpec(), map[Phase]data.Loader{PhaseTrain: loaders[PhaseTrain]})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResetModel(t *testing.T) {
	cfg, err := NewDomainConfig(vaeSpec(), testLoaders(t))
	require.NoError(t, err)

	p := cfg.ModelConfig.Model.Parameters()[0]
	before := append([]float64(nil), p.Data...)
	for i := range p.Data {
		p.Data[i] += 1
	}
	require.NoError(t, cfg.ModelConfig.ResetModel())
	assert.Equal(t, before, p.Data)
}

func TestNewLatentModelConfig(t *testing.T) {
	dcm, err := NewLatentModelConfig(LatentSpec{
		Model:     models.Config{Type: "LatentDiscriminator", LatentDim: 2, HiddenDims: []int{4}},
		Optimizer: optimizer.Config{Type: "rmsprop"},
	})
	require.NoError(t, err)
	ce, ok := dcm.Loss.(*loss.CrossEntropyLoss)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1}, ce.Weights())

	_, err = NewLatentModelConfig(LatentSpec{
		Model:     models.Config{Type: "LatentDiscriminator", LatentDim: 2},
		Optimizer: optimizer.Config{Type: "adam"},
		Loss:      loss.Config{Type: "ce", Weights: []float64{1, 2, 3}, NClasses: 2},
	})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewLatentModelConfig(LatentSpec{Model: models.Config{Type: "GAN"}})
	assert.ErrorIs(t, err, models.ErrUnknownModel)
}
