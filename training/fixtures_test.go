package training

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
	"github.com/tsawler/go-latent/tensor"
)

// fixedLoaders serves the same unshuffled dataset for every phase.
func fixedLoaders(t *testing.T, ds data.Dataset, batchSize int, phases ...domain.Phase) map[domain.Phase]data.Loader {
	t.Helper()
	loaders := make(map[domain.Phase]data.Loader, len(phases))
	for _, p := range phases {
		dl, err := data.NewDataLoader(ds, batchSize, false, 0)
		require.NoError(t, err)
		loaders[p] = dl
	}
	return loaders
}

type domainOpts struct {
	name      string
	samples   int
	batchSize int
	offset    float64
	seed      int64
	frozen    bool
	hidden    []int
	lr        float64
	phases    []domain.Phase
}

func newTestDomain(t *testing.T, o domainOpts) *domain.DomainConfig {
	t.Helper()
	if o.samples == 0 {
		o.samples = 12
	}
	if o.batchSize == 0 {
		o.batchSize = 4
	}
	if o.lr == 0 {
		o.lr = 1e-2
	}
	if len(o.phases) == 0 {
		o.phases = []domain.Phase{domain.PhaseTrain, domain.PhaseVal}
	}

	ds, err := data.Synthetic(data.SyntheticConfig{
		NSamples:   o.samples,
		NClasses:   2,
		Dim:        2,
		Separation: 2,
		Std:        0.5,
		Offset:     o.offset,
		Seed:       o.seed,
	})
	require.NoError(t, err)

	cfg, err := domain.NewDomainConfig(domain.DomainSpec{
		Name:      o.name,
		Model:     models.Config{Type: "VanillaVAE", InputDim: 2, HiddenDims: o.hidden, LatentDim: 2},
		Optimizer: optimizer.Config{Type: "adam", LearningRate: o.lr},
		ReconLoss: loss.Config{Type: "mse"},
		Frozen:    o.frozen,
	}, fixedLoaders(t, ds, o.batchSize, o.phases...))
	require.NoError(t, err)
	return cfg
}

func newTestDCM(t *testing.T) *domain.LatentModelConfig {
	t.Helper()
	dcm, err := domain.NewLatentModelConfig(domain.LatentSpec{
		Model:     models.Config{Type: "LatentDiscriminator", LatentDim: 2, HiddenDims: []int{4}},
		Optimizer: optimizer.Config{Type: "rmsprop", LearningRate: 1e-3},
	})
	require.NoError(t, err)
	return dcm
}

func newTestCLF(t *testing.T) *domain.LatentModelConfig {
	t.Helper()
	clf, err := domain.NewLatentModelConfig(domain.LatentSpec{
		Model:     models.Config{Type: "LatentClassifier", LatentDim: 2, NClasses: 2},
		Optimizer: optimizer.Config{Type: "adam", LearningRate: 1e-2},
	})
	require.NoError(t, err)
	return clf
}

// firstBatch returns the first batch of a domain's phase loader.
func firstBatch(t *testing.T, d *domain.DomainConfig, phase domain.Phase) DomainBatch {
	t.Helper()
	l, ok := d.Loader(phase)
	require.True(t, ok)
	l.Reset()
	b, err := nextBatch(l, d)
	require.NoError(t, err)
	require.NotNil(t, b)
	return *b
}

func copyParams(m layers.Parametrized) [][]float64 {
	var out [][]float64
	for _, p := range m.Parameters() {
		out = append(out, append([]float64(nil), p.Data...))
	}
	return out
}

func setAllParams(m layers.Parametrized, v float64) {
	for _, p := range m.Parameters() {
		for i := range p.Data {
			p.Data[i] = v
		}
	}
}

func mustTensor(t *testing.T, shape []int, values []float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.NewTensor(shape, values)
	require.NoError(t, err)
	return x
}
