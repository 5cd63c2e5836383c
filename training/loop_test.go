package training

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/checkpoints"
	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
	"github.com/tsawler/go-latent/tensor"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testLoopConfig(t *testing.T) LoopConfig {
	cfg := DefaultLoopConfig()
	cfg.OutputDir = t.TempDir()
	cfg.NumEpochs = 10
	cfg.SaveFreq = 0
	return cfg
}

// scriptedEpochs replaces the epoch runner: every train phase stamps the
// model's parameters with the epoch index and every val phase reports the
// next scripted loss.
func scriptedEpochs(l *loop, model layers.Parametrized, valLosses []float64) *int {
	epoch := new(int)
	l.runEpoch = func(ctx context.Context, opts StepOptions) (Statistics, error) {
		switch opts.Phase {
		case domain.PhaseTrain:
			setAllParams(model, float64(*epoch))
			return Statistics{MetricTotalLoss: 1}, nil
		case domain.PhaseVal:
			v := valLosses[*epoch]
			*epoch++
			return Statistics{MetricTotalLoss: v}, nil
		default:
			return Statistics{MetricTotalLoss: -1}, nil
		}
	}
	return epoch
}

func TestEarlyStoppingRestoresBest(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})
	cfg := testLoopConfig(t)
	cfg.EarlyStopping = 2

	tr, err := NewSingleDomainTrainer(cfg, d, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	scriptedEpochs(tr.loop, d.ModelConfig.Model, []float64{5, 4, 4, 4, 4, 4, 4, 4, 4, 4})

	res, err := tr.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.EpochsRun)
	assert.True(t, res.StoppedEarly)
	assert.Equal(t, 1, res.BestEpoch)
	assert.Equal(t, 4.0, res.BestValLoss)
	assert.Equal(t, []float64{5, 4, 4, 4}, res.LossHistory[domain.PhaseVal])
	assert.Len(t, res.LossHistory[domain.PhaseTrain], 4)
	assert.Nil(t, res.TestStatistics)

	for _, p := range d.ModelConfig.Model.Parameters() {
		for _, v := range p.Data {
			require.Equal(t, 1.0, v)
		}
	}

	sd, err := checkpoints.Load(filepath.Join(cfg.OutputDir, "best_vae.pth"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sd.Weights[0].Data[0])
}

func TestEarlyStoppingDisabled(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})
	cfg := testLoopConfig(t)
	cfg.NumEpochs = 5
	cfg.EarlyStopping = 0

	tr, err := NewSingleDomainTrainer(cfg, d, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	scriptedEpochs(tr.loop, d.ModelConfig.Model, []float64{5, 6, 7, 8, 9})

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.EpochsRun)
	assert.False(t, res.StoppedEarly)
	assert.Equal(t, 0, res.BestEpoch)
}

func TestNonFiniteValidationLoss(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})
	tr, err := NewSingleDomainTrainer(testLoopConfig(t), d, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	scriptedEpochs(tr.loop, d.ModelConfig.Model, []float64{3, math.NaN()})

	res, err := tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrNumericDegeneracy)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.EpochsRun)
	for _, p := range d.ModelConfig.Model.Parameters() {
		assert.Equal(t, 0.0, p.Data[0])
	}
}

type recordedEpoch struct {
	phase domain.Phase
	epoch int
}

type memoryRecorder struct {
	epochs []recordedEpoch
	fail   bool
}

func (m *memoryRecorder) RecordEpoch(phase domain.Phase, epoch int, stats Statistics) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.epochs = append(m.epochs, recordedEpoch{phase, epoch})
	return nil
}

func TestPeriodicSnapshotsAndVisualizer(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})
	cfg := testLoopConfig(t)
	cfg.NumEpochs = 3
	cfg.SaveFreq = 2

	var visualized []int
	vis := VisualizerFunc(func(ctx context.Context, domains []*domain.DomainConfig, epoch int, outputDir string, device tensor.DeviceType) error {
		visualized = append(visualized, epoch)
		assert.Len(t, domains, 1)
		assert.Equal(t, cfg.OutputDir, outputDir)
		return errors.New("no display")
	})
	rec := &memoryRecorder{}

	tr, err := NewSingleDomainTrainer(cfg, d, nil, WithLogger(quietLogger()), WithVisualizer(vis), WithRecorder(rec))
	require.NoError(t, err)
	scriptedEpochs(tr.loop, d.ModelConfig.Model, []float64{3, 2, 1})

	_, err = tr.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, visualized)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "epoch_1", "vae.pth"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "epoch_3", "vae.pth"))
	assert.NoDirExists(t, filepath.Join(cfg.OutputDir, "epoch_2"))

	// The periodic snapshot holds the live weights of that epoch.
	sd, err := checkpoints.Load(filepath.Join(cfg.OutputDir, "epoch_3", "vae.pth"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, sd.Weights[0].Data[0])

	require.Len(t, rec.epochs, 6)
	assert.Equal(t, recordedEpoch{domain.PhaseTrain, 0}, rec.epochs[0])
	assert.Equal(t, recordedEpoch{domain.PhaseVal, 0}, rec.epochs[1])

	rec.fail = true
	_, err = tr.Run(context.Background())
	assert.Error(t, err)
}

func TestSingleDomainTestPhase(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1, phases: []domain.Phase{domain.PhaseTrain, domain.PhaseVal, domain.PhaseTest}})
	clf := newTestCLF(t)
	cfg := testLoopConfig(t)
	cfg.NumEpochs = 2
	cfg.SaveFreq = 1
	cfg.UseCLF = true

	tr, err := NewSingleDomainTrainer(cfg, d, clf, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, []string{"vae", "clf"}, tr.Snapshots().Names())

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.TestStatistics)
	assert.Contains(t, res.TestStatistics, MetricAccuracy)

	for _, f := range []string{"best_vae.pth", "best_clf.pth", "epoch_1/vae.pth", "epoch_1/latent_clf.pth", "epoch_2/vae.pth"} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, f))
	}
}

func TestTwoDomainEndToEnd(t *testing.T) {
	layers.SetRandomSeed(7)
	all := []domain.Phase{domain.PhaseTrain, domain.PhaseVal, domain.PhaseTest}
	di := newTestDomain(t, domainOpts{name: "rna", samples: 8, seed: 11, lr: 5e-2, phases: all})
	dj := newTestDomain(t, domainOpts{name: "atac", samples: 8, seed: 12, offset: 1, lr: 5e-2, phases: all})
	dcm := newTestDCM(t)

	cfg := testLoopConfig(t)
	cfg.NumEpochs = 3
	cfg.SaveFreq = 1
	cfg.Alpha = 1
	cfg.UseDCM = true
	cfg.UseCLF = false

	collector := NewVisualizationCollector("e2e")
	tr, err := NewTwoDomainTrainer(cfg, []*domain.DomainConfig{di, dj}, dcm, nil,
		WithLogger(quietLogger()), WithRecorder(collector))
	require.NoError(t, err)
	assert.Equal(t, []string{"vae_rna", "vae_atac", "dcm"}, tr.Snapshots().Names())

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.EpochsRun)

	train := res.LossHistory[domain.PhaseTrain]
	require.Len(t, train, 3)
	// The first epoch has no predecessor; at least one of the two later
	// epochs must not increase the total loss.
	nonIncreasing := 1
	for e := 1; e < len(train); e++ {
		if train[e] <= train[e-1] {
			nonIncreasing++
		}
	}
	assert.GreaterOrEqual(t, nonIncreasing, 2, "train losses %v", train)

	// Under the fixed seeds the reconstruction of the validation set, which
	// is deterministic in eval mode, improves on every epoch transition.
	recon := collector.GenerateLossCurvesPlot(MetricReconLossI).Series
	var valRecon []DataPoint
	for _, sd := range recon {
		if sd.Name == "val "+MetricReconLossI {
			valRecon = sd.Data
		}
	}
	require.Len(t, valRecon, 3)
	for e := 1; e < len(valRecon); e++ {
		assert.LessOrEqual(t, valRecon[e].Y.(float64), valRecon[e-1].Y.(float64), "val reconstruction %v", valRecon)
	}

	for _, f := range []string{
		"best_vae_rna.pth", "best_vae_atac.pth", "best_dcm.pth",
		"epoch_1/vae_rna.pth", "epoch_1/vae_atac.pth", "epoch_1/dcm.pth", "epoch_3/dcm.pth",
	} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, f))
	}
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "best_clf.pth"))

	require.NotNil(t, res.TestStatistics)
	assert.Contains(t, res.TestStatistics, MetricAccuracyI)

	// Live weights equal the best snapshot after the run.
	best, ok := tr.Snapshots().Get("vae_rna")
	require.True(t, ok)
	assert.Equal(t, best.Weights[0].Data, di.ModelConfig.Model.Parameters()[0].Data)

	curves := collector.GenerateLossCurvesPlot(MetricTotalLoss)
	assert.Len(t, curves.Series, 3)
}

func TestTrainerConstructionErrors(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2})
	dcm := newTestDCM(t)
	cfg := testLoopConfig(t)

	_, err := NewTwoDomainTrainer(cfg, []*domain.DomainConfig{di}, dcm, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	_, err = NewTwoDomainTrainer(cfg, []*domain.DomainConfig{di, dj}, nil, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	withCLF := cfg
	withCLF.UseCLF = true
	_, err = NewTwoDomainTrainer(withCLF, []*domain.DomainConfig{di, dj}, dcm, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	_, err = NewSingleDomainTrainer(withCLF, di, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	twin := newTestDomain(t, domainOpts{name: "i", seed: 2})
	_, err = NewTwoDomainTrainer(cfg, []*domain.DomainConfig{di, twin}, dcm, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	noVal := newTestDomain(t, domainOpts{name: "k", seed: 3})
	delete(noVal.Loaders, domain.PhaseVal)
	_, err = NewSingleDomainTrainer(cfg, noVal, nil)
	assert.ErrorIs(t, err, ErrContractViolation)

	badDevice := cfg
	badDevice.Device = "tpu"
	tr, err := NewSingleDomainTrainer(badDevice, di, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	noEpochs := cfg
	noEpochs.NumEpochs = 0
	tr, err = NewSingleDomainTrainer(noEpochs, di, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = tr.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestAcceleratorFallsBackToCPU(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1})
	cfg := testLoopConfig(t)
	cfg.NumEpochs = 1
	cfg.Device = "cuda:0"

	tr, err := NewSingleDomainTrainer(cfg, d, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	var devices []tensor.DeviceType
	tr.loop.runEpoch = func(ctx context.Context, opts StepOptions) (Statistics, error) {
		devices = append(devices, opts.Device)
		return Statistics{MetricTotalLoss: 1}, nil
	}
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tensor.DeviceType{tensor.CPU, tensor.CPU}, devices)
}

func TestSchedulerAppliedPerEpoch(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1, lr: 0.1})
	cfg := testLoopConfig(t)
	cfg.NumEpochs = 3
	cfg.Scheduler = SchedulerConfig{Type: "step", StepSize: 1, Gamma: 0.5}

	tr, err := NewSingleDomainTrainer(cfg, d, nil, WithLogger(quietLogger()))
	require.NoError(t, err)
	var lrs []float64
	tr.loop.runEpoch = func(ctx context.Context, opts StepOptions) (Statistics, error) {
		if opts.Phase == domain.PhaseTrain {
			lrs = append(lrs, d.ModelConfig.Optimizer.GetLR())
		}
		return Statistics{MetricTotalLoss: 1}, nil
	}
	_, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, lrs, 3)
	assert.InDelta(t, 0.1, lrs[0], 1e-12)
	assert.InDelta(t, 0.05, lrs[1], 1e-12)
	assert.InDelta(t, 0.025, lrs[2], 1e-12)
}

func latentDCM(t *testing.T, mc models.Config) *domain.LatentModelConfig {
	t.Helper()
	mc.Type = "LatentDiscriminator"
	mc.LatentDim = 2
	dcm, err := domain.NewLatentModelConfig(domain.LatentSpec{
		Model:     mc,
		Optimizer: optimizer.Config{Type: "rmsprop", LearningRate: 1e-3},
	})
	require.NoError(t, err)
	return dcm
}

func TestTwoDomainTrainerChecksDiscriminator(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2})

	tests := []struct {
		name    string
		useDCM  bool
		model   models.Config
		wantErr bool
	}{
		{name: "conditional with labels", useDCM: true, model: models.Config{}},
		{name: "unconditional without labels", useDCM: false, model: models.Config{Unconditional: true}},
		{name: "three classes", useDCM: true, model: models.Config{NClasses: 3}, wantErr: true},
		{name: "conditional without labels", useDCM: false, model: models.Config{}, wantErr: true},
		{name: "unconditional with labels", useDCM: true, model: models.Config{Unconditional: true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testLoopConfig(t)
			cfg.UseDCM = tt.useDCM
			_, err := NewTwoDomainTrainer(cfg, []*domain.DomainConfig{di, dj}, latentDCM(t, tt.model), nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrContractViolation)
				return
			}
			assert.NoError(t, err)
		})
	}
}
