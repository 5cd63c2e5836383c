package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
)

func valOptions() StepOptions {
	opts := DefaultStepOptions()
	opts.Phase = domain.PhaseVal
	return opts
}

func TestAutoencoderStepEvalIsDeterministic(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1, hidden: []int{4}})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2, offset: 3, hidden: []int{4}})
	dcm := newTestDCM(t)
	clf := newTestCLF(t)

	opts := valOptions()
	opts.UseCLF = true
	bi, bj := firstBatch(t, di, domain.PhaseVal), firstBatch(t, dj, domain.PhaseVal)
	before := copyParams(di.ModelConfig.Model)

	first, err := TrainAutoencodersTwoDomains(bi, bj, dcm, clf, opts)
	require.NoError(t, err)
	second, err := TrainAutoencodersTwoDomains(bi, bj, dcm, clf, opts)
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.Equal(t, before, copyParams(di.ModelConfig.Model))
	assert.False(t, di.ModelConfig.Model.IsTraining())
	assert.False(t, dcm.Model.IsTraining())
	assert.Greater(t, first.CLFLoss, 0.0)

	d1, err := TrainLatentDiscriminatorTwoDomains(bi, bj, dcm, opts)
	require.NoError(t, err)
	d2, err := TrainLatentDiscriminatorTwoDomains(bi, bj, dcm, opts)
	require.NoError(t, err)
	assert.Equal(t, *d1, *d2)
	assert.Equal(t, 4, d1.AccuracyI.Total)
	assert.Equal(t, 4, d1.AccuracyJ.Total)
}

func TestAutoencoderStepRespectsTrainableFlag(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1, hidden: []int{4}})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2, offset: 3, hidden: []int{4}, frozen: true})
	dcm := newTestDCM(t)

	beforeI := copyParams(di.ModelConfig.Model)
	beforeJ := copyParams(dj.ModelConfig.Model)
	beforeDCM := copyParams(dcm.Model)

	_, err := TrainAutoencodersTwoDomains(
		firstBatch(t, di, domain.PhaseTrain), firstBatch(t, dj, domain.PhaseTrain),
		dcm, nil, DefaultStepOptions())
	require.NoError(t, err)

	assert.NotEqual(t, beforeI, copyParams(di.ModelConfig.Model))
	assert.Equal(t, beforeJ, copyParams(dj.ModelConfig.Model))
	assert.Equal(t, beforeDCM, copyParams(dcm.Model))
	assert.True(t, di.ModelConfig.Model.IsTraining())
	assert.False(t, dj.ModelConfig.Model.IsTraining())
	assert.Equal(t, uint64(0), dcm.Optimizer.GetStepCount())
}

func TestDiscriminatorStepOnlyUpdatesDiscriminator(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2, offset: 3})
	dcm := newTestDCM(t)

	beforeI := copyParams(di.ModelConfig.Model)
	beforeDCM := copyParams(dcm.Model)

	stats, err := TrainLatentDiscriminatorTwoDomains(
		firstBatch(t, di, domain.PhaseTrain), firstBatch(t, dj, domain.PhaseTrain),
		dcm, DefaultStepOptions())
	require.NoError(t, err)

	assert.Equal(t, beforeI, copyParams(di.ModelConfig.Model))
	assert.NotEqual(t, beforeDCM, copyParams(dcm.Model))
	assert.Equal(t, uint64(1), dcm.Optimizer.GetStepCount())
	assert.Greater(t, stats.DCMLoss, 0.0)
	for _, p := range di.ModelConfig.Model.Parameters() {
		assert.Nil(t, p.Grad())
	}
}

// The autoencoder step scores domain i against class 1; the discriminator
// step scores it against class 0. A discriminator biased hard towards class
// 0 is therefore cheap to fool for domain j only in the autoencoder step.
func TestStepsUseOppositeDomainTargets(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2})
	dcm := newTestDCM(t)

	setAllParams(dcm.Model, 0)
	named := dcm.Model.NamedParameters()
	last := named[len(named)-1]
	require.Equal(t, []int{2}, last.Tensor.Shape, "expected output bias last, got %s", last.Name)
	last.Tensor.Data[0] = 10

	opts := valOptions()
	bi, bj := firstBatch(t, di, domain.PhaseVal), firstBatch(t, dj, domain.PhaseVal)
	disc, err := TrainLatentDiscriminatorTwoDomains(bi, bj, dcm, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, disc.AccuracyI.Correct)
	assert.Equal(t, 0, disc.AccuracyJ.Correct)

	ae, err := TrainAutoencodersTwoDomains(bi, bj, dcm, nil, opts)
	require.NoError(t, err)
	// Both steps see the same logits and the same pair of targets {0, 1}, so
	// their symmetric losses agree even though the targets are swapped.
	assert.InDelta(t, disc.DCMLoss, ae.DCMLoss, 1e-9)
}

func TestAutoencoderStepTotal(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2, offset: 1})
	dcm := newTestDCM(t)

	opts := valOptions()
	opts.Alpha = 0.5
	opts.Lambda = 0.25
	bi, bj := firstBatch(t, di, domain.PhaseVal), firstBatch(t, dj, domain.PhaseVal)
	stats, err := TrainAutoencodersTwoDomains(bi, bj, dcm, nil, opts)
	require.NoError(t, err)

	recon := (stats.ReconLossI + stats.ReconLossJ) / 4
	want := opts.Alpha*recon + stats.KLLoss/8 + stats.DCMLoss/8
	assert.InDelta(t, want, stats.Total, 1e-9)
	assert.Zero(t, stats.CLFLoss)
}

func TestSingleDomainStep(t *testing.T) {
	d := newTestDomain(t, domainOpts{name: "rna", seed: 1, hidden: []int{4}})
	clf := newTestCLF(t)

	opts := DefaultStepOptions()
	opts.UseCLF = true
	b := firstBatch(t, d, domain.PhaseTrain)
	beforeCLF := copyParams(clf.Model)

	stats, err := TrainAutoencoder(b, clf, opts)
	require.NoError(t, err)
	assert.InDelta(t, stats.ReconLoss+stats.KLLoss+stats.CLFLoss, stats.Total, 1e-12)
	assert.Equal(t, 4, stats.Accuracy.Total)
	require.NotNil(t, stats.Logits)
	assert.Equal(t, []int{4, 2}, stats.Logits.Shape)
	assert.NotEqual(t, beforeCLF, copyParams(clf.Model))
	assert.Equal(t, uint64(1), d.ModelConfig.Optimizer.GetStepCount())

	opts.UseCLF = false
	plain, err := TrainAutoencoder(b, nil, opts)
	require.NoError(t, err)
	assert.Nil(t, plain.Logits)
	assert.Zero(t, plain.CLFLoss)
}

func TestMixtureKLTerm(t *testing.T) {
	gm, err := models.NewAutoencoder(models.Config{Type: "GMVAE", InputDim: 2, HiddenDims: []int{4}, LatentDim: 2, NComponents: 2})
	require.NoError(t, err)
	opt, err := optimizer.New(optimizer.Config{Type: "adam"}, gm.Parameters())
	require.NoError(t, err)
	mc := domain.NewDomainModelConfig(gm, opt, loss.NewMSELoss(loss.ReductionMean), true)

	x := mustTensor(t, []int{3, 2}, []float64{0, 1, 1, 0, 0.5, 0.5})
	labels := mustTensor(t, []int{3}, []float64{0, 1, 0})
	gm.Eval()
	out, err := gm.Forward(x)
	require.NoError(t, err)
	require.NotNil(t, out.Mixture)

	uniform, err := klTerm(out, DomainBatch{Config: mc, Inputs: x, Labels: labels})
	require.NoError(t, err)

	mc.SuperviseComponents = true
	supervised, err := klTerm(out, DomainBatch{Config: mc, Inputs: x, Labels: labels})
	require.NoError(t, err)
	assert.NotEqual(t, uniform.Data[0], supervised.Data[0])

	_, err = klTerm(out, DomainBatch{Config: mc, Inputs: x})
	assert.ErrorIs(t, err, ErrContractViolation)

	stats, err := TrainAutoencoder(DomainBatch{Config: mc, Inputs: x, Labels: labels}, nil, DefaultStepOptions())
	require.NoError(t, err)
	assert.Greater(t, stats.ReconLoss, 0.0)
}

func TestStepContractViolations(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2})
	dcm := newTestDCM(t)
	bi, bj := firstBatch(t, di, domain.PhaseTrain), firstBatch(t, dj, domain.PhaseTrain)

	withCLF := DefaultStepOptions()
	withCLF.UseCLF = true

	noOptimizer := newTestCLF(t)
	noOptimizer.Optimizer = nil

	tests := []struct {
		name string
		run  func() error
	}{
		{"missing discriminator", func() error {
			_, err := TrainAutoencodersTwoDomains(bi, bj, nil, nil, DefaultStepOptions())
			return err
		}},
		{"classifier requested but absent", func() error {
			_, err := TrainAutoencodersTwoDomains(bi, bj, dcm, nil, withCLF)
			return err
		}},
		{"classifier without optimizer", func() error {
			_, err := TrainAutoencodersTwoDomains(bi, bj, dcm, noOptimizer, withCLF)
			return err
		}},
		{"discriminator without optimizer in train", func() error {
			_, err := TrainLatentDiscriminatorTwoDomains(bi, bj, &domain.LatentModelConfig{Model: dcm.Model, Loss: dcm.Loss}, DefaultStepOptions())
			return err
		}},
		{"single domain classifier absent", func() error {
			_, err := TrainAutoencoder(bi, nil, withCLF)
			return err
		}},
		{"labels missing", func() error {
			_, err := TrainAutoencodersTwoDomains(DomainBatch{Config: bi.Config, Inputs: bi.Inputs}, bj, dcm, nil, DefaultStepOptions())
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), ErrContractViolation)
		})
	}

	// Nothing was stepped by the failed calls.
	assert.Equal(t, uint64(0), di.ModelConfig.Optimizer.GetStepCount())
}

func TestDiscriminatorEvalNeedsNoOptimizer(t *testing.T) {
	di := newTestDomain(t, domainOpts{name: "i", seed: 1})
	dj := newTestDomain(t, domainOpts{name: "j", seed: 2})
	dcm := newTestDCM(t)
	frozen := &domain.LatentModelConfig{Model: dcm.Model, Loss: dcm.Loss}

	_, err := TrainLatentDiscriminatorTwoDomains(firstBatch(t, di, domain.PhaseVal), firstBatch(t, dj, domain.PhaseVal), frozen, valOptions())
	assert.NoError(t, err)
	layers.ZeroGrad(dcm.Model)
}
