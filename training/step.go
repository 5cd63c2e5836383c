package training

import (
	"fmt"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/tensor"
)

// StepOptions carries the loss weights and mode flags of one batch step.
type StepOptions struct {
	// Alpha weighs the reconstruction losses of a two-domain step.
	Alpha float64
	// Beta weighs the latent classifier loss.
	Beta float64
	// Lambda weighs the KL regularizer.
	Lambda float64
	// UseDCM appends the sample labels to the latent codes the discriminator
	// sees.
	UseDCM bool
	// UseCLF trains and scores the latent classifier.
	UseCLF bool
	Phase  domain.Phase
	Device tensor.DeviceType
}

// DefaultStepOptions returns the default weights for a training step.
func DefaultStepOptions() StepOptions {
	return StepOptions{
		Alpha:  0.1,
		Beta:   1.0,
		Lambda: 1e-8,
		UseDCM: true,
		Phase:  domain.PhaseTrain,
		Device: tensor.CPU,
	}
}

// DomainBatch is one domain's current batch, passed to a step together with
// the domain's model config.
type DomainBatch struct {
	Config *domain.DomainModelConfig
	Inputs *tensor.Tensor
	Labels *tensor.Tensor
}

// AutoencoderStepStats are the statistics of one two-domain autoencoder
// step. Losses are scaled by the number of samples they average over so that
// epoch sums can be normalized; Total is the batch mean.
type AutoencoderStepStats struct {
	ReconLossI float64
	ReconLossJ float64
	DCMLoss    float64
	KLLoss     float64
	CLFLoss    float64
	Total      float64
}

// DiscriminatorStepStats are the statistics of one discriminator step.
type DiscriminatorStepStats struct {
	DCMLoss   float64
	AccuracyI Accuracy
	AccuracyJ Accuracy
}

// SingleStepStats are the statistics of one single-domain autoencoder step.
// All losses, the total included, are scaled by the batch size.
type SingleStepStats struct {
	ReconLoss float64
	KLLoss    float64
	CLFLoss   float64
	Total     float64
	Accuracy  Accuracy
	// Logits are the detached classifier outputs, nil without UseCLF.
	Logits *tensor.Tensor
}

// TrainAutoencodersTwoDomains runs both autoencoders on their batches and
// scores their latent codes with the discriminator against swapped domain
// targets (i as 1, j as 0). In the train phase it back-propagates the total
// loss once and steps the optimizers of trainable domains and, with UseCLF,
// the classifier. The discriminator is never updated here.
func TrainAutoencodersTwoDomains(i, j DomainBatch, dcm, clf *domain.LatentModelConfig, opts StepOptions) (*AutoencoderStepStats, error) {
	if err := checkLatent(dcm, "discriminator", false); err != nil {
		return nil, err
	}
	if opts.UseCLF {
		if err := checkLatent(clf, "classifier", true); err != nil {
			return nil, err
		}
	}
	if err := checkBatch(i, opts.UseDCM || opts.UseCLF); err != nil {
		return nil, fmt.Errorf("domain i: %w", err)
	}
	if err := checkBatch(j, opts.UseDCM || opts.UseCLF); err != nil {
		return nil, fmt.Errorf("domain j: %w", err)
	}

	train := opts.Phase == domain.PhaseTrain
	prepareAutoencoder(i.Config, train, opts.Device)
	prepareAutoencoder(j.Config, train, opts.Device)

	dcm.Model.Eval()
	layers.ToDevice(dcm.Model, opts.Device)

	if opts.UseCLF {
		setMode(clf.Model, train)
		layers.ToDevice(clf.Model, opts.Device)
		layers.ZeroGrad(clf.Model)
	}

	outI, err := i.Config.Model.Forward(i.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain i forward: %w", err)
	}
	outJ, err := j.Config.Model.Forward(j.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain j forward: %w", err)
	}

	dcmOutI, err := discriminate(dcm, outI.Latents, i.Labels, opts.UseDCM)
	if err != nil {
		return nil, fmt.Errorf("domain i discriminator: %w", err)
	}
	dcmOutJ, err := discriminate(dcm, outJ.Latents, j.Labels, opts.UseDCM)
	if err != nil {
		return nil, fmt.Errorf("domain j discriminator: %w", err)
	}

	reconI, err := i.Config.ReconLoss.Forward(outI.Recons, i.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain i reconstruction loss: %w", err)
	}
	reconJ, err := j.Config.ReconLoss.Forward(outJ.Recons, j.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain j reconstruction loss: %w", err)
	}

	klI, err := klTerm(outI, i)
	if err != nil {
		return nil, fmt.Errorf("domain i kl: %w", err)
	}
	klJ, err := klTerm(outJ, j)
	if err != nil {
		return nil, fmt.Errorf("domain j kl: %w", err)
	}
	kl, err := tensor.Add(klI, klJ)
	if err != nil {
		return nil, err
	}
	kl = tensor.Scale(kl, opts.Lambda)

	// Swapped targets: the autoencoders are rewarded for fooling the
	// discriminator.
	advI, err := dcm.Loss.Forward(dcmOutI, domainTargets(dcmOutI.Rows(), 1))
	if err != nil {
		return nil, fmt.Errorf("adversarial loss: %w", err)
	}
	advJ, err := dcm.Loss.Forward(dcmOutJ, domainTargets(dcmOutJ.Rows(), 0))
	if err != nil {
		return nil, fmt.Errorf("adversarial loss: %w", err)
	}
	adv, err := halfSum(advI, advJ)
	if err != nil {
		return nil, err
	}

	recon, err := tensor.Add(reconI, reconJ)
	if err != nil {
		return nil, err
	}
	total, err := sumAll(tensor.Scale(recon, opts.Alpha), kl, adv)
	if err != nil {
		return nil, err
	}

	var clfLoss *tensor.Tensor
	if opts.UseCLF {
		clfLoss, err = classifierLoss(clf, []*tensor.Tensor{outI.Latents, outJ.Latents}, []*tensor.Tensor{i.Labels, j.Labels})
		if err != nil {
			return nil, err
		}
		clfLoss = tensor.Scale(clfLoss, opts.Beta)
		if total, err = tensor.Add(total, clfLoss); err != nil {
			return nil, err
		}
	}

	if train {
		if err := backward(total); err != nil {
			return nil, err
		}
		if i.Config.Trainable {
			if err := i.Config.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("domain i optimizer: %w", err)
			}
		}
		if j.Config.Trainable {
			if err := j.Config.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("domain j optimizer: %w", err)
			}
		}
		if opts.UseCLF {
			if err := clf.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("classifier optimizer: %w", err)
			}
		}
	}

	nI, nJ := float64(i.Inputs.Rows()), float64(j.Inputs.Rows())
	latents := float64(outI.Mu.Rows() + outJ.Mu.Rows())
	stats := &AutoencoderStepStats{
		ReconLossI: item(reconI) * nI,
		ReconLossJ: item(reconJ) * nJ,
		DCMLoss:    item(adv) * (nI + nJ),
		KLLoss:     item(kl) * latents,
		Total:      item(total),
	}
	if clfLoss != nil {
		stats.CLFLoss = item(clfLoss) * (nI + nJ)
	}
	return stats, nil
}

// TrainLatentDiscriminatorTwoDomains encodes both batches with the
// autoencoders in evaluation mode and trains the discriminator on the true
// domain targets (i as 0, j as 1). Only the discriminator's optimizer steps,
// and only in the train phase. It must follow TrainAutoencodersTwoDomains on
// the same batches.
func TrainLatentDiscriminatorTwoDomains(i, j DomainBatch, dcm *domain.LatentModelConfig, opts StepOptions) (*DiscriminatorStepStats, error) {
	train := opts.Phase == domain.PhaseTrain
	if err := checkLatent(dcm, "discriminator", train); err != nil {
		return nil, err
	}
	if err := checkBatch(i, opts.UseDCM); err != nil {
		return nil, fmt.Errorf("domain i: %w", err)
	}
	if err := checkBatch(j, opts.UseDCM); err != nil {
		return nil, fmt.Errorf("domain j: %w", err)
	}

	for _, c := range []*domain.DomainModelConfig{i.Config, j.Config} {
		c.Model.Eval()
		layers.ToDevice(c.Model, opts.Device)
	}
	setMode(dcm.Model, train)
	layers.ToDevice(dcm.Model, opts.Device)
	if train {
		layers.ZeroGrad(dcm.Model)
	}

	outI, err := i.Config.Model.Forward(i.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain i forward: %w", err)
	}
	outJ, err := j.Config.Model.Forward(j.Inputs)
	if err != nil {
		return nil, fmt.Errorf("domain j forward: %w", err)
	}

	// The autoencoders are frozen for this step.
	dcmOutI, err := discriminate(dcm, outI.Latents.Detach(), i.Labels, opts.UseDCM)
	if err != nil {
		return nil, fmt.Errorf("domain i discriminator: %w", err)
	}
	dcmOutJ, err := discriminate(dcm, outJ.Latents.Detach(), j.Labels, opts.UseDCM)
	if err != nil {
		return nil, fmt.Errorf("domain j discriminator: %w", err)
	}

	targetsI := domainTargets(dcmOutI.Rows(), 0)
	targetsJ := domainTargets(dcmOutJ.Rows(), 1)
	lossI, err := dcm.Loss.Forward(dcmOutI, targetsI)
	if err != nil {
		return nil, fmt.Errorf("discriminator loss: %w", err)
	}
	lossJ, err := dcm.Loss.Forward(dcmOutJ, targetsJ)
	if err != nil {
		return nil, fmt.Errorf("discriminator loss: %w", err)
	}
	dcmLoss, err := halfSum(lossI, lossJ)
	if err != nil {
		return nil, err
	}

	if train {
		if err := backward(dcmLoss); err != nil {
			return nil, err
		}
		if err := dcm.Optimizer.Step(); err != nil {
			return nil, fmt.Errorf("discriminator optimizer: %w", err)
		}
	}

	nI, nJ := float64(i.Inputs.Rows()), float64(j.Inputs.Rows())
	return &DiscriminatorStepStats{
		DCMLoss:   item(dcmLoss) * (nI + nJ),
		AccuracyI: ComputeAccuracy(dcmOutI, targetsI.Labels()),
		AccuracyJ: ComputeAccuracy(dcmOutJ, targetsJ.Labels()),
	}, nil
}

// TrainAutoencoder is the single-domain step: reconstruction plus the
// lambda-weighted KL term, plus the beta-weighted classifier loss with
// UseCLF. There is no adversarial term.
func TrainAutoencoder(b DomainBatch, clf *domain.LatentModelConfig, opts StepOptions) (*SingleStepStats, error) {
	if opts.UseCLF {
		if err := checkLatent(clf, "classifier", true); err != nil {
			return nil, err
		}
	}
	if err := checkBatch(b, opts.UseCLF); err != nil {
		return nil, err
	}

	train := opts.Phase == domain.PhaseTrain
	prepareAutoencoder(b.Config, train, opts.Device)
	if opts.UseCLF {
		setMode(clf.Model, train)
		layers.ToDevice(clf.Model, opts.Device)
		layers.ZeroGrad(clf.Model)
	}

	out, err := b.Config.Model.Forward(b.Inputs)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	recon, err := b.Config.ReconLoss.Forward(out.Recons, b.Inputs)
	if err != nil {
		return nil, fmt.Errorf("reconstruction loss: %w", err)
	}
	kl, err := klTerm(out, b)
	if err != nil {
		return nil, fmt.Errorf("kl: %w", err)
	}
	kl = tensor.Scale(kl, opts.Lambda)
	total, err := tensor.Add(recon, kl)
	if err != nil {
		return nil, err
	}

	var clfLoss, clfOut *tensor.Tensor
	if opts.UseCLF {
		if clfOut, err = clf.Model.Forward(out.Latents); err != nil {
			return nil, fmt.Errorf("classifier forward: %w", err)
		}
		if clfLoss, err = clf.Loss.Forward(clfOut, b.Labels); err != nil {
			return nil, fmt.Errorf("classifier loss: %w", err)
		}
		clfLoss = tensor.Scale(clfLoss, opts.Beta)
		if total, err = tensor.Add(total, clfLoss); err != nil {
			return nil, err
		}
	}

	if train {
		if err := backward(total); err != nil {
			return nil, err
		}
		if b.Config.Trainable {
			if err := b.Config.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("optimizer: %w", err)
			}
		}
		if opts.UseCLF {
			if err := clf.Optimizer.Step(); err != nil {
				return nil, fmt.Errorf("classifier optimizer: %w", err)
			}
		}
	}

	n := float64(b.Inputs.Rows())
	stats := &SingleStepStats{
		ReconLoss: item(recon) * n,
		KLLoss:    item(kl) * float64(out.Mu.Rows()),
	}
	stats.Total = stats.ReconLoss + stats.KLLoss
	if clfLoss != nil {
		stats.CLFLoss = item(clfLoss) * n
		stats.Total += stats.CLFLoss
		stats.Accuracy = ComputeAccuracy(clfOut, b.Labels.Labels())
		stats.Logits = clfOut.Detach()
	}
	return stats, nil
}

// klTerm is the KL regularizer of one forward pass. Mixture models are
// measured against the prior of each sample's component, plus a component
// term: cross-entropy against the labels when the domain supervises
// components, otherwise the KL of the component posterior to uniform.
func klTerm(out *models.Output, b DomainBatch) (*tensor.Tensor, error) {
	if out.Mixture == nil {
		return loss.KLGaussian(out.Mu, out.LogVar)
	}
	m := out.Mixture
	kl, err := loss.KLGaussians(out.Mu, out.LogVar, m.MuPrior, m.LogVarPrior)
	if err != nil {
		return nil, err
	}
	var component *tensor.Tensor
	if b.Config.SuperviseComponents {
		if b.Labels == nil {
			return nil, fmt.Errorf("%w: component supervision needs labels", ErrContractViolation)
		}
		component, err = loss.NewCrossEntropyLoss(nil).Forward(m.Logits, b.Labels)
	} else {
		component, err = loss.KLCategoricalUniform(m.Probs)
	}
	if err != nil {
		return nil, err
	}
	return tensor.Add(kl, component)
}

// discriminate scores latent codes, with the labels as an extra column when
// withLabels is set.
func discriminate(dcm *domain.LatentModelConfig, latents, labels *tensor.Tensor, withLabels bool) (*tensor.Tensor, error) {
	input := latents
	if withLabels {
		var err error
		if input, err = tensor.ConcatColumns(latents, labels); err != nil {
			return nil, err
		}
	}
	return dcm.Model.Forward(input)
}

func classifierLoss(clf *domain.LatentModelConfig, latents, labels []*tensor.Tensor) (*tensor.Tensor, error) {
	losses := make([]*tensor.Tensor, len(latents))
	for k := range latents {
		out, err := clf.Model.Forward(latents[k])
		if err != nil {
			return nil, fmt.Errorf("classifier forward: %w", err)
		}
		if losses[k], err = clf.Loss.Forward(out, labels[k]); err != nil {
			return nil, fmt.Errorf("classifier loss: %w", err)
		}
	}
	return halfSum(losses[0], losses[1])
}

func prepareAutoencoder(c *domain.DomainModelConfig, train bool, device tensor.DeviceType) {
	setMode(c.Model, train && c.Trainable)
	layers.ToDevice(c.Model, device)
	layers.ZeroGrad(c.Model)
}

func setMode(m layers.Parametrized, train bool) {
	if train {
		m.Train()
	} else {
		m.Eval()
	}
}

func checkLatent(c *domain.LatentModelConfig, role string, needOptimizer bool) error {
	if c == nil || c.Model == nil || c.Loss == nil {
		return fmt.Errorf("%w: %s model and loss are required", ErrContractViolation, role)
	}
	if needOptimizer && c.Optimizer == nil {
		return fmt.Errorf("%w: %s optimizer is required", ErrContractViolation, role)
	}
	return nil
}

func checkBatch(b DomainBatch, needLabels bool) error {
	if b.Config == nil || b.Config.Model == nil || b.Config.ReconLoss == nil {
		return fmt.Errorf("%w: model config with model and reconstruction loss is required", ErrContractViolation)
	}
	if b.Config.Trainable && b.Config.Optimizer == nil {
		return fmt.Errorf("%w: trainable domain has no optimizer", ErrContractViolation)
	}
	if b.Inputs == nil {
		return fmt.Errorf("%w: batch has no inputs", ErrContractViolation)
	}
	if needLabels && b.Labels == nil {
		return fmt.Errorf("%w: batch has no labels", ErrContractViolation)
	}
	return nil
}

func domainTargets(n, class int) *tensor.Tensor {
	targets := make([]int, n)
	for k := range targets {
		targets[k] = class
	}
	return tensor.FromInts(targets)
}

func halfSum(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	s, err := tensor.Add(a, b)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(s, 0.5), nil
}

func sumAll(terms ...*tensor.Tensor) (*tensor.Tensor, error) {
	total := terms[0]
	for _, t := range terms[1:] {
		var err error
		if total, err = tensor.Add(total, t); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func backward(total *tensor.Tensor) error {
	if !total.RequiresGrad() {
		return nil
	}
	if err := total.Backward(); err != nil {
		return fmt.Errorf("backward: %w", err)
	}
	return nil
}

// item reads a scalar loss. Loss functions always return one element.
func item(t *tensor.Tensor) float64 {
	return t.Data[0]
}
