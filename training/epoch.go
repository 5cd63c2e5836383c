package training

import (
	"context"
	"fmt"
	"sort"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/domain"
)

// Statistics maps a metric name to its epoch value.
type Statistics map[string]float64

// Metric names reported by the epoch drivers.
const (
	MetricReconLossI = "recon_loss_i"
	MetricReconLossJ = "recon_loss_j"
	MetricDCMLoss    = "dcm_loss"
	MetricAEDCMLoss  = "ae_dcm_loss"
	MetricKLLoss     = "kl_loss"
	MetricAccuracyI  = "accuracy_i"
	MetricAccuracyJ  = "accuracy_j"
	MetricTotalLoss  = "total_loss"
	MetricCLFLoss    = "clf_loss"
	MetricReconLoss  = "recon_loss"
	MetricAccuracy   = "accuracy"
	MetricMacroF1    = "clf_macro_f1"
)

// Names returns the metric names in sorted order.
func (s Statistics) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ProcessEpochTwoDomains pairs the two domains' loaders for phase batch by
// batch, stopping at the shorter one, and runs the autoencoder step followed
// by the discriminator step on each pair. Losses are normalized by the number
// of discriminator predictions seen this epoch: per domain for the
// reconstruction losses, combined for everything else.
func ProcessEpochTwoDomains(ctx context.Context, domains [2]*domain.DomainConfig, dcm, clf *domain.LatentModelConfig, opts StepOptions) (Statistics, error) {
	if domains[0] == nil || domains[1] == nil {
		return nil, fmt.Errorf("%w: two domains are required", ErrContractViolation)
	}
	loaderI, err := phaseLoader(domains[0], opts.Phase)
	if err != nil {
		return nil, err
	}
	loaderJ, err := phaseLoader(domains[1], opts.Phase)
	if err != nil {
		return nil, err
	}
	loaderI.Reset()
	loaderJ.Reset()

	var (
		reconI, reconJ, dcmLoss, aeDCMLoss, klLoss, clfLoss, total float64
		accI, accJ                                                 Accuracy
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batchI, err := nextBatch(loaderI, domains[0])
		if err != nil {
			return nil, err
		}
		batchJ, err := nextBatch(loaderJ, domains[1])
		if err != nil {
			return nil, err
		}
		if batchI == nil || batchJ == nil {
			break
		}

		ae, err := TrainAutoencodersTwoDomains(*batchI, *batchJ, dcm, clf, opts)
		if err != nil {
			return nil, err
		}
		reconI += ae.ReconLossI
		reconJ += ae.ReconLossJ
		aeDCMLoss += ae.DCMLoss
		klLoss += ae.KLLoss
		clfLoss += ae.CLFLoss
		total += ae.Total

		disc, err := TrainLatentDiscriminatorTwoDomains(*batchI, *batchJ, dcm, opts)
		if err != nil {
			return nil, err
		}
		dcmLoss += disc.DCMLoss
		accI.Add(disc.AccuracyI)
		accJ.Add(disc.AccuracyJ)
	}

	seen := float64(accI.Total + accJ.Total)
	if accI.Total == 0 || accJ.Total == 0 {
		return nil, fmt.Errorf("%w: %s loaders produced no batches", ErrContractViolation, opts.Phase)
	}

	stats := Statistics{
		MetricReconLossI: reconI / float64(accI.Total),
		MetricReconLossJ: reconJ / float64(accJ.Total),
		MetricDCMLoss:    dcmLoss / seen,
		MetricAEDCMLoss:  aeDCMLoss / seen,
		MetricKLLoss:     klLoss / seen,
		MetricAccuracyI:  accI.Rate(),
		MetricAccuracyJ:  accJ.Rate(),
		MetricTotalLoss:  total / seen,
	}
	if opts.UseCLF {
		stats[MetricCLFLoss] = clfLoss / seen
	}
	return stats, nil
}

// ProcessEpochSingleDomain runs the single-domain step over every batch of
// the phase loader and normalizes by the dataset length.
func ProcessEpochSingleDomain(ctx context.Context, d *domain.DomainConfig, clf *domain.LatentModelConfig, opts StepOptions) (Statistics, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: domain is required", ErrContractViolation)
	}
	loader, err := phaseLoader(d, opts.Phase)
	if err != nil {
		return nil, err
	}
	loader.Reset()

	var (
		recon, kl, clfLoss, total float64
		acc                       Accuracy
		confusion                 *ConfusionMatrix
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := nextBatch(loader, d)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}

		step, err := TrainAutoencoder(*batch, clf, opts)
		if err != nil {
			return nil, err
		}
		recon += step.ReconLoss
		kl += step.KLLoss
		total += step.Total
		if opts.UseCLF {
			clfLoss += step.CLFLoss
			acc.Add(step.Accuracy)
			if confusion == nil {
				confusion = NewConfusionMatrix(step.Logits.Cols())
			}
			if err := confusion.Update(step.Logits, batch.Labels.Labels()); err != nil {
				return nil, err
			}
		}
	}

	n := float64(loader.DatasetLen())
	if n == 0 {
		return nil, fmt.Errorf("%w: %s loader has an empty dataset", ErrContractViolation, opts.Phase)
	}
	stats := Statistics{
		MetricReconLoss: recon / n,
		MetricKLLoss:    kl / n,
		MetricTotalLoss: total / n,
		MetricAccuracy:  0,
	}
	if opts.UseCLF && acc.Total > 0 {
		stats[MetricAccuracy] = float64(acc.Correct) / n
		stats[MetricCLFLoss] = clfLoss / float64(acc.Total)
		stats[MetricMacroF1] = confusion.MacroF1()
	}
	return stats, nil
}

func phaseLoader(d *domain.DomainConfig, phase domain.Phase) (data.Loader, error) {
	l, ok := d.Loader(phase)
	if !ok {
		return nil, fmt.Errorf("%w: domain %q has no %s loader", ErrContractViolation, d.Name, phase)
	}
	return l, nil
}

// nextBatch pulls the next batch and binds it to the domain's model config.
// It returns nil at the end of the epoch.
func nextBatch(l data.Loader, d *domain.DomainConfig) (*DomainBatch, error) {
	b, err := l.Next()
	if err != nil {
		return nil, fmt.Errorf("domain %q: %w", d.Name, err)
	}
	if b == nil {
		return nil, nil
	}
	inputs, ok := b[d.DataKey]
	if !ok {
		return nil, fmt.Errorf("%w: domain %q batch has no %q entry", ErrContractViolation, d.Name, d.DataKey)
	}
	return &DomainBatch{Config: d.ModelConfig, Inputs: inputs, Labels: b[d.LabelKey]}, nil
}
