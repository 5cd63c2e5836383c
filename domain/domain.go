// Package domain binds each data domain's autoencoder, optimizer and
// reconstruction loss to its name and per-phase loaders, and bundles the
// shared latent discriminator and classifier with their optimizers.
package domain

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-latent/checkpoints"
	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
)

// ErrConfiguration marks setup-time failures: unknown type tags and invalid
// or missing settings.
var ErrConfiguration = errors.New("configuration error")

// Phase selects gradient computation and model mode for an epoch.
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseVal   Phase = "val"
	PhaseTest  Phase = "test"
)

func (p Phase) String() string { return string(p) }

// ParsePhase accepts "train", "val" (or "validation") and "test".
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "train":
		return PhaseTrain, nil
	case "val", "validation":
		return PhaseVal, nil
	case "test":
		return PhaseTest, nil
	default:
		return "", fmt.Errorf("%w: unknown phase %q", ErrConfiguration, s)
	}
}

// DomainModelConfig binds a domain's autoencoder to its optimizer and
// reconstruction loss. Batches are not stored here; they travel with each
// step call.
type DomainModelConfig struct {
	Model     models.Autoencoder
	Optimizer optimizer.Optimizer
	ReconLoss loss.Function
	Trainable bool
	// SuperviseComponents trains a mixture model's component posterior
	// against the sample labels instead of pulling it toward uniform.
	SuperviseComponents bool

	initial *checkpoints.StateDict
}

// NewDomainModelConfig records the model's initial weights so ResetModel can
// restore them.
func NewDomainModelConfig(model models.Autoencoder, opt optimizer.Optimizer, recon loss.Function, trainable bool) *DomainModelConfig {
	return &DomainModelConfig{
		Model:     model,
		Optimizer: opt,
		ReconLoss: recon,
		Trainable: trainable,
		initial:   layers.StateDict(model),
	}
}

// ResetModel restores the weights the model had when the config was built.
func (c *DomainModelConfig) ResetModel() error {
	if c.initial == nil {
		return fmt.Errorf("%w: no initial weights recorded", ErrConfiguration)
	}
	return layers.LoadStateDict(c.Model, c.initial)
}

// DomainConfig is one data domain: a name, its model config and a loader per
// phase. DataKey and LabelKey select the batch entries holding inputs and
// labels.
type DomainConfig struct {
	Name        string
	ModelConfig *DomainModelConfig
	Loaders     map[Phase]data.Loader
	DataKey     string
	LabelKey    string
}

// Loader returns the loader for phase, if one is configured.
func (d *DomainConfig) Loader(phase Phase) (data.Loader, bool) {
	l, ok := d.Loaders[phase]
	return l, ok && l != nil
}

// LatentModelConfig bundles a latent discriminator or classifier with its
// optimizer and loss. It is shared by both domains.
type LatentModelConfig struct {
	Model     layers.Module
	Optimizer optimizer.Optimizer
	Loss      loss.Function
}
