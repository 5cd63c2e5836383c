// Package models holds the autoencoders and latent-space networks trained by
// the training package, and the factories that build them from a type tag.
package models

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/tensor"
)

// ErrUnknownModel is returned by the factories for an unrecognized model type.
var ErrUnknownModel = errors.New("models: unknown model type")

// Output is the result of an autoencoder forward pass.
type Output struct {
	Recons  *tensor.Tensor
	Latents *tensor.Tensor
	Mu      *tensor.Tensor
	LogVar  *tensor.Tensor

	// Mixture is set by mixture models only.
	Mixture *MixtureOutput
}

// MixtureOutput carries the component posterior of a Gaussian-mixture VAE and
// the prior of the component assigned to each sample.
type MixtureOutput struct {
	Logits      *tensor.Tensor
	Probs       *tensor.Tensor
	Components  []int
	MuPrior     *tensor.Tensor
	LogVarPrior *tensor.Tensor
}

// Autoencoder encodes a batch into a latent code and reconstructs it.
// In training mode the latent code is sampled; in evaluation mode it is the
// posterior mean, so repeated evaluation passes are deterministic.
type Autoencoder interface {
	layers.Parametrized
	Forward(x *tensor.Tensor) (*Output, error)
}

// Config describes a model by type tag plus the sizes it needs. Fields that
// do not apply to the chosen type are ignored.
type Config struct {
	Type             string `mapstructure:"type" yaml:"type"`
	InputDim         int    `mapstructure:"input_dim" yaml:"input_dim"`
	HiddenDims       []int  `mapstructure:"hidden_dims" yaml:"hidden_dims"`
	LatentDim        int    `mapstructure:"latent_dim" yaml:"latent_dim"`
	OutputActivation string `mapstructure:"output_activation" yaml:"output_activation"`

	// Gaussian-mixture VAE
	NComponents    int   `mapstructure:"n_components" yaml:"n_components"`
	HiddenDimsQYX  []int `mapstructure:"hidden_dims_qyx" yaml:"hidden_dims_qyx"`
	HiddenDimsQZYX []int `mapstructure:"hidden_dims_qzyx" yaml:"hidden_dims_qzyx"`
	HiddenDimsPXZ  []int `mapstructure:"hidden_dims_pxz" yaml:"hidden_dims_pxz"`

	// Latent discriminator and classifier
	NClasses int `mapstructure:"n_classes" yaml:"n_classes"`
	// Unconditional drops the label column a discriminator expects next to
	// the latent code.
	Unconditional bool `mapstructure:"unconditional" yaml:"unconditional"`
}

// NewAutoencoder builds "VanillaVAE" or "GaussianMixtureVAE" (alias "GMVAE").
func NewAutoencoder(cfg Config) (Autoencoder, error) {
	switch cfg.Type {
	case "VanillaVAE":
		return NewVanillaVAE(cfg.InputDim, cfg.HiddenDims, cfg.LatentDim, cfg.OutputActivation)
	case "GaussianMixtureVAE", "GMVAE":
		return NewGaussianMixtureVAE(GMVAEConfig{
			InputDim:         cfg.InputDim,
			HiddenDims:       cfg.HiddenDims,
			LatentDim:        cfg.LatentDim,
			NComponents:      cfg.NComponents,
			HiddenDimsQYX:    cfg.HiddenDimsQYX,
			HiddenDimsQZYX:   cfg.HiddenDimsQZYX,
			HiddenDimsPXZ:    cfg.HiddenDimsPXZ,
			OutputActivation: cfg.OutputActivation,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Type)
	}
}

// NewLatentModel builds "LatentDiscriminator", or "LinearClassifier" (alias
// "LatentClassifier").
func NewLatentModel(cfg Config) (layers.Module, error) {
	switch cfg.Type {
	case "LatentDiscriminator":
		conditionDim := 1
		if cfg.Unconditional {
			conditionDim = 0
		}
		nClasses := cfg.NClasses
		if nClasses == 0 {
			nClasses = 2
		}
		return NewLatentDiscriminator(cfg.LatentDim, conditionDim, cfg.HiddenDims, nClasses)
	case "LinearClassifier", "LatentClassifier":
		return NewLatentClassifier(cfg.LatentDim, cfg.NClasses, cfg.HiddenDims, cfg.OutputActivation)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.Type)
	}
}

// reparameterize draws mu + eps*exp(0.5*logvar) with eps ~ N(0, I) from sample.
func reparameterize(mu, logvar *tensor.Tensor, sample func(shape []int) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	eps, err := sample(mu.Shape)
	if err != nil {
		return nil, err
	}
	noise, err := tensor.Mul(eps, tensor.Exp(tensor.Scale(logvar, 0.5)))
	if err != nil {
		return nil, err
	}
	return tensor.Add(mu, noise)
}

func reversed(dims []int) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[len(dims)-1-i] = d
	}
	return out
}

func lastOr(dims []int, fallback int) int {
	if len(dims) == 0 {
		return fallback
	}
	return dims[len(dims)-1]
}
