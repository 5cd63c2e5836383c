package models

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/tensor"
)

// VanillaVAE is a fully connected VAE: an MLP encoder with mean and
// log-variance heads, and a mirrored MLP decoder.
type VanillaVAE struct {
	encoder  *layers.Sequential
	mu       *layers.Linear
	logvar   *layers.Linear
	decoder  *layers.Sequential
	rng      *rand.Rand
	training bool
}

func NewVanillaVAE(inputDim int, hiddenDims []int, latentDim int, outputActivation string) (*VanillaVAE, error) {
	if inputDim <= 0 || latentDim <= 0 {
		return nil, fmt.Errorf("vanilla vae: input and latent dims must be positive, got %d and %d", inputDim, latentDim)
	}

	encoder, err := layers.NewModelBuilder(inputDim).AddMLP(hiddenDims, "encoder").Compile()
	if err != nil {
		return nil, fmt.Errorf("vanilla vae encoder: %w", err)
	}
	hidden := lastOr(hiddenDims, inputDim)

	mu, err := layers.NewLinear(hidden, latentDim, true)
	if err != nil {
		return nil, err
	}
	logvar, err := layers.NewLinear(hidden, latentDim, true)
	if err != nil {
		return nil, err
	}

	decoder, err := layers.NewModelBuilder(latentDim).
		AddMLP(reversed(hiddenDims), "decoder").
		AddDense(inputDim, true, "decoder_out").
		AddActivation(outputActivation, "decoder_activation").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("vanilla vae decoder: %w", err)
	}

	return &VanillaVAE{
		encoder:  encoder,
		mu:       mu,
		logvar:   logvar,
		decoder:  decoder,
		rng:      layers.NewRand(),
		training: true,
	}, nil
}

func (v *VanillaVAE) Forward(x *tensor.Tensor) (*Output, error) {
	h, err := v.encoder.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	mu, err := v.mu.Forward(h)
	if err != nil {
		return nil, err
	}
	logvar, err := v.logvar.Forward(h)
	if err != nil {
		return nil, err
	}

	z := mu
	if v.training {
		z, err = reparameterize(mu, logvar, func(shape []int) (*tensor.Tensor, error) {
			return tensor.Randn(v.rng, shape)
		})
		if err != nil {
			return nil, err
		}
	}

	recons, err := v.decoder.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &Output{Recons: recons, Latents: z, Mu: mu, LogVar: logvar}, nil
}

// Decode maps latent codes back to input space.
func (v *VanillaVAE) Decode(z *tensor.Tensor) (*tensor.Tensor, error) {
	return v.decoder.Forward(z)
}

func (v *VanillaVAE) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefixed("encoder", v.encoder.NamedParameters())...)
	params = append(params, layers.Prefixed("mu", v.mu.NamedParameters())...)
	params = append(params, layers.Prefixed("logvar", v.logvar.NamedParameters())...)
	params = append(params, layers.Prefixed("decoder", v.decoder.NamedParameters())...)
	return params
}

func (v *VanillaVAE) Parameters() []*tensor.Tensor {
	return layers.ParametersOf(v.NamedParameters())
}

func (v *VanillaVAE) Train() {
	v.training = true
	v.encoder.Train()
	v.decoder.Train()
}

func (v *VanillaVAE) Eval() {
	v.training = false
	v.encoder.Eval()
	v.decoder.Eval()
}

func (v *VanillaVAE) IsTraining() bool { return v.training }
