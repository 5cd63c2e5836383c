package models

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/tensor"
)

// GMVAEConfig configures a GaussianMixtureVAE. The per-network hidden dims
// fall back to HiddenDims when empty.
type GMVAEConfig struct {
	InputDim         int
	HiddenDims       []int
	LatentDim        int
	NComponents      int
	HiddenDimsQYX    []int
	HiddenDimsQZYX   []int
	HiddenDimsPXZ    []int
	OutputActivation string
}

// GaussianMixtureVAE is a VAE whose prior is a mixture of learned Gaussians.
// q(y|x) picks a component, q(z|x,y) encodes, p(z|y) holds one mean and
// log-variance per component, and p(x|z) decodes.
type GaussianMixtureVAE struct {
	qyx         *layers.Sequential
	qzyx        *layers.Sequential
	mu          *layers.Linear
	logvar      *layers.Linear
	priorMu     *tensor.Tensor
	priorLogVar *tensor.Tensor
	pxz         *layers.Sequential

	nComponents int
	latentDim   int
	rng         *rand.Rand
	training    bool
}

func NewGaussianMixtureVAE(cfg GMVAEConfig) (*GaussianMixtureVAE, error) {
	if cfg.InputDim <= 0 || cfg.LatentDim <= 0 {
		return nil, fmt.Errorf("gmvae: input and latent dims must be positive, got %d and %d", cfg.InputDim, cfg.LatentDim)
	}
	if cfg.NComponents < 2 {
		return nil, fmt.Errorf("gmvae: need at least 2 components, got %d", cfg.NComponents)
	}
	qyxDims := orDefault(cfg.HiddenDimsQYX, cfg.HiddenDims)
	qzyxDims := orDefault(cfg.HiddenDimsQZYX, cfg.HiddenDims)
	pxzDims := orDefault(cfg.HiddenDimsPXZ, cfg.HiddenDims)

	qyx, err := layers.NewModelBuilder(cfg.InputDim).
		AddMLP(qyxDims, "qyx").
		AddDense(cfg.NComponents, true, "qyx_logits").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("gmvae q(y|x): %w", err)
	}

	qzyx, err := layers.NewModelBuilder(cfg.InputDim + cfg.NComponents).AddMLP(qzyxDims, "qzyx").Compile()
	if err != nil {
		return nil, fmt.Errorf("gmvae q(z|x,y): %w", err)
	}
	hidden := lastOr(qzyxDims, cfg.InputDim+cfg.NComponents)
	mu, err := layers.NewLinear(hidden, cfg.LatentDim, true)
	if err != nil {
		return nil, err
	}
	logvar, err := layers.NewLinear(hidden, cfg.LatentDim, true)
	if err != nil {
		return nil, err
	}

	pxz, err := layers.NewModelBuilder(cfg.LatentDim).
		AddMLP(reversed(pxzDims), "pxz").
		AddDense(cfg.InputDim, true, "pxz_out").
		AddActivation(cfg.OutputActivation, "pxz_activation").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("gmvae p(x|z): %w", err)
	}

	rng := layers.NewRand()
	priorShape := []int{cfg.NComponents, cfg.LatentDim}
	priorMu, err := tensor.Randn(rng, priorShape)
	if err != nil {
		return nil, err
	}
	priorLogVar, err := tensor.Randn(rng, priorShape)
	if err != nil {
		return nil, err
	}
	priorMu.SetRequiresGrad(true)
	priorLogVar.SetRequiresGrad(true)

	return &GaussianMixtureVAE{
		qyx:         qyx,
		qzyx:        qzyx,
		mu:          mu,
		logvar:      logvar,
		priorMu:     priorMu,
		priorLogVar: priorLogVar,
		pxz:         pxz,
		nComponents: cfg.NComponents,
		latentDim:   cfg.LatentDim,
		rng:         rng,
		training:    true,
	}, nil
}

func (g *GaussianMixtureVAE) Forward(x *tensor.Tensor) (*Output, error) {
	logits, err := g.qyx.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("q(y|x): %w", err)
	}
	probs, err := tensor.SoftmaxRows(logits)
	if err != nil {
		return nil, err
	}
	components := tensor.ArgMaxRows(probs)

	xy, err := tensor.ConcatColumns(x, logits)
	if err != nil {
		return nil, err
	}
	h, err := g.qzyx.Forward(xy)
	if err != nil {
		return nil, fmt.Errorf("q(z|x,y): %w", err)
	}
	mu, err := g.mu.Forward(h)
	if err != nil {
		return nil, err
	}
	logvar, err := g.logvar.Forward(h)
	if err != nil {
		return nil, err
	}
	z, err := g.sample(mu, logvar)
	if err != nil {
		return nil, err
	}

	muPrior, err := tensor.IndexRows(g.priorMu, components)
	if err != nil {
		return nil, err
	}
	logvarPrior, err := tensor.IndexRows(g.priorLogVar, components)
	if err != nil {
		return nil, err
	}

	recons, err := g.pxz.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("p(x|z): %w", err)
	}

	return &Output{
		Recons:  recons,
		Latents: z,
		Mu:      mu,
		LogVar:  logvar,
		Mixture: &MixtureOutput{
			Logits:      logits,
			Probs:       probs,
			Components:  components,
			MuPrior:     muPrior,
			LogVarPrior: logvarPrior,
		},
	}, nil
}

// Sample draws n components uniformly, samples latent codes from their priors
// and decodes them. It returns the decoded samples and the drawn components.
func (g *GaussianMixtureVAE) Sample(n int) (*tensor.Tensor, []int, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("gmvae: sample count must be positive, got %d", n)
	}
	components := make([]int, n)
	for i := range components {
		components[i] = g.rng.Intn(g.nComponents)
	}
	mu, err := tensor.IndexRows(g.priorMu.Detach(), components)
	if err != nil {
		return nil, nil, err
	}
	logvar, err := tensor.IndexRows(g.priorLogVar.Detach(), components)
	if err != nil {
		return nil, nil, err
	}
	z, err := reparameterize(mu, logvar, func(shape []int) (*tensor.Tensor, error) {
		return tensor.Randn(g.rng, shape)
	})
	if err != nil {
		return nil, nil, err
	}
	x, err := g.pxz.Forward(z)
	if err != nil {
		return nil, nil, err
	}
	return x.Detach(), components, nil
}

func (g *GaussianMixtureVAE) sample(mu, logvar *tensor.Tensor) (*tensor.Tensor, error) {
	if !g.training {
		return mu, nil
	}
	return reparameterize(mu, logvar, func(shape []int) (*tensor.Tensor, error) {
		return tensor.Randn(g.rng, shape)
	})
}

// NComponents returns the number of mixture components.
func (g *GaussianMixtureVAE) NComponents() int { return g.nComponents }

func (g *GaussianMixtureVAE) NamedParameters() []layers.NamedParameter {
	var params []layers.NamedParameter
	params = append(params, layers.Prefixed("qyx", g.qyx.NamedParameters())...)
	params = append(params, layers.Prefixed("qzyx", g.qzyx.NamedParameters())...)
	params = append(params, layers.Prefixed("qzyx.mu", g.mu.NamedParameters())...)
	params = append(params, layers.Prefixed("qzyx.logvar", g.logvar.NamedParameters())...)
	params = append(params,
		layers.NamedParameter{Name: "pzy.mu", Tensor: g.priorMu},
		layers.NamedParameter{Name: "pzy.logvar", Tensor: g.priorLogVar},
	)
	params = append(params, layers.Prefixed("pxz", g.pxz.NamedParameters())...)
	return params
}

func (g *GaussianMixtureVAE) Parameters() []*tensor.Tensor {
	return layers.ParametersOf(g.NamedParameters())
}

func (g *GaussianMixtureVAE) Train() {
	g.training = true
	g.qyx.Train()
	g.qzyx.Train()
	g.pxz.Train()
}

func (g *GaussianMixtureVAE) Eval() {
	g.training = false
	g.qyx.Eval()
	g.qzyx.Eval()
	g.pxz.Eval()
}

func (g *GaussianMixtureVAE) IsTraining() bool { return g.training }

func orDefault(dims, fallback []int) []int {
	if len(dims) > 0 {
		return dims
	}
	return fallback
}
