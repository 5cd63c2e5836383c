package loss

import (
	"fmt"
	"math"

	"github.com/tsawler/go-latent/tensor"
)

// KLGaussian is KL(N(mu, diag(exp(logvar))) || N(0, I)), summed over latent
// dimensions and averaged over the batch:
//
//	0.5 * sum(exp(logvar) + mu^2 - 1 - logvar) / n
func KLGaussian(mu, logvar *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(mu, logvar); err != nil {
		return nil, fmt.Errorf("kl gaussian: %w", err)
	}
	terms, err := tensor.Add(tensor.Exp(logvar), tensor.Square(mu))
	if err != nil {
		return nil, err
	}
	terms, err = tensor.Sub(tensor.AddScalar(terms, -1), logvar)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(tensor.Sum(terms), 0.5/float64(mu.Rows())), nil
}

// KLGaussians is KL(N(mu, exp(logvar)) || N(muPrior, exp(logvarPrior))) for
// diagonal Gaussians, summed over latent dimensions and averaged over the batch:
//
//	0.5 * sum(logvarPrior - logvar + (exp(logvar) + (mu - muPrior)^2) / exp(logvarPrior) - 1) / n
func KLGaussians(mu, logvar, muPrior, logvarPrior *tensor.Tensor) (*tensor.Tensor, error) {
	for _, t := range []*tensor.Tensor{logvar, muPrior, logvarPrior} {
		if err := checkSameShape(mu, t); err != nil {
			return nil, fmt.Errorf("kl gaussians: %w", err)
		}
	}

	logRatio, err := tensor.Sub(logvarPrior, logvar)
	if err != nil {
		return nil, err
	}
	delta, err := tensor.Sub(mu, muPrior)
	if err != nil {
		return nil, err
	}
	num, err := tensor.Add(tensor.Exp(logvar), tensor.Square(delta))
	if err != nil {
		return nil, err
	}
	ratio, err := tensor.Div(num, tensor.Exp(logvarPrior))
	if err != nil {
		return nil, err
	}
	terms, err := tensor.Add(logRatio, tensor.AddScalar(ratio, -1))
	if err != nil {
		return nil, err
	}
	return tensor.Scale(tensor.Sum(terms), 0.5/float64(mu.Rows())), nil
}

// categoricalLogFloor keeps 0*log(0) at zero.
var categoricalLogFloor = math.Log(1e-12)

// KLCategoricalUniform is KL(probs || Uniform(K)) per row, averaged over the batch:
//
//	sum(p * (log p + log K)) / n
func KLCategoricalUniform(probs *tensor.Tensor) (*tensor.Tensor, error) {
	if probs.Dim() != 2 {
		return nil, fmt.Errorf("kl categorical expects 2D probabilities, got %v", probs.Shape)
	}
	k := float64(probs.Shape[1])
	logRatio := tensor.AddScalar(tensor.LogClamped(probs, categoricalLogFloor), math.Log(k))
	terms, err := tensor.Mul(probs, logRatio)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(tensor.Sum(terms), 1/float64(probs.Rows())), nil
}
