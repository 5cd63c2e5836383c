// Package loss provides the reconstruction and classification loss functions
// and the closed-form KL divergences used to regularize latent codes.
package loss

import (
	"fmt"

	"github.com/tsawler/go-latent/tensor"
)

// Function is a differentiable loss over a prediction and a target
type Function interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// Reduction selects how per-element losses are combined
type Reduction string

const (
	ReductionMean Reduction = "mean"
	ReductionSum  Reduction = "sum"
)

func reduce(t *tensor.Tensor, r Reduction) *tensor.Tensor {
	if r == ReductionSum {
		return tensor.Sum(t)
	}
	return tensor.Mean(t)
}

func checkSameShape(predicted, target *tensor.Tensor) error {
	if predicted.Numel() != target.Numel() || predicted.Rows() != target.Rows() {
		return fmt.Errorf("predicted and target tensors must have the same shape, got %v and %v",
			predicted.Shape, target.Shape)
	}
	return nil
}

// MSELoss implements Mean Squared Error loss function
type MSELoss struct {
	reduction Reduction
}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss(reduction Reduction) *MSELoss {
	if reduction == "" {
		reduction = ReductionMean
	}
	return &MSELoss{reduction: reduction}
}

// Forward computes the MSE loss: L = (1/N) * sum((y_pred - y_true)^2)
func (mse *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	target, err := alignShape(target, predicted)
	if err != nil {
		return nil, err
	}
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("subtraction failed: %w", err)
	}
	return reduce(tensor.Square(diff), mse.reduction), nil
}

// L1Loss implements mean absolute error
type L1Loss struct {
	reduction Reduction
}

func NewL1Loss(reduction Reduction) *L1Loss {
	if reduction == "" {
		reduction = ReductionMean
	}
	return &L1Loss{reduction: reduction}
}

func (l1 *L1Loss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	target, err := alignShape(target, predicted)
	if err != nil {
		return nil, err
	}
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("subtraction failed: %w", err)
	}
	return reduce(tensor.Abs(diff), l1.reduction), nil
}

// BCELoss is binary cross-entropy over probabilities in [0,1]. Log terms are
// clamped at -100 so saturated predictions give a finite loss.
type BCELoss struct {
	reduction Reduction
}

func NewBCELoss(reduction Reduction) *BCELoss {
	if reduction == "" {
		reduction = ReductionMean
	}
	return &BCELoss{reduction: reduction}
}

const bceLogFloor = -100

func (bce *BCELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	target, err := alignShape(target, predicted)
	if err != nil {
		return nil, err
	}

	// -(y*log(p) + (1-y)*log(1-p))
	logP := tensor.LogClamped(predicted, bceLogFloor)
	log1mP := tensor.LogClamped(tensor.AddScalar(tensor.Neg(predicted), 1), bceLogFloor)

	pos, err := tensor.Mul(target, logP)
	if err != nil {
		return nil, err
	}
	neg, err := tensor.Mul(tensor.AddScalar(tensor.Neg(target), 1), log1mP)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(pos, neg)
	if err != nil {
		return nil, err
	}
	return reduce(tensor.Neg(sum), bce.reduction), nil
}

// CrossEntropyLoss combines log-softmax and negative log-likelihood over
// logits. Targets hold class indices. With class weights the mean is taken
// over the weights of the targets.
type CrossEntropyLoss struct {
	weights []float64
}

func NewCrossEntropyLoss(weights []float64) *CrossEntropyLoss {
	return &CrossEntropyLoss{weights: weights}
}

func (ce *CrossEntropyLoss) Weights() []float64 {
	return ce.weights
}

func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if predicted.Dim() != 2 {
		return nil, fmt.Errorf("cross entropy expects 2D logits [batch_size, num_classes], got %v", predicted.Shape)
	}
	if target.Numel() != predicted.Rows() {
		return nil, fmt.Errorf("cross entropy got %d targets for batch of %d", target.Numel(), predicted.Rows())
	}
	logp, err := tensor.LogSoftmaxRows(predicted)
	if err != nil {
		return nil, err
	}
	return tensor.NLL(logp, target.Labels(), ce.weights)
}

// alignShape views target with the shape of ref when they differ only in
// layout, e.g. [n] against [n,1].
func alignShape(target, ref *tensor.Tensor) (*tensor.Tensor, error) {
	if len(target.Shape) == len(ref.Shape) {
		return target, nil
	}
	return tensor.Reshape(target, ref.Shape)
}
