package layers

import (
	"fmt"

	"github.com/tsawler/go-latent/tensor"
)

// Activation is a parameter-free element-wise layer
type Activation struct {
	kind     LayerType
	slope    float64
	training bool
}

// NewActivation creates the activation named by name. PReLU has a learned
// slope and is built by NewPReLU instead.
func NewActivation(name string) (Module, error) {
	kind, err := ParseActivation(name)
	if err != nil {
		return nil, err
	}
	if kind == PReLU {
		return NewPReLU(1)
	}
	return &Activation{kind: kind, slope: 0.01, training: true}, nil
}

func (a *Activation) Type() LayerType {
	return a.kind
}

func (a *Activation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	switch a.kind {
	case ReLU:
		return tensor.ReLU(input), nil
	case LeakyReLU:
		return tensor.LeakyReLU(input, a.slope), nil
	case Sigmoid:
		return tensor.Sigmoid(input), nil
	case Tanh:
		return tensor.Tanh(input), nil
	case Softmax:
		return tensor.SoftmaxRows(input)
	case Identity:
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported activation %s", a.kind)
	}
}

func (a *Activation) NamedParameters() []NamedParameter { return nil }
func (a *Activation) Parameters() []*tensor.Tensor       { return nil }
func (a *Activation) Train()                             { a.training = true }
func (a *Activation) Eval()                              { a.training = false }
func (a *Activation) IsTraining() bool                   { return a.training }

// PReLULayer is a leaky rectifier with a learned negative slope
type PReLULayer struct {
	weight   *tensor.Tensor
	training bool
}

// NewPReLU creates a PReLU with numParameters slopes initialized to 0.25.
// numParameters is 1 for a shared slope or the feature count for one per column.
func NewPReLU(numParameters int) (*PReLULayer, error) {
	w, err := tensor.Full([]int{numParameters}, 0.25)
	if err != nil {
		return nil, fmt.Errorf("failed to create prelu weight: %w", err)
	}
	w.SetRequiresGrad(true)
	return &PReLULayer{weight: w, training: true}, nil
}

func (p *PReLULayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.PReLU(input, p.weight)
}

func (p *PReLULayer) NamedParameters() []NamedParameter {
	return []NamedParameter{{Name: "weight", Tensor: p.weight}}
}

func (p *PReLULayer) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{p.weight}
}

func (p *PReLULayer) Train()           { p.training = true }
func (p *PReLULayer) Eval()            { p.training = false }
func (p *PReLULayer) IsTraining() bool { return p.training }
