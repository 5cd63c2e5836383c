package models

import (
	"fmt"

	"github.com/tsawler/go-latent/layers"
	"github.com/tsawler/go-latent/tensor"
)

// LatentDiscriminator scores which domain a latent code came from. Its input
// is the latent code with conditionDim extra columns (the sample labels)
// appended.
type LatentDiscriminator struct {
	model        *layers.Sequential
	latentDim    int
	conditionDim int
	nClasses     int
}

func NewLatentDiscriminator(latentDim, conditionDim int, hiddenDims []int, nClasses int) (*LatentDiscriminator, error) {
	if latentDim <= 0 {
		return nil, fmt.Errorf("latent discriminator: latent dim must be positive, got %d", latentDim)
	}
	if conditionDim < 0 || nClasses < 2 {
		return nil, fmt.Errorf("latent discriminator: invalid condition dim %d or class count %d", conditionDim, nClasses)
	}
	model, err := layers.NewModelBuilder(latentDim+conditionDim).
		AddMLP(hiddenDims, "hidden").
		AddDense(nClasses, true, "logits").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("latent discriminator: %w", err)
	}
	return &LatentDiscriminator{model: model, latentDim: latentDim, conditionDim: conditionDim, nClasses: nClasses}, nil
}

// Forward returns one row of class logits per input row.
func (d *LatentDiscriminator) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Cols() != d.latentDim+d.conditionDim {
		return nil, fmt.Errorf("latent discriminator expects %d input columns, got %d", d.latentDim+d.conditionDim, input.Cols())
	}
	return d.model.Forward(input)
}

// ConditionDim is the number of label columns expected after the latent code.
func (d *LatentDiscriminator) ConditionDim() int { return d.conditionDim }

func (d *LatentDiscriminator) NClasses() int { return d.nClasses }

func (d *LatentDiscriminator) NamedParameters() []layers.NamedParameter {
	return layers.Prefixed("model", d.model.NamedParameters())
}

func (d *LatentDiscriminator) Parameters() []*tensor.Tensor { return d.model.Parameters() }
func (d *LatentDiscriminator) Train()                       { d.model.Train() }
func (d *LatentDiscriminator) Eval()                        { d.model.Eval() }
func (d *LatentDiscriminator) IsTraining() bool             { return d.model.IsTraining() }

// LatentClassifier predicts sample labels from latent codes. Without hidden
// dims it is a single linear map.
type LatentClassifier struct {
	model    *layers.Sequential
	nClasses int
}

func NewLatentClassifier(latentDim, nClasses int, hiddenDims []int, outputActivation string) (*LatentClassifier, error) {
	if nClasses == 0 {
		nClasses = 2
	}
	if latentDim <= 0 || nClasses < 1 {
		return nil, fmt.Errorf("latent classifier: invalid latent dim %d or class count %d", latentDim, nClasses)
	}
	model, err := layers.NewModelBuilder(latentDim).
		AddMLP(hiddenDims, "hidden").
		AddDense(nClasses, true, "logits").
		AddActivation(outputActivation, "output_activation").
		Compile()
	if err != nil {
		return nil, fmt.Errorf("latent classifier: %w", err)
	}
	return &LatentClassifier{model: model, nClasses: nClasses}, nil
}

func (c *LatentClassifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return c.model.Forward(input)
}

func (c *LatentClassifier) NClasses() int { return c.nClasses }

func (c *LatentClassifier) NamedParameters() []layers.NamedParameter {
	return layers.Prefixed("model", c.model.NamedParameters())
}

func (c *LatentClassifier) Parameters() []*tensor.Tensor { return c.model.Parameters() }
func (c *LatentClassifier) Train()                       { c.model.Train() }
func (c *LatentClassifier) Eval()                        { c.model.Eval() }
func (c *LatentClassifier) IsTraining() bool             { return c.model.IsTraining() }
