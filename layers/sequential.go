package layers

import (
	"fmt"
	"strconv"

	"github.com/tsawler/go-latent/tensor"
)

// Sequential runs its children in order. Child parameters are keyed by the
// child's index, e.g. "0.weight".
type Sequential struct {
	children []Module
	training bool
}

func NewSequential(children ...Module) *Sequential {
	return &Sequential{children: children, training: true}
}

func (s *Sequential) Append(m Module) {
	s.children = append(s.children, m)
}

func (s *Sequential) Len() int {
	return len(s.children)
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	for i, child := range s.children {
		var err error
		out, err = child.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

func (s *Sequential) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for i, child := range s.children {
		params = append(params, Prefixed(strconv.Itoa(i), child.NamedParameters())...)
	}
	return params
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	return ParametersOf(s.NamedParameters())
}

func (s *Sequential) Train() {
	s.training = true
	for _, child := range s.children {
		child.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, child := range s.children {
		child.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }

// LayerSpec is the declarative description of one layer added to a ModelBuilder
type LayerSpec struct {
	Type       LayerType
	Name       string
	OutputSize int
	UseBias    bool
}

// ModelBuilder assembles a Sequential from layer specs, inferring each dense
// layer's input size from the previous one.
type ModelBuilder struct {
	layers    []LayerSpec
	inputSize int
}

// NewModelBuilder creates a new model builder
func NewModelBuilder(inputSize int) *ModelBuilder {
	return &ModelBuilder{
		layers:    make([]LayerSpec, 0),
		inputSize: inputSize,
	}
}

// AddLayer adds a layer spec to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// AddDense adds a dense layer to the model
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Dense, Name: name, OutputSize: outputSize, UseBias: useBias})
}

// AddActivation adds a named activation; an unknown name surfaces from Compile.
func (mb *ModelBuilder) AddActivation(activation string, name string) *ModelBuilder {
	kind, err := ParseActivation(activation)
	if err != nil {
		return mb.AddLayer(LayerSpec{Type: -1, Name: activation})
	}
	return mb.AddLayer(LayerSpec{Type: kind, Name: name})
}

// AddPReLU adds a PReLU with one shared slope
func (mb *ModelBuilder) AddPReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: PReLU, Name: name})
}

// AddMLP adds a dense layer followed by a PReLU for every hidden size.
func (mb *ModelBuilder) AddMLP(hidden []int, name string) *ModelBuilder {
	for i, h := range hidden {
		mb.AddDense(h, true, fmt.Sprintf("%s_dense%d", name, i))
		mb.AddPReLU(fmt.Sprintf("%s_prelu%d", name, i))
	}
	return mb
}

// OutputSize returns the feature count produced by the layers added so far.
func (mb *ModelBuilder) OutputSize() int {
	size := mb.inputSize
	for _, l := range mb.layers {
		if l.Type == Dense {
			size = l.OutputSize
		}
	}
	return size
}

// Compile instantiates the layers
func (mb *ModelBuilder) Compile() (*Sequential, error) {
	if mb.inputSize <= 0 {
		return nil, fmt.Errorf("model input size must be positive, got %d", mb.inputSize)
	}

	seq := NewSequential()
	size := mb.inputSize
	for i, spec := range mb.layers {
		switch spec.Type {
		case Dense:
			linear, err := NewLinear(size, spec.OutputSize, spec.UseBias)
			if err != nil {
				return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Name, err)
			}
			seq.Append(linear)
			size = spec.OutputSize
		case PReLU:
			p, err := NewPReLU(1)
			if err != nil {
				return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Name, err)
			}
			seq.Append(p)
		case ReLU, LeakyReLU, Sigmoid, Tanh, Softmax, Identity:
			seq.Append(&Activation{kind: spec.Type, slope: 0.01, training: true})
		default:
			return nil, fmt.Errorf("layer %d: %w: %q", i, ErrUnknownActivation, spec.Name)
		}
	}
	return seq, nil
}
