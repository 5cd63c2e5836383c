package layers

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tsawler/go-latent/tensor"
)

// Global random source for deterministic initialization
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// NewRand derives an independent random source from the global one, for
// modules that sample during their forward pass.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(globalRng.Int63()))
}

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	LeakyReLU
	PReLU
	Sigmoid
	Tanh
	Softmax
	Identity
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case PReLU:
		return "PReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Softmax:
		return "Softmax"
	case Identity:
		return "Identity"
	default:
		return "Unknown"
	}
}

// ParseActivation looks up an activation layer type by name. The empty string
// and "none" map to Identity.
func ParseActivation(name string) (LayerType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "identity", "linear":
		return Identity, nil
	case "relu":
		return ReLU, nil
	case "leakyrelu", "leaky_relu":
		return LeakyReLU, nil
	case "prelu":
		return PReLU, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	case "softmax":
		return Softmax, nil
	default:
		return Identity, fmt.Errorf("%w: %q", ErrUnknownActivation, name)
	}
}

// NamedParameter pairs a parameter tensor with its state-dict key
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Parametrized is anything holding trainable parameters and a train/eval mode
type Parametrized interface {
	NamedParameters() []NamedParameter
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Parametrized
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
}

// ParametersOf extracts the tensors of named parameters.
func ParametersOf(named []NamedParameter) []*tensor.Tensor {
	params := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		params[i] = p.Tensor
	}
	return params
}

// Prefixed namespaces child parameters as "prefix.name".
func Prefixed(prefix string, named []NamedParameter) []NamedParameter {
	out := make([]NamedParameter, len(named))
	for i, p := range named {
		out[i] = NamedParameter{Name: prefix + "." + p.Name, Tensor: p.Tensor}
	}
	return out
}

// ToDevice places every parameter of m on device.
func ToDevice(m Parametrized, device tensor.DeviceType) {
	for _, p := range m.Parameters() {
		p.ToDevice(device)
	}
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Parametrized) {
	tensor.ZeroGrad(m.Parameters())
}

// CountParameters returns the number of scalar parameters of m.
func CountParameters(m Parametrized) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Numel()
	}
	return n
}
