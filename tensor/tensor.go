package tensor

import (
	"fmt"
	"strings"
)

type DeviceType int

const (
	CPU DeviceType = iota
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps a device string such as "cpu", "cuda:0" or "mps" to a DeviceType.
// An empty string and "auto" resolve to CPU.
func ParseDevice(s string) (DeviceType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		name = name[:idx]
	}
	switch name {
	case "", "auto", "cpu":
		return CPU, nil
	case "gpu", "cuda", "mps", "metal":
		return GPU, nil
	default:
		return CPU, fmt.Errorf("unknown device %q", s)
	}
}

// Operation is the creator of a tensor produced by a differentiable op.
// Backward receives the gradient of the output and returns one gradient per
// input, in the order of Inputs; a nil entry means no gradient flows there.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) []*Tensor
}

type Tensor struct {
	Shape        []int
	Data         []float64
	Device       DeviceType
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)", t.Shape, t.Device, len(t.Data))
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

func (t *Tensor) Creator() Operation {
	return t.creator
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int {
	return len(t.Data)
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Rows returns the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Cols returns the number of elements per row of a 2-D tensor, or 1 for a vector.
func (t *Tensor) Cols() int {
	if len(t.Shape) < 2 {
		return 1
	}
	return len(t.Data) / t.Shape[0]
}

func (t *Tensor) Item() (float64, error) {
	if len(t.Data) != 1 {
		return 0, fmt.Errorf("Item() requires a single-element tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

// At returns the element at the given row and column of a 2-D tensor.
func (t *Tensor) At(row, col int) float64 {
	return t.Data[row*t.Cols()+col]
}

// Clone returns a deep copy detached from the graph.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:  cloneShape(t.Shape),
		Data:   data,
		Device: t.Device,
	}
}

// Detach returns a tensor sharing data with t but cut off from the graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:  t.Shape,
		Data:   t.Data,
		Device: t.Device,
	}
}

// CopyFrom overwrites the data of t in place.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !shapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("copy shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// ToDevice records the target device. All kernels run on the CPU, so no data moves.
func (t *Tensor) ToDevice(device DeviceType) *Tensor {
	t.Device = device
	return t
}

// Labels interprets each element as an integer class index.
func (t *Tensor) Labels() []int {
	out := make([]int, len(t.Data))
	for i, v := range t.Data {
		out[i] = int(v)
	}
	return out
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
