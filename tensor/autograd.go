package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Backward back-propagates from a single-element tensor and accumulates
// gradients into every leaf that requires them.
func (t *Tensor) Backward() error {
	if len(t.Data) != 1 {
		return fmt.Errorf("backward requires a scalar output, got shape %v", t.Shape)
	}
	if !t.requiresGrad {
		return fmt.Errorf("backward called on a tensor that does not require grad")
	}

	order := topoSort(t)
	grads := map[*Tensor]*Tensor{t: FromScalar(1)}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			node.accumulateGrad(g)
			continue
		}

		inputs := node.creator.Inputs()
		inputGrads := node.creator.Backward(g)
		for k, in := range inputs {
			if k >= len(inputGrads) || inputGrads[k] == nil || !in.requiresGrad {
				continue
			}
			if len(inputGrads[k].Data) != len(in.Data) {
				return fmt.Errorf("gradient shape %v does not match input shape %v", inputGrads[k].Shape, in.Shape)
			}
			if prev, ok := grads[in]; ok {
				floats.Add(prev.Data, inputGrads[k].Data)
			} else {
				grads[in] = inputGrads[k].Clone()
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) {
	if t.grad == nil {
		t.grad = g.Clone()
		t.grad.Shape = cloneShape(t.Shape)
		return
	}
	floats.Add(t.grad.Data, g.Data)
}

// ZeroGrad clears the accumulated gradients of the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.grad = nil
		}
	}
}

func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				if in.requiresGrad {
					visit(in)
				}
			}
		}
		order = append(order, n)
	}
	visit(root)
	return order
}

// record attaches op to out when any input takes part in differentiation.
func record(out *Tensor, op Operation) *Tensor {
	for _, in := range op.Inputs() {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	return out
}

type broadcast int

const (
	broadcastNone broadcast = iota
	broadcastRow
	broadcastScalar
)

// broadcastKind reports how b is expanded against a: same shape, a single
// element, or a row vector repeated over the rows of a 2-D tensor.
func broadcastKind(a, b *Tensor) (broadcast, error) {
	switch {
	case shapesEqual(a.Shape, b.Shape):
		return broadcastNone, nil
	case len(b.Data) == 1:
		return broadcastScalar, nil
	case len(a.Shape) == 2 && len(b.Data) == a.Shape[1] && (len(b.Shape) == 1 || b.Shape[0] == 1):
		return broadcastRow, nil
	default:
		return broadcastNone, fmt.Errorf("shapes %v and %v are not broadcast compatible", a.Shape, b.Shape)
	}
}

func broadcastIndex(kind broadcast, i, cols int) int {
	switch kind {
	case broadcastScalar:
		return 0
	case broadcastRow:
		return i % cols
	default:
		return i
	}
}

// reduceGradient sums a gradient of a's shape back to the shape of b.
func reduceGradient(g []float64, kind broadcast, b *Tensor) *Tensor {
	out := make([]float64, len(b.Data))
	switch kind {
	case broadcastScalar:
		out[0] = floats.Sum(g)
	case broadcastRow:
		cols := len(b.Data)
		for i, v := range g {
			out[i%cols] += v
		}
	default:
		copy(out, g)
	}
	return &Tensor{Shape: cloneShape(b.Shape), Data: out, Device: b.Device}
}
