package optimizer

import (
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-latent/tensor"
)

// bufferSet holds one lazily allocated state buffer per parameter, e.g. the
// first moment of Adam.
type bufferSet map[*tensor.Tensor][]float64

func (b bufferSet) get(p *tensor.Tensor) []float64 {
	buf, ok := b[p]
	if !ok {
		buf = make([]float64, len(p.Data))
		b[p] = buf
	}
	return buf
}

func hasGradient(p *tensor.Tensor) bool {
	return p.RequiresGrad() && p.Grad() != nil
}

// effectiveGradient returns grad + weightDecay*param without modifying the
// stored gradient.
func effectiveGradient(p *tensor.Tensor, weightDecay float64) []float64 {
	g := p.Grad().Data
	if weightDecay == 0 {
		return g
	}
	out := make([]float64, len(g))
	floats.AddScaledTo(out, g, weightDecay, p.Data)
	return out
}
