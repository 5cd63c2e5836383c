package tensor

import (
	"fmt"
	"math"
)

type binaryOp struct {
	a, b *Tensor
	kind broadcast
	name string
}

func (op *binaryOp) Inputs() []*Tensor {
	return []*Tensor{op.a, op.b}
}

func (op *binaryOp) Backward(gradOut *Tensor) []*Tensor {
	cols := op.a.Cols()
	g := gradOut.Data
	ga := make([]float64, len(g))
	gb := make([]float64, len(g))

	for i, v := range g {
		bv := op.b.Data[broadcastIndex(op.kind, i, cols)]
		switch op.name {
		case "add":
			ga[i] = v
			gb[i] = v
		case "sub":
			ga[i] = v
			gb[i] = -v
		case "mul":
			ga[i] = v * bv
			gb[i] = v * op.a.Data[i]
		case "div":
			ga[i] = v / bv
			gb[i] = -v * op.a.Data[i] / (bv * bv)
		}
	}

	return []*Tensor{
		{Shape: cloneShape(op.a.Shape), Data: ga, Device: op.a.Device},
		reduceGradient(gb, op.kind, op.b),
	}
}

func elementwise(name string, a, b *Tensor, f func(x, y float64) float64) (*Tensor, error) {
	kind, err := broadcastKind(a, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	cols := a.Cols()
	data := make([]float64, len(a.Data))
	for i, v := range a.Data {
		data[i] = f(v, b.Data[broadcastIndex(kind, i, cols)])
	}

	out := &Tensor{Shape: cloneShape(a.Shape), Data: data, Device: a.Device}
	return record(out, &binaryOp{a: a, b: b, kind: kind, name: name}), nil
}

// Add computes a + b. b may match a, hold one element, or be a row vector.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise("add", a, b, func(x, y float64) float64 { return x + y })
}

func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise("sub", a, b, func(x, y float64) float64 { return x - y })
}

func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise("mul", a, b, func(x, y float64) float64 { return x * y })
}

func Div(a, b *Tensor) (*Tensor, error) {
	return elementwise("div", a, b, func(x, y float64) float64 { return x / y })
}

type unaryOp struct {
	x, out *Tensor
	deriv  func(x, y float64) float64
}

func (op *unaryOp) Inputs() []*Tensor {
	return []*Tensor{op.x}
}

func (op *unaryOp) Backward(gradOut *Tensor) []*Tensor {
	g := make([]float64, len(gradOut.Data))
	for i, v := range gradOut.Data {
		g[i] = v * op.deriv(op.x.Data[i], op.out.Data[i])
	}
	return []*Tensor{{Shape: cloneShape(op.x.Shape), Data: g, Device: op.x.Device}}
}

func unary(x *Tensor, f func(float64) float64, deriv func(x, y float64) float64) *Tensor {
	data := make([]float64, len(x.Data))
	for i, v := range x.Data {
		data[i] = f(v)
	}
	out := &Tensor{Shape: cloneShape(x.Shape), Data: data, Device: x.Device}
	return record(out, &unaryOp{x: x, out: out, deriv: deriv})
}

func Scale(x *Tensor, s float64) *Tensor {
	return unary(x,
		func(v float64) float64 { return v * s },
		func(_, _ float64) float64 { return s })
}

func Neg(x *Tensor) *Tensor {
	return Scale(x, -1)
}

func AddScalar(x *Tensor, s float64) *Tensor {
	return unary(x,
		func(v float64) float64 { return v + s },
		func(_, _ float64) float64 { return 1 })
}

func Exp(x *Tensor) *Tensor {
	return unary(x, math.Exp, func(_, y float64) float64 { return y })
}

func Log(x *Tensor) *Tensor {
	return unary(x, math.Log, func(v, _ float64) float64 { return 1 / v })
}

// LogClamped computes max(log(x), min); clamped entries pass no gradient.
func LogClamped(x *Tensor, min float64) *Tensor {
	return unary(x,
		func(v float64) float64 { return math.Max(math.Log(v), min) },
		func(v, _ float64) float64 {
			if math.Log(v) < min {
				return 0
			}
			return 1 / v
		})
}

func Abs(x *Tensor) *Tensor {
	return unary(x, math.Abs, func(v, _ float64) float64 {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		default:
			return 0
		}
	})
}

func Square(x *Tensor) *Tensor {
	return unary(x,
		func(v float64) float64 { return v * v },
		func(v, _ float64) float64 { return 2 * v })
}

func Sigmoid(x *Tensor) *Tensor {
	return unary(x,
		func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

func Tanh(x *Tensor) *Tensor {
	return unary(x, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

func ReLU(x *Tensor) *Tensor {
	return LeakyReLU(x, 0)
}

func LeakyReLU(x *Tensor, slope float64) *Tensor {
	return unary(x,
		func(v float64) float64 {
			if v > 0 {
				return v
			}
			return slope * v
		},
		func(v, _ float64) float64 {
			if v > 0 {
				return 1
			}
			return slope
		})
}

type preluOp struct {
	x, w *Tensor
	kind broadcast
}

func (op *preluOp) Inputs() []*Tensor {
	return []*Tensor{op.x, op.w}
}

func (op *preluOp) Backward(gradOut *Tensor) []*Tensor {
	cols := op.x.Cols()
	gx := make([]float64, len(gradOut.Data))
	gw := make([]float64, len(gradOut.Data))
	for i, g := range gradOut.Data {
		v := op.x.Data[i]
		if v > 0 {
			gx[i] = g
		} else {
			gx[i] = g * op.w.Data[broadcastIndex(op.kind, i, cols)]
			gw[i] = g * v
		}
	}
	return []*Tensor{
		{Shape: cloneShape(op.x.Shape), Data: gx, Device: op.x.Device},
		reduceGradient(gw, op.kind, op.w),
	}
}

// PReLU applies a leaky rectifier whose negative slope w is learned. w holds
// either one shared slope or one slope per column.
func PReLU(x, w *Tensor) (*Tensor, error) {
	kind, err := broadcastKind(x, w)
	if err != nil {
		return nil, fmt.Errorf("prelu: %v", err)
	}
	cols := x.Cols()
	data := make([]float64, len(x.Data))
	for i, v := range x.Data {
		if v > 0 {
			data[i] = v
		} else {
			data[i] = w.Data[broadcastIndex(kind, i, cols)] * v
		}
	}
	out := &Tensor{Shape: cloneShape(x.Shape), Data: data, Device: x.Device}
	return record(out, &preluOp{x: x, w: w, kind: kind}), nil
}
