package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type sumOp struct {
	x *Tensor
}

func (op *sumOp) Inputs() []*Tensor {
	return []*Tensor{op.x}
}

func (op *sumOp) Backward(gradOut *Tensor) []*Tensor {
	g := make([]float64, len(op.x.Data))
	for i := range g {
		g[i] = gradOut.Data[0]
	}
	return []*Tensor{{Shape: cloneShape(op.x.Shape), Data: g, Device: op.x.Device}}
}

// Sum reduces every element to a single-element tensor.
func Sum(x *Tensor) *Tensor {
	out := FromScalar(floats.Sum(x.Data))
	out.Device = x.Device
	return record(out, &sumOp{x: x})
}

func Mean(x *Tensor) *Tensor {
	return Scale(Sum(x), 1/float64(len(x.Data)))
}

type softmaxOp struct {
	x, out *Tensor
	log    bool
}

func (op *softmaxOp) Inputs() []*Tensor {
	return []*Tensor{op.x}
}

func (op *softmaxOp) Backward(gradOut *Tensor) []*Tensor {
	n, c := op.x.Rows(), op.x.Cols()
	g := make([]float64, len(gradOut.Data))
	for i := 0; i < n; i++ {
		gr := gradOut.Data[i*c : (i+1)*c]
		yr := op.out.Data[i*c : (i+1)*c]
		if op.log {
			s := floats.Sum(gr)
			for j := range gr {
				g[i*c+j] = gr[j] - math.Exp(yr[j])*s
			}
		} else {
			dot := floats.Dot(gr, yr)
			for j := range gr {
				g[i*c+j] = yr[j] * (gr[j] - dot)
			}
		}
	}
	return []*Tensor{{Shape: cloneShape(op.x.Shape), Data: g, Device: op.x.Device}}
}

func softmaxRows(x *Tensor, log bool) (*Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("softmax requires a 2D tensor, got %v", x.Shape)
	}
	n, c := x.Shape[0], x.Shape[1]
	data := make([]float64, len(x.Data))
	for i := 0; i < n; i++ {
		row := x.Data[i*c : (i+1)*c]
		lse := floats.LogSumExp(row)
		for j, v := range row {
			if log {
				data[i*c+j] = v - lse
			} else {
				data[i*c+j] = math.Exp(v - lse)
			}
		}
	}
	out := &Tensor{Shape: cloneShape(x.Shape), Data: data, Device: x.Device}
	return record(out, &softmaxOp{x: x, out: out, log: log}), nil
}

// SoftmaxRows normalizes each row of x into a probability distribution.
func SoftmaxRows(x *Tensor) (*Tensor, error) {
	return softmaxRows(x, false)
}

func LogSoftmaxRows(x *Tensor) (*Tensor, error) {
	return softmaxRows(x, true)
}

type nllOp struct {
	logp    *Tensor
	targets []int
	weights []float64
	denom   float64
}

func (op *nllOp) Inputs() []*Tensor {
	return []*Tensor{op.logp}
}

func (op *nllOp) Backward(gradOut *Tensor) []*Tensor {
	c := op.logp.Cols()
	g := make([]float64, len(op.logp.Data))
	for i, t := range op.targets {
		g[i*c+t] = -gradOut.Data[0] * op.classWeight(t) / op.denom
	}
	return []*Tensor{{Shape: cloneShape(op.logp.Shape), Data: g, Device: op.logp.Device}}
}

func (op *nllOp) classWeight(class int) float64 {
	if op.weights == nil {
		return 1
	}
	return op.weights[class]
}

// NLL is the negative log-likelihood of targets under row-wise log
// probabilities, averaged with per-class weights (nil means uniform).
func NLL(logp *Tensor, targets []int, weights []float64) (*Tensor, error) {
	if len(logp.Shape) != 2 {
		return nil, fmt.Errorf("nll requires 2D log probabilities, got %v", logp.Shape)
	}
	n, c := logp.Shape[0], logp.Shape[1]
	if len(targets) != n {
		return nil, fmt.Errorf("nll got %d targets for %d rows", len(targets), n)
	}
	if weights != nil && len(weights) != c {
		return nil, fmt.Errorf("nll got %d class weights for %d classes", len(weights), c)
	}

	op := &nllOp{logp: logp, targets: targets, weights: weights}
	var total float64
	for i, t := range targets {
		if t < 0 || t >= c {
			return nil, fmt.Errorf("target %d out of range [0,%d)", t, c)
		}
		w := op.classWeight(t)
		total -= w * logp.Data[i*c+t]
		op.denom += w
	}
	if op.denom == 0 {
		return nil, fmt.Errorf("nll class weights of the batch sum to zero")
	}

	out := FromScalar(total / op.denom)
	out.Device = logp.Device
	return record(out, op), nil
}

// ArgMaxRows returns the column index of the largest value in each row.
func ArgMaxRows(x *Tensor) []int {
	n, c := x.Rows(), x.Cols()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = floats.MaxIdx(x.Data[i*c : (i+1)*c])
	}
	return out
}

// AllFinite reports whether no element is NaN or infinite.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
