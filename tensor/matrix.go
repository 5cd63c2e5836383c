package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type matMulOp struct {
	a, b *Tensor
}

func (op *matMulOp) Inputs() []*Tensor {
	return []*Tensor{op.a, op.b}
}

func (op *matMulOp) Backward(gradOut *Tensor) []*Tensor {
	n, k := op.a.Shape[0], op.a.Shape[1]
	m := op.b.Shape[1]

	g := mat.NewDense(n, m, gradOut.Data)
	a := mat.NewDense(n, k, op.a.Data)
	b := mat.NewDense(k, m, op.b.Data)

	var ga, gb mat.Dense
	ga.Mul(g, b.T())
	gb.Mul(a.T(), g)

	return []*Tensor{
		{Shape: []int{n, k}, Data: denseData(&ga), Device: op.a.Device},
		{Shape: []int{k, m}, Data: denseData(&gb), Device: op.b.Device},
	}
}

// MatMul multiplies a [n,k] by b [k,m].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul shape mismatch: %v x %v", a.Shape, b.Shape)
	}

	n, k, m := a.Shape[0], a.Shape[1], b.Shape[1]
	var c mat.Dense
	c.Mul(mat.NewDense(n, k, a.Data), mat.NewDense(k, m, b.Data))

	out := &Tensor{Shape: []int{n, m}, Data: denseData(&c), Device: a.Device}
	return record(out, &matMulOp{a: a, b: b}), nil
}

func denseData(d *mat.Dense) []float64 {
	r, c := d.Dims()
	raw := d.RawMatrix()
	if raw.Stride == c {
		return raw.Data[:r*c]
	}
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+c]...)
	}
	return out
}

type concatOp struct {
	a, b *Tensor
}

func (op *concatOp) Inputs() []*Tensor {
	return []*Tensor{op.a, op.b}
}

func (op *concatOp) Backward(gradOut *Tensor) []*Tensor {
	n := op.a.Rows()
	p, q := op.a.Cols(), op.b.Cols()
	ga := make([]float64, 0, n*p)
	gb := make([]float64, 0, n*q)
	for i := 0; i < n; i++ {
		row := gradOut.Data[i*(p+q) : (i+1)*(p+q)]
		ga = append(ga, row[:p]...)
		gb = append(gb, row[p:]...)
	}
	return []*Tensor{
		{Shape: cloneShape(op.a.Shape), Data: ga, Device: op.a.Device},
		{Shape: cloneShape(op.b.Shape), Data: gb, Device: op.b.Device},
	}
}

// ConcatColumns joins a [n,p] and b [n,q] into [n,p+q]. A 1-D b of length n
// is treated as a single column.
func ConcatColumns(a, b *Tensor) (*Tensor, error) {
	if a.Rows() != b.Rows() {
		return nil, fmt.Errorf("concat row mismatch: %v and %v", a.Shape, b.Shape)
	}
	n := a.Rows()
	p, q := a.Cols(), b.Cols()
	data := make([]float64, 0, n*(p+q))
	for i := 0; i < n; i++ {
		data = append(data, a.Data[i*p:(i+1)*p]...)
		data = append(data, b.Data[i*q:(i+1)*q]...)
	}
	out := &Tensor{Shape: []int{n, p + q}, Data: data, Device: a.Device}
	return record(out, &concatOp{a: a, b: b}), nil
}

type reshapeOp struct {
	x *Tensor
}

func (op *reshapeOp) Inputs() []*Tensor {
	return []*Tensor{op.x}
}

func (op *reshapeOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{{Shape: cloneShape(op.x.Shape), Data: gradOut.Data, Device: op.x.Device}}
}

func Reshape(x *Tensor, shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != len(x.Data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", x.Shape, shape)
	}
	out := &Tensor{Shape: cloneShape(shape), Data: x.Data, Device: x.Device}
	return record(out, &reshapeOp{x: x}), nil
}

type indexRowsOp struct {
	table *Tensor
	index []int
}

func (op *indexRowsOp) Inputs() []*Tensor {
	return []*Tensor{op.table}
}

func (op *indexRowsOp) Backward(gradOut *Tensor) []*Tensor {
	cols := op.table.Cols()
	g := make([]float64, len(op.table.Data))
	for i, row := range op.index {
		for c := 0; c < cols; c++ {
			g[row*cols+c] += gradOut.Data[i*cols+c]
		}
	}
	return []*Tensor{{Shape: cloneShape(op.table.Shape), Data: g, Device: op.table.Device}}
}

// IndexRows gathers rows of a 2-D table, as an embedding lookup does.
func IndexRows(table *Tensor, index []int) (*Tensor, error) {
	if len(table.Shape) != 2 {
		return nil, fmt.Errorf("index rows requires a 2D table, got %v", table.Shape)
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("index rows requires at least one index")
	}
	cols := table.Shape[1]
	data := make([]float64, 0, len(index)*cols)
	for _, row := range index {
		if row < 0 || row >= table.Shape[0] {
			return nil, fmt.Errorf("row index %d out of range [0,%d)", row, table.Shape[0])
		}
		data = append(data, table.Data[row*cols:(row+1)*cols]...)
	}
	out := &Tensor{Shape: []int{len(index), cols}, Data: data, Device: table.Device}
	return record(out, &indexRowsOp{table: table, index: index}), nil
}
