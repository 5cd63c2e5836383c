package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, data []float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float64, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:  cloneShape(shape),
		Data:   data,
		Device: CPU,
	}, nil
}

// MustNew is NewTensor for shapes and data known to be valid.
func MustNew(shape []int, data []float64) *Tensor {
	t, err := NewTensor(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

func Full(shape []int, value float64) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	data := make([]float64, calculateNumElements(shape))
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, data)
}

func FromScalar(value float64) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float64{value}, Device: CPU}
}

// FromInts builds a 1-D tensor of class indices.
func FromInts(values []int) *Tensor {
	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}
	return &Tensor{Shape: []int{len(values)}, Data: data, Device: CPU}
}

// Randn draws standard normal samples from rng.
func Randn(rng *rand.Rand, shape []int) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t, nil
}

// Uniform draws samples from U(low, high).
func Uniform(rng *rand.Rand, shape []int, low, high float64) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = low + rng.Float64()*(high-low)
	}
	return t, nil
}
