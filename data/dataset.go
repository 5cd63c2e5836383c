// Package data provides in-memory datasets, a batching loader and the dataset
// sources (CSV files and synthetic Gaussian blobs) used to feed training.
package data

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-latent/tensor"
)

// ErrEmptyDataset is returned when a source yields no samples.
var ErrEmptyDataset = errors.New("data: empty dataset")

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                               // Total number of samples
	Get(idx int) (features []float64, label int, err error) // Returns a single sample
	Dim() int                                               // Feature count per sample
}

// TensorDataset holds N samples as rows of a [N, d] feature matrix with one
// integer label per row.
type TensorDataset struct {
	features []float64
	labels   []int
	dim      int
}

// NewTensorDataset creates a dataset from a [N, d] feature tensor and N labels.
func NewTensorDataset(features *tensor.Tensor, labels []int) (*TensorDataset, error) {
	if features.Dim() != 2 {
		return nil, fmt.Errorf("features must be 2D, got shape %v", features.Shape)
	}
	if features.Shape[0] != len(labels) {
		return nil, fmt.Errorf("features and labels must have the same length: got %d and %d", features.Shape[0], len(labels))
	}
	return &TensorDataset{
		features: append([]float64(nil), features.Data...),
		labels:   append([]int(nil), labels...),
		dim:      features.Shape[1],
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *TensorDataset) Len() int {
	return len(ds.labels)
}

// Dim returns the feature count per sample
func (ds *TensorDataset) Dim() int {
	return ds.dim
}

// Get returns a sample at the given index
func (ds *TensorDataset) Get(idx int) ([]float64, int, error) {
	if idx < 0 || idx >= len(ds.labels) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.labels))
	}
	return ds.features[idx*ds.dim : (idx+1)*ds.dim], ds.labels[idx], nil
}

// NumClasses returns one more than the largest label.
func (ds *TensorDataset) NumClasses() int {
	n := 0
	for _, l := range ds.labels {
		if l+1 > n {
			n = l + 1
		}
	}
	return n
}

// SubsetDataset exposes selected samples of an underlying dataset.
type SubsetDataset struct {
	original Dataset
	indices  []int
}

// NewSubsetDataset wraps original, exposing only the samples at indices.
func NewSubsetDataset(original Dataset, indices []int) (*SubsetDataset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= original.Len() {
			return nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, original.Len())
		}
	}
	return &SubsetDataset{original: original, indices: append([]int(nil), indices...)}, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Dim returns the feature count of the underlying dataset
func (sd *SubsetDataset) Dim() int {
	return sd.original.Dim()
}

// Get returns the idx-th sample of the subset
func (sd *SubsetDataset) Get(idx int) ([]float64, int, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, 0, fmt.Errorf("index out of bounds for subset: %d (size: %d)", idx, len(sd.indices))
	}
	return sd.original.Get(sd.indices[idx])
}
