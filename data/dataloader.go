package data

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-latent/tensor"
)

// Default batch keys.
const (
	DefaultDataKey  = "data"
	DefaultLabelKey = "label"
)

// Batch maps dataset keys to batched tensors: features as [B, d] and labels as
// a 1-D tensor of length B.
type Batch map[string]*tensor.Tensor

// Loader produces a restartable, finite sequence of batches. Next returns a
// nil batch at the end of an epoch; Reset starts a new one.
type Loader interface {
	Reset()
	Next() (Batch, error)
	DatasetLen() int
}

// DataLoader provides batching and seeded shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	dataKey   string
	labelKey  string
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. The shuffle order is drawn from a
// source seeded with seed, so two loaders built alike yield the same batches.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		dataKey:   DefaultDataKey,
		labelKey:  DefaultLabelKey,
		indices:   indices,
	}, nil
}

// WithKeys sets the batch keys features and labels are stored under.
func (dl *DataLoader) WithKeys(dataKey, labelKey string) *DataLoader {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.dataKey = dataKey
	dl.labelKey = labelKey
	return dl
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// DatasetLen returns the number of samples in the underlying dataset
func (dl *DataLoader) DatasetLen() int {
	return dl.dataset.Len()
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch stacks the samples at indices into a feature matrix and a label
// vector
func (dl *DataLoader) loadBatch(indices []int) (Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	dim := dl.dataset.Dim()
	features := make([]float64, 0, len(indices)*dim)
	labels := make([]int, len(indices))
	for i, idx := range indices {
		x, y, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if len(x) != dim {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", idx, len(x), dim)
		}
		features = append(features, x...)
		labels[i] = y
	}

	batchData, err := tensor.NewTensor([]int{len(indices), dim}, features)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}
	return Batch{
		dl.dataKey:  batchData,
		dl.labelKey: tensor.FromInts(labels),
	}, nil
}
