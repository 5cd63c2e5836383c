package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tsawler/go-latent/tensor"
)

// LoadCSV reads a CSV file with a header row. The column named labelColumn
// holds integer class labels; every other column is a numeric feature.
func LoadCSV(path, labelColumn string) (*TensorDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadCSV(f, labelColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses CSV records from r as LoadCSV does.
func ReadCSV(r io.Reader, labelColumn string) (*TensorDataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	labelIdx := -1
	for i, name := range header {
		if strings.TrimSpace(name) == labelColumn {
			labelIdx = i
			break
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("label column %q not found in header %v", labelColumn, header)
	}
	dim := len(header) - 1
	if dim == 0 {
		return nil, fmt.Errorf("no feature columns besides %q", labelColumn)
	}

	var features []float64
	var labels []int
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				if v < 0 || v != math.Trunc(v) {
					return nil, fmt.Errorf("line %d: label %v is not a class index", line, v)
				}
				labels = append(labels, int(v))
				continue
			}
			features = append(features, v)
		}
	}
	if len(labels) == 0 {
		return nil, ErrEmptyDataset
	}

	t, err := tensor.NewTensor([]int{len(labels), dim}, features)
	if err != nil {
		return nil, err
	}
	return NewTensorDataset(t, labels)
}
