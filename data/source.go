package data

import (
	"fmt"
	"math"
	"math/rand"
)

// SourceConfig selects where a domain's samples come from.
type SourceConfig struct {
	Type        string          `mapstructure:"type" yaml:"type"` // csv or synthetic
	Path        string          `mapstructure:"path" yaml:"path"`
	LabelColumn string          `mapstructure:"label_column" yaml:"label_column"`
	Synthetic   SyntheticConfig `mapstructure:"synthetic" yaml:"synthetic"`
}

// FromSource loads the dataset a SourceConfig describes.
func FromSource(cfg SourceConfig) (*TensorDataset, error) {
	switch cfg.Type {
	case "csv":
		label := cfg.LabelColumn
		if label == "" {
			label = DefaultLabelKey
		}
		return LoadCSV(cfg.Path, label)
	case "synthetic", "":
		return Synthetic(cfg.Synthetic)
	default:
		return nil, fmt.Errorf("unknown data source type %q", cfg.Type)
	}
}

// SplitConfig holds the fractions of samples assigned to each phase. Test
// receives whatever train and val leave over.
type SplitConfig struct {
	Train float64 `mapstructure:"train" yaml:"train"`
	Val   float64 `mapstructure:"val" yaml:"val"`
	Seed  int64   `mapstructure:"seed" yaml:"seed"`
}

// Split partitions ds into disjoint train, val and test subsets after a
// seeded permutation.
func Split(ds Dataset, cfg SplitConfig) (train, val, test *SubsetDataset, err error) {
	if cfg.Train <= 0 || cfg.Val < 0 || cfg.Train+cfg.Val > 1 {
		return nil, nil, nil, fmt.Errorf("invalid split fractions train=%v val=%v", cfg.Train, cfg.Val)
	}

	n := ds.Len()
	perm := rand.New(rand.NewSource(cfg.Seed)).Perm(n)
	nTrain := int(math.Round(cfg.Train * float64(n)))
	nVal := int(math.Round(cfg.Val * float64(n)))
	if nTrain+nVal > n {
		nVal = n - nTrain
	}

	if train, err = NewSubsetDataset(ds, perm[:nTrain]); err != nil {
		return nil, nil, nil, err
	}
	if val, err = NewSubsetDataset(ds, perm[nTrain:nTrain+nVal]); err != nil {
		return nil, nil, nil, err
	}
	if test, err = NewSubsetDataset(ds, perm[nTrain+nVal:]); err != nil {
		return nil, nil, nil, err
	}
	return train, val, test, nil
}
