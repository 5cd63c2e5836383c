package data

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-latent/tensor"
)

// SyntheticConfig describes Gaussian blobs, one per class. Class c is centered
// at Separation along axis c mod Dim; Offset shifts every center, so two
// domains built with different offsets share labels but not coordinates.
type SyntheticConfig struct {
	NSamples   int     `mapstructure:"n_samples" yaml:"n_samples"`
	NClasses   int     `mapstructure:"n_classes" yaml:"n_classes"`
	Dim        int     `mapstructure:"dim" yaml:"dim"`
	Separation float64 `mapstructure:"separation" yaml:"separation"`
	Std        float64 `mapstructure:"std" yaml:"std"`
	Offset     float64 `mapstructure:"offset" yaml:"offset"`
	Seed       int64   `mapstructure:"seed" yaml:"seed"`
}

// Synthetic draws a labeled blob dataset. Labels cycle through the classes so
// every class is equally represented.
func Synthetic(cfg SyntheticConfig) (*TensorDataset, error) {
	if cfg.NSamples <= 0 {
		return nil, ErrEmptyDataset
	}
	if cfg.NClasses <= 0 || cfg.Dim <= 0 {
		return nil, fmt.Errorf("synthetic: classes and dim must be positive, got %d and %d", cfg.NClasses, cfg.Dim)
	}
	std := cfg.Std
	if std == 0 {
		std = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	features := make([]float64, cfg.NSamples*cfg.Dim)
	labels := make([]int, cfg.NSamples)
	for i := range labels {
		c := i % cfg.NClasses
		labels[i] = c
		row := features[i*cfg.Dim : (i+1)*cfg.Dim]
		for k := range row {
			center := cfg.Offset
			if k == c%cfg.Dim {
				center += cfg.Separation
			}
			row[k] = center + std*rng.NormFloat64()
		}
	}

	t, err := tensor.NewTensor([]int{cfg.NSamples, cfg.Dim}, features)
	if err != nil {
		return nil, err
	}
	return NewTensorDataset(t, labels)
}
