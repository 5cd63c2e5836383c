package domain

import (
	"fmt"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/loss"
	"github.com/tsawler/go-latent/models"
	"github.com/tsawler/go-latent/optimizer"
)

// DomainSpec declares a domain by type tags, as read from an experiment file.
type DomainSpec struct {
	Name      string           `mapstructure:"name" yaml:"name"`
	Model     models.Config    `mapstructure:"model" yaml:"model"`
	Optimizer optimizer.Config `mapstructure:"optimizer" yaml:"optimizer"`
	ReconLoss loss.Config      `mapstructure:"recon_loss" yaml:"recon_loss"`
	// Frozen keeps the autoencoder's weights fixed during training.
	Frozen              bool   `mapstructure:"frozen" yaml:"frozen"`
	SuperviseComponents bool   `mapstructure:"supervise_components" yaml:"supervise_components"`
	DataKey             string `mapstructure:"data_key" yaml:"data_key"`
	LabelKey            string `mapstructure:"label_key" yaml:"label_key"`
}

// LatentSpec declares a latent discriminator or classifier.
type LatentSpec struct {
	Model     models.Config    `mapstructure:"model" yaml:"model"`
	Optimizer optimizer.Config `mapstructure:"optimizer" yaml:"optimizer"`
	Loss      loss.Config      `mapstructure:"loss" yaml:"loss"`
}

// NewDomainConfig builds the model, an optimizer bound to its parameters and
// the reconstruction loss. Unknown type tags fail with ErrConfiguration.
func NewDomainConfig(spec DomainSpec, loaders map[Phase]data.Loader) (*DomainConfig, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: domain name is required", ErrConfiguration)
	}
	if _, ok := loaders[PhaseTrain]; !ok {
		return nil, fmt.Errorf("%w: domain %q has no train loader", ErrConfiguration, spec.Name)
	}
	if _, ok := loaders[PhaseVal]; !ok {
		return nil, fmt.Errorf("%w: domain %q has no val loader", ErrConfiguration, spec.Name)
	}

	model, err := models.NewAutoencoder(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: domain %q model: %w", ErrConfiguration, spec.Name, err)
	}
	opt, err := optimizer.New(spec.Optimizer, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("%w: domain %q optimizer: %w", ErrConfiguration, spec.Name, err)
	}
	recon, err := loss.New(spec.ReconLoss)
	if err != nil {
		return nil, fmt.Errorf("%w: domain %q recon loss: %w", ErrConfiguration, spec.Name, err)
	}

	mc := NewDomainModelConfig(model, opt, recon, !spec.Frozen)
	mc.SuperviseComponents = spec.SuperviseComponents

	return &DomainConfig{
		Name:        spec.Name,
		ModelConfig: mc,
		Loaders:     loaders,
		DataKey:     orDefault(spec.DataKey, data.DefaultDataKey),
		LabelKey:    orDefault(spec.LabelKey, data.DefaultLabelKey),
	}, nil
}

// NewLatentModelConfig builds a latent model, its optimizer and its loss. The
// loss defaults to cross-entropy with one unit weight per model class.
func NewLatentModelConfig(spec LatentSpec) (*LatentModelConfig, error) {
	model, err := models.NewLatentModel(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: latent model: %w", ErrConfiguration, err)
	}
	opt, err := optimizer.New(spec.Optimizer, model.Parameters())
	if err != nil {
		return nil, fmt.Errorf("%w: latent optimizer: %w", ErrConfiguration, err)
	}

	lc := spec.Loss
	if lc.Type == "" {
		lc.Type = "ce"
	}
	if lc.NClasses == 0 && len(lc.Weights) == 0 {
		if nc, ok := model.(interface{ NClasses() int }); ok {
			lc.NClasses = nc.NClasses()
		}
	}
	fn, err := loss.New(lc)
	if err != nil {
		return nil, fmt.Errorf("%w: latent loss: %w", ErrConfiguration, err)
	}
	return &LatentModelConfig{Model: model, Optimizer: opt, Loss: fn}, nil
}

// LoaderConfig describes how a domain's dataset is split and batched.
type LoaderConfig struct {
	BatchSize int              `mapstructure:"batch_size" yaml:"batch_size"`
	Shuffle   bool             `mapstructure:"shuffle" yaml:"shuffle"`
	Seed      int64            `mapstructure:"seed" yaml:"seed"`
	Split     data.SplitConfig `mapstructure:"split" yaml:"split"`
}

// BuildLoaders splits ds and wraps each part in a DataLoader keyed by phase.
// Only the train loader shuffles; an empty test split is left out.
func BuildLoaders(ds data.Dataset, cfg LoaderConfig, dataKey, labelKey string) (map[Phase]data.Loader, error) {
	train, val, test, err := data.Split(ds, cfg.Split)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if train.Len() == 0 || val.Len() == 0 {
		return nil, fmt.Errorf("%w: split leaves %d train and %d val samples", ErrConfiguration, train.Len(), val.Len())
	}

	dataKey = orDefault(dataKey, data.DefaultDataKey)
	labelKey = orDefault(labelKey, data.DefaultLabelKey)
	loaders := make(map[Phase]data.Loader, 3)
	parts := []struct {
		phase   Phase
		ds      *data.SubsetDataset
		shuffle bool
	}{
		{PhaseTrain, train, cfg.Shuffle},
		{PhaseVal, val, false},
		{PhaseTest, test, false},
	}
	for i, p := range parts {
		if p.ds.Len() == 0 {
			continue
		}
		dl, err := data.NewDataLoader(p.ds, cfg.BatchSize, p.shuffle, cfg.Seed+int64(i))
		if err != nil {
			return nil, fmt.Errorf("%w: %s loader: %w", ErrConfiguration, p.phase, err)
		}
		loaders[p.phase] = dl.WithKeys(dataKey, labelKey)
	}
	return loaders, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
