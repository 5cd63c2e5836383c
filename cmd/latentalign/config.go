package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tsawler/go-latent/data"
	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/training"
)

const envPrefix = "LATENTALIGN"

// Experiment is the YAML experiment file.
type Experiment struct {
	Name      string              `mapstructure:"name"`
	LogLevel  string              `mapstructure:"log_level"`
	Domains   []DomainEntry       `mapstructure:"domains"`
	DCM       domain.LatentSpec   `mapstructure:"dcm"`
	CLF       domain.LatentSpec   `mapstructure:"clf"`
	Train     training.LoopConfig `mapstructure:"train"`
	HistoryDB string              `mapstructure:"history_db"`
	Plotting  PlottingConfig      `mapstructure:"plotting"`
}

// DomainEntry is a domain's model declaration plus where its data comes from.
type DomainEntry struct {
	domain.DomainSpec `mapstructure:",squash"`
	Data              data.SourceConfig   `mapstructure:"data"`
	Loader            domain.LoaderConfig `mapstructure:"loader"`
}

// PlottingConfig enables the plotting sidecar as the run's visualizer.
type PlottingConfig struct {
	Enabled                        bool `mapstructure:"enabled"`
	training.PlottingServiceConfig `mapstructure:",squash"`
}

func defaultExperiment() Experiment {
	return Experiment{
		Name:     "latentalign",
		LogLevel: "info",
		Train:    training.DefaultLoopConfig(),
		Plotting: PlottingConfig{PlottingServiceConfig: training.DefaultPlottingServiceConfig()},
	}
}

// setDefaults registers the scalar keys so that environment variables such
// as LATENTALIGN_TRAIN_NUM_EPOCHS can override them.
func setDefaults(v *viper.Viper, exp Experiment) {
	v.SetDefault("name", exp.Name)
	v.SetDefault("log_level", exp.LogLevel)
	v.SetDefault("history_db", exp.HistoryDB)

	t := exp.Train
	v.SetDefault("train.output_dir", t.OutputDir)
	v.SetDefault("train.alpha", t.Alpha)
	v.SetDefault("train.beta", t.Beta)
	v.SetDefault("train.lamb", t.Lambda)
	v.SetDefault("train.use_dcm", t.UseDCM)
	v.SetDefault("train.use_clf", t.UseCLF)
	v.SetDefault("train.num_epochs", t.NumEpochs)
	v.SetDefault("train.save_freq", t.SaveFreq)
	v.SetDefault("train.early_stopping", t.EarlyStopping)
	v.SetDefault("train.device", t.Device)
	v.SetDefault("train.scheduler.type", t.Scheduler.Type)

	p := exp.Plotting
	v.SetDefault("plotting.enabled", p.Enabled)
	v.SetDefault("plotting.base_url", p.BaseURL)
	v.SetDefault("plotting.timeout", p.Timeout)
	v.SetDefault("plotting.retry_attempts", p.RetryAttempts)
	v.SetDefault("plotting.retry_delay", p.RetryDelay)
	v.SetDefault("plotting.save_json", p.SaveJSON)
}

// loadExperiment reads an optional .env file, then the experiment file at
// path with LATENTALIGN_* environment overrides.
func loadExperiment(path string) (*Experiment, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no experiment file, use --config or %s_CONFIG", domain.ErrConfiguration, envPrefix)
	}

	exp := defaultExperiment()
	v := viper.New()
	setDefaults(v, exp)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
	}
	if err := v.Unmarshal(&exp); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrConfiguration, path, err)
	}
	if len(exp.Domains) == 0 {
		return nil, fmt.Errorf("%w: %s declares no domains", domain.ErrConfiguration, path)
	}
	for i := range exp.Domains {
		applyLoaderDefaults(&exp.Domains[i].Loader)
	}
	return &exp, nil
}

func applyLoaderDefaults(lc *domain.LoaderConfig) {
	if lc.BatchSize <= 0 {
		lc.BatchSize = 64
	}
	if lc.Split.Train == 0 && lc.Split.Val == 0 {
		lc.Split.Train = 0.8
		lc.Split.Val = 0.1
	}
}

// hasClassifier reports whether the experiment declares a latent classifier.
func (e *Experiment) hasClassifier() bool {
	return e.CLF.Model.Type != ""
}
