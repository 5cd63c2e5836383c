package optimizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tsawler/go-latent/tensor"
)

// ErrUnknownOptimizer is returned by New for an unrecognized optimizer type.
var ErrUnknownOptimizer = errors.New("optimizer: unknown optimizer type")

// Optimizer defines the common interface for all optimizers. An optimizer is
// bound to its parameters at construction and only ever mutates those.
type Optimizer interface {
	// Step updates every bound parameter that has a gradient
	Step() error

	// ZeroGrad resets gradients of all bound parameters
	ZeroGrad()

	GetLR() float64
	SetLR(lr float64)

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64
}

// Config selects an optimizer by type tag. Fields that do not apply to the
// chosen type are ignored; zero values fall back to the type's defaults.
type Config struct {
	Type         string  `mapstructure:"type" yaml:"type"`
	LearningRate float64 `mapstructure:"lr" yaml:"lr"`
	Beta1        float64 `mapstructure:"beta1" yaml:"beta1"`
	Beta2        float64 `mapstructure:"beta2" yaml:"beta2"`
	Alpha        float64 `mapstructure:"alpha" yaml:"alpha"`
	Epsilon      float64 `mapstructure:"eps" yaml:"eps"`
	WeightDecay  float64 `mapstructure:"weight_decay" yaml:"weight_decay"`
	Momentum     float64 `mapstructure:"momentum" yaml:"momentum"`
	Dampening    float64 `mapstructure:"dampening" yaml:"dampening"`
	Nesterov     bool    `mapstructure:"nesterov" yaml:"nesterov"`
	Centered     bool    `mapstructure:"centered" yaml:"centered"`
	AMSGrad      bool    `mapstructure:"amsgrad" yaml:"amsgrad"`
}

// New builds the optimizer named by cfg.Type ("adam", "rmsprop" or "sgd")
// over params.
func New(cfg Config, params []*tensor.Tensor) (Optimizer, error) {
	if cfg.LearningRate < 0 || cfg.WeightDecay < 0 || cfg.Momentum < 0 {
		return nil, fmt.Errorf("optimizer %q: learning rate, weight decay and momentum must be non-negative", cfg.Type)
	}

	switch strings.ToLower(cfg.Type) {
	case "adam":
		c := DefaultAdamConfig()
		setIfNonZero(&c.LearningRate, cfg.LearningRate)
		setIfNonZero(&c.Beta1, cfg.Beta1)
		setIfNonZero(&c.Beta2, cfg.Beta2)
		setIfNonZero(&c.Epsilon, cfg.Epsilon)
		c.WeightDecay = cfg.WeightDecay
		c.AMSGrad = cfg.AMSGrad
		return NewAdamOptimizer(params, c)
	case "rmsprop":
		c := DefaultRMSPropConfig()
		setIfNonZero(&c.LearningRate, cfg.LearningRate)
		setIfNonZero(&c.Alpha, cfg.Alpha)
		setIfNonZero(&c.Epsilon, cfg.Epsilon)
		c.WeightDecay = cfg.WeightDecay
		c.Momentum = cfg.Momentum
		c.Centered = cfg.Centered
		return NewRMSPropOptimizer(params, c)
	case "sgd":
		c := DefaultSGDConfig()
		setIfNonZero(&c.LearningRate, cfg.LearningRate)
		c.Momentum = cfg.Momentum
		c.Dampening = cfg.Dampening
		c.Nesterov = cfg.Nesterov
		c.WeightDecay = cfg.WeightDecay
		return NewSGDOptimizer(params, c)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, cfg.Type)
	}
}

func setIfNonZero(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}
