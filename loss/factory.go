package loss

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLoss is returned by New for an unrecognized loss type.
var ErrUnknownLoss = errors.New("loss: unknown loss type")

// Config selects a loss function by type tag
type Config struct {
	Type      string    `mapstructure:"type" yaml:"type"`
	Reduction Reduction `mapstructure:"reduction" yaml:"reduction"`
	// Weights are per-class weights for "ce". When empty, NClasses unit
	// weights are used; with NClasses also unset the loss is unweighted.
	Weights  []float64 `mapstructure:"weights" yaml:"weights"`
	NClasses int       `mapstructure:"n_classes" yaml:"n_classes"`
}

// New builds the loss function named by cfg.Type: "mae" (or "l1"), "mse",
// "bce" or "ce".
func New(cfg Config) (Function, error) {
	switch strings.ToLower(cfg.Type) {
	case "mae", "l1":
		return NewL1Loss(cfg.Reduction), nil
	case "mse":
		return NewMSELoss(cfg.Reduction), nil
	case "bce":
		return NewBCELoss(cfg.Reduction), nil
	case "ce":
		weights := cfg.Weights
		if len(weights) == 0 && cfg.NClasses > 0 {
			weights = make([]float64, cfg.NClasses)
			for i := range weights {
				weights[i] = 1
			}
		}
		if cfg.NClasses > 0 && len(weights) != cfg.NClasses {
			return nil, fmt.Errorf("ce loss: %d weights for %d classes", len(weights), cfg.NClasses)
		}
		return NewCrossEntropyLoss(weights), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoss, cfg.Type)
	}
}
