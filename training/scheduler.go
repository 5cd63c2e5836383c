package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-latent/domain"
	"github.com/tsawler/go-latent/optimizer"
)

// LRScheduler computes the learning rate for an epoch from the base rate.
type LRScheduler interface {
	// GetLR returns the learning rate for the given 0-based epoch.
	GetLR(epoch int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// MetricScheduler is an LRScheduler that also reacts to the validation loss
// at the end of every epoch.
type MetricScheduler interface {
	LRScheduler
	Step(metric float64, currentLR float64) float64
}

// SchedulerConfig selects a scheduler by type tag.
type SchedulerConfig struct {
	Type      string  `mapstructure:"type" yaml:"type"`
	StepSize  int     `mapstructure:"step_size" yaml:"step_size"`
	Gamma     float64 `mapstructure:"gamma" yaml:"gamma"`
	TMax      int     `mapstructure:"t_max" yaml:"t_max"`
	EtaMin    float64 `mapstructure:"eta_min" yaml:"eta_min"`
	Factor    float64 `mapstructure:"factor" yaml:"factor"`
	Patience  int     `mapstructure:"patience" yaml:"patience"`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

// NewScheduler builds the scheduler named by cfg.Type: "" or "constant",
// "step", "exponential", "cosine" or "plateau".
func NewScheduler(cfg SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "constant", "none":
		return &NoOpScheduler{}, nil
	case "step", "steplr":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential", "exponentiallr":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine", "cosineannealinglr":
		return NewCosineAnnealingLRScheduler(cfg.TMax, cfg.EtaMin), nil
	case "plateau", "reducelronplateau":
		return NewReduceLROnPlateauScheduler(cfg.Factor, cfg.Patience, cfg.Threshold, "min"), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheduler %q", domain.ErrConfiguration, cfg.Type)
	}
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Epochs with no improvement before a reduction
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold <= 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Step records the epoch's metric and returns the learning rate to use next.
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	var improved bool
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.currentLR *= s.Factor
			s.badEpochs = 0
		}
	}
	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, baseLR float64) float64 {
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}

// scheduledOptimizer drives one optimizer's learning rate from a scheduler.
// Plateau schedulers are kept per optimizer since they carry state.
type scheduledOptimizer struct {
	opt       optimizer.Optimizer
	baseLR    float64
	scheduler LRScheduler
}

func newScheduledOptimizers(cfg SchedulerConfig, opts []optimizer.Optimizer) ([]*scheduledOptimizer, error) {
	out := make([]*scheduledOptimizer, 0, len(opts))
	for _, o := range opts {
		if o == nil {
			continue
		}
		s, err := NewScheduler(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, &scheduledOptimizer{opt: o, baseLR: o.GetLR(), scheduler: s})
	}
	return out, nil
}

// beginEpoch sets the learning rate for an epoch about to run.
func (s *scheduledOptimizer) beginEpoch(epoch int) {
	s.opt.SetLR(s.scheduler.GetLR(epoch, s.baseLR))
}

// endEpoch feeds the validation loss to metric-driven schedulers.
func (s *scheduledOptimizer) endEpoch(valLoss float64) {
	if m, ok := s.scheduler.(MetricScheduler); ok {
		s.opt.SetLR(m.Step(valLoss, s.opt.GetLR()))
	}
}
