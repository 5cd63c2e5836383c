package optimizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-latent/tensor"
)

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// RMSPropOptimizer implements RMSProp, optionally centered and with momentum
type RMSPropOptimizer struct {
	config     RMSPropConfig
	parameters []*tensor.Tensor
	squareAvg  bufferSet
	gradAvg    bufferSet
	momentum   bufferSet
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewRMSPropOptimizer creates a new RMSProp optimizer over parameters
func NewRMSPropOptimizer(parameters []*tensor.Tensor, config RMSPropConfig) (*RMSPropOptimizer, error) {
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("rmsprop alpha must be in [0,1), got %v", config.Alpha)
	}
	return &RMSPropOptimizer{
		config:     config,
		parameters: parameters,
		squareAvg:  make(bufferSet),
		gradAvg:    make(bufferSet),
		momentum:   make(bufferSet),
	}, nil
}

// Step performs a single optimization step
func (r *RMSPropOptimizer) Step() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.stepCount++
	c := r.config

	for _, param := range r.parameters {
		if !hasGradient(param) {
			continue
		}

		grad := effectiveGradient(param, c.WeightDecay)
		sq := r.squareAvg.get(param)

		var gAvg, buf []float64
		if c.Centered {
			gAvg = r.gradAvg.get(param)
		}
		if c.Momentum > 0 {
			buf = r.momentum.get(param)
		}

		for i, g := range grad {
			sq[i] = c.Alpha*sq[i] + (1-c.Alpha)*g*g

			variance := sq[i]
			if c.Centered {
				gAvg[i] = c.Alpha*gAvg[i] + (1-c.Alpha)*g
				variance -= gAvg[i] * gAvg[i]
			}
			avg := math.Sqrt(math.Max(variance, 0)) + c.Epsilon

			if c.Momentum > 0 {
				buf[i] = c.Momentum*buf[i] + g/avg
				param.Data[i] -= c.LearningRate * buf[i]
			} else {
				param.Data[i] -= c.LearningRate * g / avg
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients
func (r *RMSPropOptimizer) ZeroGrad() {
	tensor.ZeroGrad(r.parameters)
}

// GetLR returns the current learning rate
func (r *RMSPropOptimizer) GetLR() float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.config.LearningRate
}

// SetLR sets the learning rate
func (r *RMSPropOptimizer) SetLR(lr float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.config.LearningRate = lr
}

// GetStepCount returns the current step count
func (r *RMSPropOptimizer) GetStepCount() uint64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.stepCount
}
