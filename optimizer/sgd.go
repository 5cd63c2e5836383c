package optimizer

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-latent/tensor"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	Nesterov     bool
	WeightDecay  float64
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
	}
}

// SGDOptimizer implements Stochastic Gradient Descent with optional momentum
type SGDOptimizer struct {
	config     SGDConfig
	parameters []*tensor.Tensor
	velocities bufferSet
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewSGDOptimizer creates a new SGD optimizer over parameters
func NewSGDOptimizer(parameters []*tensor.Tensor, config SGDConfig) (*SGDOptimizer, error) {
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires a momentum and zero dampening")
	}
	return &SGDOptimizer{
		config:     config,
		parameters: parameters,
		velocities: make(bufferSet),
	}, nil
}

// Step performs a single optimization step
func (sgd *SGDOptimizer) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	sgd.stepCount++
	c := sgd.config

	for _, param := range sgd.parameters {
		if !hasGradient(param) {
			continue
		}

		grad := effectiveGradient(param, c.WeightDecay)
		if c.Momentum == 0 {
			for i, g := range grad {
				param.Data[i] -= c.LearningRate * g
			}
			continue
		}

		_, seen := sgd.velocities[param]
		buf := sgd.velocities.get(param)
		for i, g := range grad {
			if !seen {
				buf[i] = g
			} else {
				buf[i] = c.Momentum*buf[i] + (1-c.Dampening)*g
			}
			update := buf[i]
			if c.Nesterov {
				update = g + c.Momentum*buf[i]
			}
			param.Data[i] -= c.LearningRate * update
		}
	}
	return nil
}

// ZeroGrad resets gradients
func (sgd *SGDOptimizer) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGDOptimizer) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.config.LearningRate
}

// SetLR sets the learning rate
func (sgd *SGDOptimizer) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.config.LearningRate = lr
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizer) GetStepCount() uint64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.stepCount
}
