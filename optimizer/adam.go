package optimizer

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-latent/tensor"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	AMSGrad      bool
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// AdamOptimizer implements Adam with optional L2 weight decay and AMSGrad
type AdamOptimizer struct {
	config     AdamConfig
	parameters []*tensor.Tensor
	m          bufferSet
	v          bufferSet
	vMax       bufferSet
	stepCount  uint64
	mutex      sync.RWMutex
}

// NewAdamOptimizer creates a new Adam optimizer over parameters
func NewAdamOptimizer(parameters []*tensor.Tensor, config AdamConfig) (*AdamOptimizer, error) {
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("adam betas must be in [0,1), got %v, %v", config.Beta1, config.Beta2)
	}
	return &AdamOptimizer{
		config:     config,
		parameters: parameters,
		m:          make(bufferSet),
		v:          make(bufferSet),
		vMax:       make(bufferSet),
	}, nil
}

// Step performs a single optimization step
func (adam *AdamOptimizer) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.stepCount++
	c := adam.config

	// Bias correction factors
	bias1 := 1.0 - math.Pow(c.Beta1, float64(adam.stepCount))
	bias2 := 1.0 - math.Pow(c.Beta2, float64(adam.stepCount))
	stepSize := c.LearningRate / bias1

	for _, param := range adam.parameters {
		if !hasGradient(param) {
			continue
		}

		grad := effectiveGradient(param, c.WeightDecay)
		m := adam.m.get(param)
		v := adam.v.get(param)

		var vMax []float64
		if c.AMSGrad {
			vMax = adam.vMax.get(param)
		}

		for i, g := range grad {
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g

			second := v[i]
			if c.AMSGrad {
				vMax[i] = math.Max(vMax[i], v[i])
				second = vMax[i]
			}
			denom := math.Sqrt(second)/math.Sqrt(bias2) + c.Epsilon
			param.Data[i] -= stepSize * m[i] / denom
		}
	}
	return nil
}

// ZeroGrad resets gradients
func (adam *AdamOptimizer) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *AdamOptimizer) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.config.LearningRate
}

// SetLR sets the learning rate
func (adam *AdamOptimizer) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.config.LearningRate = lr
}

// GetStepCount returns the current step count
func (adam *AdamOptimizer) GetStepCount() uint64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.stepCount
}
