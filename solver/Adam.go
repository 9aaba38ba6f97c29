package solver

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AdamConfig describes a configuration of the Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Beta1    float64
	Beta2    float64
}

// NewDefaultAdam returns a new Adam Solver with default hyperparameters
func NewDefaultAdam(stepSize float64) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64) (*Solver, error) {
	adam := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
	}

	return newSolver(Adam, adam)
}

// Create returns a new Adam solver as described by the AdamConfig
func (a AdamConfig) Create() G.Solver {
	return NewAdamSolver(a)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// AdamSolver implements the Adam update rule with bias-corrected
// first and second moment estimates. Unlike the stock Gorgonia Adam
// solver it exposes its learning rate for external schedules and gob
// serializes its moment buffers, both of which the training engine
// relies on for checkpointing.
type AdamSolver struct {
	eta   float64
	eps   float64
	beta1 float64
	beta2 float64

	steps int
	m     [][]float64 // First moment estimate per learnable
	v     [][]float64 // Second moment estimate per learnable
}

// NewAdamSolver returns a new AdamSolver with the argument
// configuration
func NewAdamSolver(c AdamConfig) *AdamSolver {
	return &AdamSolver{
		eta:   c.StepSize,
		eps:   c.Epsilon,
		beta1: c.Beta1,
		beta2: c.Beta2,
	}
}

// Step updates the weights of model in the direction of their bound
// gradients. Moment buffers are allocated lazily on the first call.
func (a *AdamSolver) Step(model []G.ValueGrad) error {
	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
		for i, vg := range model {
			weights, err := valueFloats(vg.Value())
			if err != nil {
				return fmt.Errorf("step: learnable %v: %v", i, err)
			}
			a.m[i] = make([]float64, len(weights))
			a.v[i] = make([]float64, len(weights))
		}
	}
	if len(a.m) != len(model) {
		return fmt.Errorf("step: solver state tracks %v learnables but "+
			"model has %v", len(a.m), len(model))
	}

	a.steps++
	correct1 := 1 - math.Pow(a.beta1, float64(a.steps))
	correct2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for i, vg := range model {
		gradVal, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("step: could not get gradient of learnable "+
				"%v: %v", i, err)
		}

		weights, err := valueFloats(vg.Value())
		if err != nil {
			return fmt.Errorf("step: learnable %v: %v", i, err)
		}
		grad, err := valueFloats(gradVal)
		if err != nil {
			return fmt.Errorf("step: gradient of learnable %v: %v", i, err)
		}
		if len(weights) != len(a.m[i]) {
			return fmt.Errorf("step: learnable %v changed size\n\twant(%v)"+
				"\n\thave(%v)", i, len(a.m[i]), len(weights))
		}

		m, v := a.m[i], a.v[i]
		for j := range weights {
			m[j] = a.beta1*m[j] + (1-a.beta1)*grad[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*grad[j]*grad[j]

			mHat := m[j] / correct1
			vHat := v[j] / correct2
			weights[j] -= a.eta * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}

	return nil
}

// valueFloats returns the backing float64 slice of a value. Updates
// through the returned slice mutate the value in place.
func valueFloats(v G.Value) ([]float64, error) {
	if data, ok := v.Data().([]float64); ok {
		return data, nil
	}
	// Single-element tensors surface their data as a bare float64;
	// reach for the backing slice instead
	if dense, ok := v.(*tensor.Dense); ok {
		return dense.Float64s(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// LearnRate returns the current learning rate of the solver
func (a *AdamSolver) LearnRate() float64 {
	return a.eta
}

// SetLearnRate sets the learning rate of the solver. Moment estimates
// are unaffected.
func (a *AdamSolver) SetLearnRate(eta float64) {
	a.eta = eta
}

// GobEncode implements the gob.GobEncoder interface
func (a *AdamSolver) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, field := range []interface{}{
		a.eta, a.eps, a.beta1, a.beta2, a.steps, a.m, a.v,
	} {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode solver "+
				"state: %v", err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (a *AdamSolver) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	for _, field := range []interface{}{
		&a.eta, &a.eps, &a.beta1, &a.beta2, &a.steps, &a.m, &a.v,
	} {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: could not decode solver "+
				"state: %v", err)
		}
	}

	return nil
}
