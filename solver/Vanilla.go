package solver

import G "gorgonia.org/gorgonia"

// VanillaConfig describes a configuration of a vanilla stochastic
// gradient descent solver
type VanillaConfig struct {
	StepSize float64
}

// NewVanilla returns a new vanilla gradient descent Solver
func NewVanilla(stepSize float64) (*Solver, error) {
	return newSolver(Vanilla, VanillaConfig{StepSize: stepSize})
}

// Create returns a new Gorgonia vanilla solver as described by the
// VanillaConfig
func (v VanillaConfig) Create() G.Solver {
	return G.NewVanillaSolver(
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(1.0),
	)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}
