// Package dmg implements offline-to-online training of a deterministic
// continuous-action policy against a twin action-value critic and an
// expectile-regressed state-value estimator. Critic targets blend the
// policy-based and value-based bootstraps with a mixing coefficient
// that can be annealed during the online phase.
package dmg

import (
	"fmt"

	"github.com/duxin0618/DMG/initwfn"
	"github.com/duxin0618/DMG/network"
	"github.com/duxin0618/DMG/solver"
)

// Default learning rate of all three optimizers. Loading a checkpoint
// resets the actor optimizer to this rate.
const defaultLearnRate = 3e-4

// Config implements a configuration for a DMG agent
type Config struct {
	StateDim  int     // Number of state features
	ActionDim int     // Number of action dimensions
	MaxAction float64 // Actions bounded to [-MaxAction, MaxAction]

	// Hidden layer architecture shared by the policy, the twin critic
	// towers, and the state-value estimator
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Optimizers for learning weights. All three must describe Adam
	// solvers: checkpoints persist optimizer moments, and the actor
	// optimizer additionally follows a cosine learning rate schedule.
	ActorSolver  *solver.Solver
	CriticSolver *solver.Solver
	ValueSolver  *solver.Solver

	Discount   float64 // Discount factor
	Tau        float64 // Polyak averaging constant for target nets
	PolicyFreq int     // Steps between delayed policy updates

	Expectile   float64 // Expectile of the state-value regression
	Temperature float64 // Advantage weight temperature
	MaxWeight   float64 // Advantage weight ceiling

	// Mixing coefficient λ of the policy-based bootstrap and weight ν
	// of the behaviour cloning term. Offline training uses Lambda and
	// Nu unchanged; online training anneals Lambda toward LambdaEnd
	// and Nu toward NuEnd geometrically with rate ExpDecay.
	Lambda    float64
	LambdaEnd float64
	Nu        float64
	NuEnd     float64
	ExpDecay  float64

	BatchSize    int
	MaxTimesteps int // Offline steps; sets the LR schedule period
}

// NewMujocoConfig returns a Config with the published locomotion
// hyperparameter preset.
func NewMujocoConfig(stateDim, actionDim int, maxAction float64) (Config,
	error) {
	return newConfig(stateDim, actionDim, maxAction, 0.7, 3, 3)
}

// NewAntmazeConfig returns a Config with the published antmaze
// hyperparameter preset.
func NewAntmazeConfig(stateDim, actionDim int, maxAction float64) (Config,
	error) {
	return newConfig(stateDim, actionDim, maxAction, 0.9, 10, 100)
}

func newConfig(stateDim, actionDim int, maxAction, expectile, temperature,
	maxWeight float64) (Config, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newconfig: could not create weight "+
			"initializer: %v", err)
	}

	actorSolver, err := solver.NewDefaultAdam(defaultLearnRate)
	if err != nil {
		return Config{}, fmt.Errorf("newconfig: could not create actor "+
			"solver: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(defaultLearnRate)
	if err != nil {
		return Config{}, fmt.Errorf("newconfig: could not create critic "+
			"solver: %v", err)
	}
	valueSolver, err := solver.NewDefaultAdam(defaultLearnRate)
	if err != nil {
		return Config{}, fmt.Errorf("newconfig: could not create value "+
			"solver: %v", err)
	}

	return Config{
		StateDim:     stateDim,
		ActionDim:    actionDim,
		MaxAction:    maxAction,
		HiddenSizes:  []int{256, 256},
		Biases:       []bool{true, true},
		Activations:  network.ReLUs(2),
		InitWFn:      init,
		ActorSolver:  actorSolver,
		CriticSolver: criticSolver,
		ValueSolver:  valueSolver,
		Discount:     0.99,
		Tau:          0.005,
		PolicyFreq:   2,
		Expectile:    expectile,
		Temperature:  temperature,
		MaxWeight:    maxWeight,
		Lambda:       0.25,
		LambdaEnd:    0.5,
		Nu:           0.5,
		NuEnd:        0.005,
		ExpDecay:     0.99,
		BatchSize:    256,
		MaxTimesteps: 1_000_000,
	}, nil
}

// Validate checks a Config to ensure it is a valid configuration of a
// DMG agent.
func (c Config) Validate() error {
	if c.StateDim < 1 || c.ActionDim < 1 {
		return fmt.Errorf("config: state and action dimensions must be "+
			"positive \n\thave state(%v) action(%v)", c.StateDim, c.ActionDim)
	}

	if c.MaxAction <= 0 {
		return fmt.Errorf("config: maximum action must be positive "+
			"\n\thave(%v)", c.MaxAction)
	}

	if len(c.HiddenSizes) != len(c.Biases) {
		return fmt.Errorf("config: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", len(c.HiddenSizes), len(c.Biases))
	}

	if len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("config: invalid number of activations\n\twant(%v)"+
			"\n\thave(%v)", len(c.HiddenSizes), len(c.Activations))
	}

	if c.InitWFn == nil {
		return fmt.Errorf("config: no weight initializer")
	}

	if c.ActorSolver == nil || c.CriticSolver == nil || c.ValueSolver == nil {
		return fmt.Errorf("config: all three solvers must be set")
	}

	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("config: discount must be in [0, 1] \n\thave(%v)",
			c.Discount)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("config: tau must be in (0, 1] \n\thave(%v)", c.Tau)
	}

	if c.PolicyFreq < 1 {
		return fmt.Errorf("config: policy updates must happen at positive "+
			"step intervals \n\twant(>0) \n\thave(%v)", c.PolicyFreq)
	}

	if c.Expectile <= 0 || c.Expectile >= 1 {
		return fmt.Errorf("config: expectile must be in (0, 1) \n\thave(%v)",
			c.Expectile)
	}

	if c.Temperature <= 0 {
		return fmt.Errorf("config: temperature must be positive \n\thave(%v)",
			c.Temperature)
	}

	if c.MaxWeight <= 0 {
		return fmt.Errorf("config: maximum advantage weight must be "+
			"positive \n\thave(%v)", c.MaxWeight)
	}

	if c.ExpDecay <= 0 || c.ExpDecay > 1 {
		return fmt.Errorf("config: coefficient decay rate must be in "+
			"(0, 1] \n\thave(%v)", c.ExpDecay)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch size must be positive \n\thave(%v)",
			c.BatchSize)
	}

	if c.MaxTimesteps < c.PolicyFreq {
		return fmt.Errorf("config: maximum timesteps must cover at least "+
			"one policy update \n\twant(>=%v) \n\thave(%v)", c.PolicyFreq,
			c.MaxTimesteps)
	}

	return nil
}
