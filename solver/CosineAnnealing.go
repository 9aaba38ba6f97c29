package solver

import (
	"fmt"
	"math"
)

// CosineAnnealing anneals the learning rate of an AdamSolver along a
// cosine curve:
//
//	eta(t) = etaMin + (etaMax - etaMin) * (1 + cos(pi*t/period)) / 2
//
// where etaMax is the solver's learning rate at construction. The
// schedule is advanced explicitly with Step. Schedule progress is not
// serialized with the solver; a restored solver restarts from etaMax.
type CosineAnnealing struct {
	solver  *AdamSolver
	initial float64
	min     float64
	period  int
	step    int
}

// NewCosineAnnealing returns a new cosine annealing schedule over the
// learning rate of solver with the given period. The learning rate is
// annealed from the solver's current learning rate to 0.
func NewCosineAnnealing(solver *AdamSolver, period int) (*CosineAnnealing,
	error) {
	if period <= 0 {
		return nil, fmt.Errorf("newcosineannealing: period must be "+
			"positive, got %v", period)
	}

	return &CosineAnnealing{
		solver:  solver,
		initial: solver.LearnRate(),
		min:     0,
		period:  period,
	}, nil
}

// Step advances the schedule by one step and updates the solver's
// learning rate
func (c *CosineAnnealing) Step() {
	c.step++
	progress := float64(c.step) / float64(c.period)
	eta := c.min + (c.initial-c.min)*(1+math.Cos(math.Pi*progress))/2
	c.solver.SetLearnRate(eta)
}

// Reset rewinds the schedule to its start and restores the solver's
// initial learning rate
func (c *CosineAnnealing) Reset() {
	c.step = 0
	c.solver.SetLearnRate(c.initial)
}
