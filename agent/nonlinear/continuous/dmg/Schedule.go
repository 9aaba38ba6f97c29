package dmg

// coeffDecayInterval is the number of training steps between decay
// updates of an annealed schedule
const coeffDecayInterval = 1000

// coefficientSchedule produces the mixing coefficient λ of the
// policy-based bootstrap and the behaviour cloning weight ν for the
// current training step. Schedules are ticked exactly once per step,
// before the coefficients are read.
type coefficientSchedule interface {
	tick(totalIt int)
	lambda() float64
	nu() float64

	// annealing returns whether the schedule's coefficients change
	// over time
	annealing() bool
}

// fixedSchedule returns its construction coefficients forever. Used
// during offline training.
type fixedSchedule struct {
	lam float64
	n   float64
}

func newFixedSchedule(lambda, nu float64) *fixedSchedule {
	return &fixedSchedule{lam: lambda, n: nu}
}

func (f *fixedSchedule) tick(int) {}

func (f *fixedSchedule) lambda() float64 { return f.lam }

func (f *fixedSchedule) nu() float64 { return f.n }

func (f *fixedSchedule) annealing() bool { return false }

// annealedSchedule interpolates both coefficients geometrically from
// their start values toward their end values. Every coeffDecayInterval
// ticks the interpolation residue is multiplied by expDecay, so that
//
//	λ = λEnd - (λEnd - λStart)·decay
//	ν = νEnd + (νStart - νEnd)·decay
//
// with decay starting at exactly 1. Used during online training.
type annealedSchedule struct {
	lambdaStart float64
	lambdaEnd   float64
	nuStart     float64
	nuEnd       float64

	expDecay float64
	decay    float64
}

func newAnnealedSchedule(lambda, lambdaEnd, nu, nuEnd,
	expDecay float64) *annealedSchedule {
	return &annealedSchedule{
		lambdaStart: lambda,
		lambdaEnd:   lambdaEnd,
		nuStart:     nu,
		nuEnd:       nuEnd,
		expDecay:    expDecay,
		decay:       1,
	}
}

func (a *annealedSchedule) tick(totalIt int) {
	if totalIt%coeffDecayInterval == 0 {
		a.decay *= a.expDecay
	}
}

func (a *annealedSchedule) lambda() float64 {
	return a.lambdaEnd - (a.lambdaEnd-a.lambdaStart)*a.decay
}

func (a *annealedSchedule) nu() float64 {
	return a.nuEnd + (a.nuStart-a.nuEnd)*a.decay
}

func (a *annealedSchedule) annealing() bool { return true }
