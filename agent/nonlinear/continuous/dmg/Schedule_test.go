package dmg

import (
	"math"
	"testing"
)

// TestFixedSchedule ensures that a fixed schedule returns its
// construction coefficients no matter how often it is ticked.
func TestFixedSchedule(t *testing.T) {
	const lambda, nu = 0.25, 0.5

	schedule := newFixedSchedule(lambda, nu)
	for it := 1; it <= 5000; it++ {
		schedule.tick(it)
		if schedule.lambda() != lambda {
			t.Fatalf("λ changed to %v at step %v", schedule.lambda(), it)
		}
		if schedule.nu() != nu {
			t.Fatalf("ν changed to %v at step %v", schedule.nu(), it)
		}
	}

	if schedule.annealing() {
		t.Error("fixed schedule reports that it anneals")
	}
}

// TestAnnealedScheduleStart ensures an annealed schedule starts at
// exactly its start coefficients and holds them until the first decay
// boundary.
func TestAnnealedScheduleStart(t *testing.T) {
	const lambda, lambdaEnd, nu, nuEnd, decay = 0.25, 0.5, 0.5, 0.005, 0.99

	schedule := newAnnealedSchedule(lambda, lambdaEnd, nu, nuEnd, decay)
	for it := 1; it < coeffDecayInterval; it++ {
		schedule.tick(it)
		if schedule.lambda() != lambda {
			t.Fatalf("λ = %v before the first decay boundary, expected %v",
				schedule.lambda(), lambda)
		}
		if schedule.nu() != nu {
			t.Fatalf("ν = %v before the first decay boundary, expected %v",
				schedule.nu(), nu)
		}
	}

	if !schedule.annealing() {
		t.Error("annealed schedule reports that it does not anneal")
	}
}

// TestAnnealedScheduleDecay checks the coefficient values after each
// decay boundary against the closed form
//
//	λ = λEnd - (λEnd - λStart)·decayⁿ
//	ν = νEnd + (νStart - νEnd)·decayⁿ
func TestAnnealedScheduleDecay(t *testing.T) {
	const lambda, lambdaEnd, nu, nuEnd, decay = 0.25, 0.5, 0.5, 0.005, 0.99
	const boundaries = 500

	schedule := newAnnealedSchedule(lambda, lambdaEnd, nu, nuEnd, decay)
	for it := 1; it <= boundaries*coeffDecayInterval; it++ {
		schedule.tick(it)
	}

	residue := math.Pow(decay, boundaries)
	wantLambda := lambdaEnd - (lambdaEnd-lambda)*residue
	wantNu := nuEnd + (nu-nuEnd)*residue

	if math.Abs(schedule.lambda()-wantLambda) > 1e-12 {
		t.Errorf("λ = %v after %v decay boundaries, expected %v",
			schedule.lambda(), boundaries, wantLambda)
	}
	if math.Abs(schedule.nu()-wantNu) > 1e-12 {
		t.Errorf("ν = %v after %v decay boundaries, expected %v",
			schedule.nu(), boundaries, wantNu)
	}

	// Both coefficients should have moved most of the way to their
	// limits by now
	if math.Abs(schedule.lambda()-lambdaEnd) > 0.01*(lambdaEnd-lambda) {
		t.Errorf("λ = %v has not approached its limit %v", schedule.lambda(),
			lambdaEnd)
	}
	if math.Abs(schedule.nu()-nuEnd) > 0.01*(nu-nuEnd) {
		t.Errorf("ν = %v has not approached its limit %v", schedule.nu(),
			nuEnd)
	}
}

// TestExpectileWeights checks the asymmetric regression weights,
// including that an expectile of 0.5 gives uniform weights.
func TestExpectileWeights(t *testing.T) {
	diff := []float64{-1.5, -1e-9, 0, 1e-9, 2}

	weights := expectileWeights(diff, 0.7)
	want := []float64{0.3, 0.3, 0.3, 0.7, 0.7}
	for i := range want {
		if math.Abs(weights[i]-want[i]) > 1e-12 {
			t.Errorf("weight of residual %v is %v, expected %v", diff[i],
				weights[i], want[i])
		}
	}

	for _, w := range expectileWeights(diff, 0.5) {
		if w != 0.5 {
			t.Errorf("expectile 0.5 gave non-uniform weight %v", w)
		}
	}
}
