package initwfn

import (
	"encoding/json"
	"math"
	"testing"

	"gorgonia.org/tensor"
)

// mustInit fails the test if a wrapped initializer could not be
// created.
func mustInit(t *testing.T) func(*InitWFn, error) *InitWFn {
	return func(w *InitWFn, err error) *InitWFn {
		t.Helper()
		if err != nil {
			t.Fatalf("could not create initializer: %v", err)
		}
		return w
	}
}

// roundTrip marshals a wrapped initializer to JSON and unmarshals it
// into a fresh wrapper, checking that the type tag survives.
func roundTrip(t *testing.T, w *InitWFn) *InitWFn {
	t.Helper()

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("could not marshal %v initializer: %v", w.Type, err)
	}

	decoded := new(InitWFn)
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("could not unmarshal %v initializer: %v", w.Type, err)
	}
	if decoded.Type != w.Type {
		t.Fatalf("decoded initializer has type %v, expected %v",
			decoded.Type, w.Type)
	}

	return decoded
}

// initValues generates a rows x cols weight matrix with the wrapped
// initializer and returns its backing data.
func initValues(t *testing.T, w *InitWFn, rows, cols int) []float64 {
	t.Helper()

	values, ok := w.InitWFn()(tensor.Float64, rows, cols).([]float64)
	if !ok {
		t.Fatalf("%v initializer did not produce float64 weights", w.Type)
	}
	if len(values) != rows*cols {
		t.Fatalf("%v initializer produced %v weights, expected %v", w.Type,
			len(values), rows*cols)
	}

	return values
}

// TestJSONRoundTripAllTypes checks that every registered initializer
// type can be marshalled to JSON, reconstructed through the registry,
// and still produce weights.
func TestJSONRoundTripAllTypes(t *testing.T) {
	wrappers := []*InitWFn{
		mustInit(t)(NewGlorotU(1.0)),
		mustInit(t)(NewGlorotN(1.0)),
		mustInit(t)(NewHeU(1.0)),
		mustInit(t)(NewHeN(1.0)),
		mustInit(t)(NewZeroes()),
		mustInit(t)(NewOnes()),
		mustInit(t)(NewConstant(-1.5)),
		mustInit(t)(NewUniform(-0.5, 0.5)),
		mustInit(t)(NewGaussian(0, 0.1)),
	}

	for _, w := range wrappers {
		decoded := roundTrip(t, w)
		for i, v := range initValues(t, decoded, 4, 3) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("%v initializer produced weight %v = %v",
					decoded.Type, i, v)
			}
		}
	}
}

// TestConstantValuesSurviveJSON checks that the deterministic
// initializers produce their exact values after a JSON round trip.
func TestConstantValuesSurviveJSON(t *testing.T) {
	const constant = 2.5

	cases := []struct {
		wrapped *InitWFn
		want    float64
	}{
		{mustInit(t)(NewZeroes()), 0},
		{mustInit(t)(NewOnes()), 1},
		{mustInit(t)(NewConstant(constant)), constant},
	}

	for _, c := range cases {
		decoded := roundTrip(t, c.wrapped)
		for i, v := range initValues(t, decoded, 2, 3) {
			if v != c.want {
				t.Errorf("%v initializer produced weight %v = %v, expected "+
					"%v", decoded.Type, i, v, c.want)
			}
		}
	}
}

// TestUniformBoundsSurviveJSON checks that the uniform initializer's
// bounds are respected after a JSON round trip.
func TestUniformBoundsSurviveJSON(t *testing.T) {
	const low, high = -0.25, 0.25

	uniform := mustInit(t)(NewUniform(low, high))

	decoded := roundTrip(t, uniform)
	for i, v := range initValues(t, decoded, 16, 16) {
		if v < low || v > high {
			t.Errorf("weight %v = %v is outside [%v, %v]", i, v, low, high)
		}
	}
}
