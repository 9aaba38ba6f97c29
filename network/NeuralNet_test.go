package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runForward runs a network's forward pass on input and returns the
// value of prediction head
func runForward(t *testing.T, net NeuralNet, input []float64,
	head int) []float64 {
	t.Helper()

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()

	if err := net.SetInput(input); err != nil {
		t.Fatalf("could not set input: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run forward pass: %v", err)
	}

	var data []float64
	switch v := net.Output()[head].Data().(type) {
	case []float64:
		data = v
	case float64:
		data = []float64{v}
	default:
		t.Fatalf("unexpected output type %T", v)
	}

	out := make([]float64, len(data))
	copy(out, data)
	vm.Reset()
	return out
}

// TestMLPForward checks the forward pass of a bias-free linear network
// with all weights set to 1, which reduces to summing the input.
func TestMLPForward(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(3, 2, 1, g, []int{}, []bool{}, G.Ones(),
		[]*Activation{})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	out := runForward(t, net, []float64{1, 2, 3, -1, 0.5, -2}, 0)
	want := []float64{6, -2.5}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("output %v is %v, expected %v", i, out[i], want[i])
		}
	}
}

// TestTwinMLPTowers checks that the twin network's towers share input
// but not weights: changing one tower's weights changes only that
// tower's prediction.
func TestTwinMLPTowers(t *testing.T) {
	g := G.NewGraph()
	net, err := NewTwinMLP(2, 1, 1, g, []int{}, []bool{}, G.Ones(),
		[]*Activation{})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}
	if len(net.Prediction()) != 2 {
		t.Fatalf("twin network has %v prediction heads, expected 2",
			len(net.Prediction()))
	}

	// Double the weights of the second tower only. Learnables are
	// ordered first tower then second; each tower here is a single
	// layer of weights followed by its bias.
	learnables := net.Learnables()
	doubled := tensor.New(tensor.WithShape(2, 1),
		tensor.WithBacking([]float64{2, 2}))
	if err := G.Let(learnables[2], doubled); err != nil {
		t.Fatalf("could not set second tower weights: %v", err)
	}

	input := []float64{1.5, 2.5}
	q1 := runForward(t, net, input, 0)
	q2 := runForward(t, net, input, 1)

	if math.Abs(q1[0]-4) > 1e-12 {
		t.Errorf("first tower predicts %v, expected 4", q1[0])
	}
	if math.Abs(q2[0]-8) > 1e-12 {
		t.Errorf("second tower predicts %v, expected 8", q2[0])
	}
}

// TestPolicyMLPBounded checks that policy outputs saturate at
// ±maxAction for extreme inputs.
func TestPolicyMLPBounded(t *testing.T) {
	const maxAction = 2.0

	g := G.NewGraph()
	net, err := NewPolicyMLP(1, 1, 1, maxAction, g, []int{}, []bool{},
		G.Ones(), []*Activation{})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	out := runForward(t, net, []float64{1000}, 0)
	if math.Abs(out[0]-maxAction) > 1e-9 {
		t.Errorf("saturated action is %v, expected %v", out[0], maxAction)
	}

	out = runForward(t, net, []float64{-1000}, 0)
	if math.Abs(out[0]+maxAction) > 1e-9 {
		t.Errorf("saturated action is %v, expected %v", out[0], -maxAction)
	}

	out = runForward(t, net, []float64{0.1}, 0)
	if math.Abs(out[0]) >= maxAction {
		t.Errorf("action %v for a moderate input is not strictly inside "+
			"the bound %v", out[0], maxAction)
	}
}

// TestSetNoAliasing ensures Set copies weights by value: mutating the
// source afterwards must not change the destination.
func TestSetNoAliasing(t *testing.T) {
	gSrc := G.NewGraph()
	src, err := NewMLP(2, 1, 1, gSrc, []int{3}, []bool{true}, G.Ones(),
		[]*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create source network: %v", err)
	}

	gDest := G.NewGraph()
	dest, err := NewMLP(2, 1, 1, gDest, []int{3}, []bool{true}, G.Zeroes(),
		[]*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create destination network: %v", err)
	}

	if err := Set(dest, src); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	for i, node := range dest.Learnables() {
		srcData := src.Learnables()[i].Value().Data().([]float64)
		destData := node.Value().Data().([]float64)
		for j := range destData {
			if destData[j] != srcData[j] {
				t.Fatalf("learnable %v element %v is %v, expected %v", i, j,
					destData[j], srcData[j])
			}
		}
	}

	// Overwrite the source's first learnable in place
	srcData := src.Learnables()[0].Value().Data().([]float64)
	for j := range srcData {
		srcData[j] = 100
	}
	for _, v := range dest.Learnables()[0].Value().Data().([]float64) {
		if v == 100 {
			t.Fatal("destination weights alias the source's backing memory")
		}
	}
}

// TestPolyakRecurrence checks that n Polyak updates toward a fixed
// source equal the closed-form geometric interpolation.
func TestPolyakRecurrence(t *testing.T) {
	const tau = 0.25
	const n = 4

	gSrc := G.NewGraph()
	src, err := NewMLP(2, 1, 1, gSrc, []int{3}, []bool{true}, G.Ones(),
		[]*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create source network: %v", err)
	}

	gDest := G.NewGraph()
	dest, err := NewMLP(2, 1, 1, gDest, []int{3}, []bool{true}, G.Zeroes(),
		[]*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create destination network: %v", err)
	}

	for i := 0; i < n; i++ {
		if err := Polyak(dest, src, tau); err != nil {
			t.Fatalf("polyak update %v failed: %v", i+1, err)
		}
	}

	// dest started at 0, so dest_n = src·(1 - (1-τ)ⁿ)
	factor := 1 - math.Pow(1-tau, n)
	for i, node := range dest.Learnables() {
		srcData := src.Learnables()[i].Value().Data().([]float64)
		destData := node.Value().Data().([]float64)
		for j := range destData {
			want := srcData[j] * factor
			if math.Abs(destData[j]-want) > 1e-12 {
				t.Errorf("learnable %v element %v is %v, expected %v", i, j,
					destData[j], want)
			}
		}
	}
}

// TestCloneWithBatch ensures a clone with a new batch size computes the
// same function as the original.
func TestCloneWithBatch(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(2, 4, 1, g, []int{3}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	clone, err := net.CloneWithBatch(1)
	if err != nil {
		t.Fatalf("could not clone network: %v", err)
	}
	if clone.BatchSize() != 1 {
		t.Fatalf("clone has batch size %v, expected 1", clone.BatchSize())
	}

	input := []float64{0.3, -0.7}
	batched := append(append([]float64{}, input...),
		0, 0, 0, 0, 0, 0)

	wantBatch := runForward(t, net, batched, 0)
	got := runForward(t, clone, input, 0)
	if math.Abs(got[0]-wantBatch[0]) > 1e-12 {
		t.Errorf("clone predicts %v, original predicts %v", got[0],
			wantBatch[0])
	}
}

// TestMLPGobRoundTrip encodes a network, decodes it, and checks that
// the decoded network computes the same function.
func TestMLPGobRoundTrip(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMLP(3, 1, 2, g, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	encoded, err := net.GobEncode()
	if err != nil {
		t.Fatalf("could not encode network: %v", err)
	}

	decoded := new(mlp)
	if err := decoded.GobDecode(encoded); err != nil {
		t.Fatalf("could not decode network: %v", err)
	}

	input := []float64{0.5, -1, 2}
	want := runForward(t, net, input, 0)
	got := runForward(t, decoded, input, 0)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("decoded network predicts %v, expected %v", got[i],
				want[i])
		}
	}
}

// TestTwinMLPGobRoundTrip encodes a twin network, decodes it, and
// checks that both decoded towers still serve their predictions.
func TestTwinMLPGobRoundTrip(t *testing.T) {
	g := G.NewGraph()
	net, err := NewTwinMLP(2, 1, 1, g, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	encoded, err := net.GobEncode()
	if err != nil {
		t.Fatalf("could not encode network: %v", err)
	}
	decoded := new(twinMLP)
	if err := decoded.GobDecode(encoded); err != nil {
		t.Fatalf("could not decode network: %v", err)
	}

	input := []float64{0.25, -1.5}
	for head := 0; head < 2; head++ {
		want := runForward(t, net, input, head)
		got := runForward(t, decoded, input, head)
		if got[0] != want[0] {
			t.Errorf("decoded tower %v predicts %v, expected %v", head+1,
				got[0], want[0])
		}
	}
}

// TestPolicyMLPGobRoundTrip ensures the action bound survives encoding.
func TestPolicyMLPGobRoundTrip(t *testing.T) {
	const maxAction = 1.5

	g := G.NewGraph()
	net, err := NewPolicyMLP(2, 1, 1, maxAction, g, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}

	encoded, err := net.GobEncode()
	if err != nil {
		t.Fatalf("could not encode network: %v", err)
	}
	decoded := new(policyMLP)
	if err := decoded.GobDecode(encoded); err != nil {
		t.Fatalf("could not decode network: %v", err)
	}

	if decoded.MaxAction() != maxAction {
		t.Errorf("decoded action bound is %v, expected %v",
			decoded.MaxAction(), maxAction)
	}

	input := []float64{1, -2}
	want := runForward(t, net, input, 0)
	got := runForward(t, decoded, input, 0)
	if got[0] != want[0] {
		t.Errorf("decoded network predicts %v, expected %v", got[0], want[0])
	}
}
