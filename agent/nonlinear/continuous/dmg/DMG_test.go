package dmg

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/duxin0618/DMG/expreplay"
	"github.com/duxin0618/DMG/network"
	"github.com/duxin0618/DMG/utils/floatutils"
)

const (
	testStateDim  = 3
	testActionDim = 1
	testMaxAction = 1.0
)

// newTestAgent returns a small agent over a buffer of random
// transitions. Network sizes are kept small so the tests stay fast.
func newTestAgent(t *testing.T) *DMG {
	t.Helper()

	config, err := NewMujocoConfig(testStateDim, testActionDim,
		testMaxAction)
	if err != nil {
		t.Fatalf("could not create config: %v", err)
	}
	config.HiddenSizes = []int{8, 8}
	config.Biases = []bool{true, true}
	config.Activations = network.ReLUs(2)
	config.BatchSize = 4
	config.MaxTimesteps = 1000

	buffer, err := expreplay.New(testStateDim, testActionDim, 32, 1)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 16; i++ {
		state := randomVec(rng, testStateDim, 2)
		nextState := randomVec(rng, testStateDim, 2)
		action := randomVec(rng, testActionDim, testMaxAction)

		notDone := 1.0
		if i%8 == 7 {
			notDone = 0
		}
		err := buffer.Add(state, action, nextState, rng.NormFloat64(),
			notDone)
		if err != nil {
			t.Fatalf("could not add transition %v: %v", i, err)
		}
	}

	agent, err := New(config, buffer, nil, 3)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	return agent
}

// randomVec returns a vector with components uniform in [-bound, bound]
func randomVec(rng *rand.Rand, dim int, bound float64) *mat.VecDense {
	data := make([]float64, dim)
	for i := range data {
		data[i] = bound * (2*rng.Float64() - 1)
	}
	return mat.NewVecDense(dim, data)
}

// weightSnapshot copies the current weights of every learnable of a
// network
func weightSnapshot(net network.NeuralNet) [][]float64 {
	var out [][]float64
	for _, node := range net.Learnables() {
		data := node.Value().Data().([]float64)
		weights := make([]float64, len(data))
		copy(weights, data)
		out = append(out, weights)
	}
	return out
}

// zeroWeights sets every learnable of a network to zero in place
func zeroWeights(t *testing.T, net network.NeuralNet) {
	t.Helper()
	for _, node := range net.Learnables() {
		shape := node.Shape()
		zero := tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(make([]float64, shape.TotalSize())))
		if err := G.Let(node, zero); err != nil {
			t.Fatalf("could not zero weights of %v: %v", node.Name(), err)
		}
	}
}

func snapshotsEqual(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

// TestTrainOffline runs a few offline steps and checks the step
// bookkeeping.
func TestTrainOffline(t *testing.T) {
	agent := newTestAgent(t)

	for i := 0; i < 4; i++ {
		if err := agent.TrainOffline(); err != nil {
			t.Fatalf("step %v failed: %v", i+1, err)
		}
	}

	if agent.TotalIt() != 4 {
		t.Errorf("agent counted %v steps, expected 4", agent.TotalIt())
	}
}

// TestTrainOnline runs a few online steps
func TestTrainOnline(t *testing.T) {
	agent := newTestAgent(t)

	for i := 0; i < 4; i++ {
		if err := agent.TrainOnline(); err != nil {
			t.Fatalf("step %v failed: %v", i+1, err)
		}
	}

	if agent.TotalIt() != 4 {
		t.Errorf("agent counted %v steps, expected 4", agent.TotalIt())
	}
}

// TestSelectActionBounded ensures actions stay within
// [-MaxAction, MaxAction] in every dimension for arbitrary states.
func TestSelectActionBounded(t *testing.T) {
	agent := newTestAgent(t)
	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 20; i++ {
		// Include states far outside of the training distribution
		state := randomVec(rng, testStateDim, 100)

		action, err := agent.SelectAction(state)
		if err != nil {
			t.Fatalf("could not select action: %v", err)
		}
		if action.Len() != testActionDim {
			t.Fatalf("action has %v dimensions, expected %v", action.Len(),
				testActionDim)
		}
		for j := 0; j < action.Len(); j++ {
			if math.Abs(action.AtVec(j)) > testMaxAction {
				t.Errorf("action component %v = %v outside of [-%v, %v]",
					j, action.AtVec(j), testMaxAction, testMaxAction)
			}
		}
	}
}

// TestDelayedPolicyUpdates ensures the policy and both target networks
// only move on delayed update steps.
func TestDelayedPolicyUpdates(t *testing.T) {
	agent := newTestAgent(t)

	actorBefore := weightSnapshot(agent.actor)
	targetActorBefore := weightSnapshot(agent.targetActor)
	targetCriticBefore := weightSnapshot(agent.targetCritic)

	// Step 1 of 2: value and critic update, policy and targets do not
	if err := agent.TrainOffline(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if !snapshotsEqual(actorBefore, weightSnapshot(agent.actor)) {
		t.Error("policy weights moved on a non-delayed step")
	}
	if !snapshotsEqual(targetActorBefore, weightSnapshot(agent.targetActor)) {
		t.Error("target policy weights moved on a non-delayed step")
	}
	if !snapshotsEqual(targetCriticBefore,
		weightSnapshot(agent.targetCritic)) {
		t.Error("target critic weights moved on a non-delayed step")
	}

	// Step 2 of 2: the delayed update fires
	if err := agent.TrainOffline(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if snapshotsEqual(actorBefore, weightSnapshot(agent.actor)) {
		t.Error("policy weights did not move on a delayed step")
	}
	if snapshotsEqual(targetActorBefore, weightSnapshot(agent.targetActor)) {
		t.Error("target policy weights did not move on a delayed step")
	}
	if snapshotsEqual(targetCriticBefore,
		weightSnapshot(agent.targetCritic)) {
		t.Error("target critic weights did not move on a delayed step")
	}
}

// TestPolyakTargetUpdate checks that a target network moves by a
// τ-scaled amount toward its source on a delayed update.
func TestPolyakTargetUpdate(t *testing.T) {
	agent := newTestAgent(t)
	tau := agent.config.Tau

	targetBefore := weightSnapshot(agent.targetCritic)

	for i := 0; i < agent.config.PolicyFreq; i++ {
		if err := agent.TrainOffline(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	// After the delayed update: target = τ·critic + (1-τ)·target,
	// with the critic's post-update weights
	critic := weightSnapshot(agent.critic)
	targetAfter := weightSnapshot(agent.targetCritic)

	for i := range targetAfter {
		for j := range targetAfter[i] {
			want := tau*critic[i][j] + (1-tau)*targetBefore[i][j]
			if math.Abs(targetAfter[i][j]-want) > 1e-12 {
				t.Fatalf("target weight (%v, %v) is %v, expected %v",
					i, j, targetAfter[i][j], want)
			}
		}
	}
}

// TestActorGraphTwinMin checks that the symbolic twin minimum inside
// the policy graph agrees elementwise with the embedded critic's two
// tower predictions from the same run.
func TestActorGraphTwinMin(t *testing.T) {
	agent := newTestAgent(t)

	// Enough steps to trigger one delayed policy update, which runs
	// the policy graph and populates its read values
	for i := 0; i < agent.config.PolicyFreq; i++ {
		if err := agent.TrainOffline(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	q1 := floatsFromValue(agent.actorCritic.Output()[0])
	q2 := floatsFromValue(agent.actorCritic.Output()[1])
	vmin := floatsFromValue(agent.actorVminVal)

	if len(vmin) != agent.config.BatchSize {
		t.Fatalf("twin minimum has %v elements, expected %v", len(vmin),
			agent.config.BatchSize)
	}
	for i := range vmin {
		want := floatutils.Min(q1[i], q2[i])
		if math.Abs(vmin[i]-want) > 1e-12 {
			t.Errorf("twin minimum element %v is %v, expected min(%v, %v)",
				i, vmin[i], q1[i], q2[i])
		}
	}
}

// TestDegenerateLossScale ensures the policy update rejects a critic
// whose action values vanish everywhere instead of dividing by a zero
// loss normalizer.
func TestDegenerateLossScale(t *testing.T) {
	agent := newTestAgent(t)
	zeroWeights(t, agent.critic)

	c := agent.config
	rng := rand.New(rand.NewSource(5))
	state := make([]float64, c.BatchSize*c.StateDim)
	for i := range state {
		state[i] = rng.NormFloat64()
	}
	action := make([]float64, c.BatchSize*c.ActionDim)
	for i := range action {
		action[i] = floatutils.Clip(rng.NormFloat64(), -c.MaxAction,
			c.MaxAction)
	}

	err := agent.updatePolicy(state, action, c.Nu, false,
		agent.offlineCoeffs, c.Lambda)
	if !errors.Is(err, errDegenerateScale) {
		t.Errorf("policy update returned %v, expected %v", err,
			errDegenerateScale)
	}
}

// TestCheckpointRoundTrip saves an agent mid-training, trains further,
// restores the checkpoint and checks that the restored agent behaves
// identically to the saved one with its learning rate reset.
func TestCheckpointRoundTrip(t *testing.T) {
	agent := newTestAgent(t)
	dir := t.TempDir()

	for i := 0; i < 4; i++ {
		if err := agent.TrainOffline(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	probe := mat.NewVecDense(testStateDim, []float64{0.1, -0.2, 0.3})
	saved, err := agent.SelectAction(probe)
	if err != nil {
		t.Fatalf("could not select action: %v", err)
	}

	if err := agent.Save(dir); err != nil {
		t.Fatalf("could not save agent: %v", err)
	}
	savedStep := agent.TotalIt()

	for i := 0; i < 4; i++ {
		if err := agent.TrainOffline(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}

	if err := agent.Load(dir, savedStep); err != nil {
		t.Fatalf("could not load agent: %v", err)
	}

	if agent.TotalIt() != savedStep {
		t.Errorf("restored agent counts %v steps, expected %v",
			agent.TotalIt(), savedStep)
	}
	if agent.actorSolver.LearnRate() != defaultLearnRate {
		t.Errorf("restored actor learning rate is %v, expected %v",
			agent.actorSolver.LearnRate(), defaultLearnRate)
	}

	restored, err := agent.SelectAction(probe)
	if err != nil {
		t.Fatalf("could not select action: %v", err)
	}
	for i := 0; i < restored.Len(); i++ {
		if restored.AtVec(i) != saved.AtVec(i) {
			t.Errorf("restored action component %v is %v, expected %v",
				i, restored.AtVec(i), saved.AtVec(i))
		}
	}
}

// TestNewValidatesDimensions ensures construction fails when the
// buffer's dimensions disagree with the configuration.
func TestNewValidatesDimensions(t *testing.T) {
	config, err := NewMujocoConfig(testStateDim, testActionDim,
		testMaxAction)
	if err != nil {
		t.Fatalf("could not create config: %v", err)
	}
	config.HiddenSizes = []int{8}
	config.Biases = []bool{true}
	config.Activations = network.ReLUs(1)
	config.BatchSize = 4

	buffer, err := expreplay.New(testStateDim+1, testActionDim, 8, 1)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	if _, err := New(config, buffer, nil, 1); err == nil {
		t.Error("constructing an agent over a mismatched buffer succeeded")
	}
}
