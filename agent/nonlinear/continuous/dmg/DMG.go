package dmg

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/duxin0618/DMG/experiment/checkpointer"
	"github.com/duxin0618/DMG/experiment/tracker"
	"github.com/duxin0618/DMG/expreplay"
	"github.com/duxin0618/DMG/network"
	"github.com/duxin0618/DMG/solver"
	"github.com/duxin0618/DMG/utils/floatutils"
)

const (
	// Target policy smoothing: standard deviation of the Gaussian
	// noise added to target actions and the symmetric bound it is
	// clipped to before clamping the action itself
	policyNoise = 0.2
	noiseClip   = 0.5

	// Steps between scalar metric emissions
	writeInterval = 10000
)

var errDegenerateScale = fmt.Errorf("actor loss scale is degenerate: " +
	"mean absolute action value is 0")

// DMG implements an offline-to-online actor-critic agent. A
// deterministic bounded policy is trained against a twin action-value
// critic whose bootstrap targets blend a policy-based estimate with an
// expectile-regressed state-value estimate.
//
// Five parameter sets are held: the policy, the twin critic, the
// state-value estimator, and Polyak-averaged targets of the policy and
// critic. The state-value estimator deliberately has no target copy.
// Each training step updates the value estimator, then the critic, and
// every PolicyFreq steps the policy together with both targets.
type DMG struct {
	config Config

	// Training graphs, one per loss
	value    network.NeuralNet
	valueVM  G.VM
	critic   network.NeuralNet
	criticVM G.VM
	actor    network.NeuralNet
	actorVM  G.VM

	// Critic clone embedded in the actor graph, wired to
	// concat(state, π(state)) so that the policy gradient flows
	// through the critic's forward pass. Its weights are synced from
	// the trained critic before every policy update.
	actorCritic network.NeuralNet

	// Forward-only target copies on their own graphs
	targetActor    network.NeuralNet
	targetActorVM  G.VM
	targetCritic   network.NeuralNet
	targetCriticVM G.VM

	// Batch-1 copy of the policy for action selection, refreshed after
	// every policy update
	behaviour   network.NeuralNet
	behaviourVM G.VM

	// Loss input nodes and loss reads
	valueTarget    *G.Node // Bootstrap target y of the value regression
	valueWeight    *G.Node // Expectile weights
	valueLossVal   G.Value
	criticTarget   *G.Node // Blended bootstrap target of both towers
	criticLossVal  G.Value
	actorAction    *G.Node // Dataset actions of the cloning term
	actorAdvantage *G.Node // Advantage weights of the cloning term
	actorNu        *G.Node
	actorScale     *G.Node // Critic-magnitude normalizer, no gradient
	actorVminVal   G.Value // Twin minimum at π(state)
	actorLossVal   G.Value

	actorSolver   *solver.AdamSolver
	criticSolver  *solver.AdamSolver
	valueSolver   *solver.AdamSolver
	actorSchedule *solver.CosineAnnealing

	buffer  expreplay.ExperienceReplayer
	metrics tracker.Tracker // May be nil

	// Coefficient schedules: offline training holds λ/ν fixed, online
	// training anneals them
	offlineCoeffs coefficientSchedule
	onlineCoeffs  coefficientSchedule

	noise distuv.Normal

	totalIt int
}

// New creates and returns a new DMG agent training on transitions from
// buffer. If metrics is non-nil, training scalars are tracked through
// it. The buffer's dimensions must agree with the configuration.
func New(c Config, buffer expreplay.ExperienceReplayer,
	metrics tracker.Tracker, seed uint64) (*DMG, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if buffer == nil {
		return nil, fmt.Errorf("new: no replay buffer")
	}
	if buffer.StateDim() != c.StateDim || buffer.ActionDim() != c.ActionDim {
		return nil, fmt.Errorf("new: buffer dimensions do not match "+
			"configuration \n\twant state(%v) action(%v) \n\thave state(%v) "+
			"action(%v)", c.StateDim, c.ActionDim, buffer.StateDim(),
			buffer.ActionDim())
	}

	actorSolver, ok := c.ActorSolver.Solver.(*solver.AdamSolver)
	if !ok {
		return nil, fmt.Errorf("new: actor solver must be Adam, got %v",
			c.ActorSolver.Type)
	}
	criticSolver, ok := c.CriticSolver.Solver.(*solver.AdamSolver)
	if !ok {
		return nil, fmt.Errorf("new: critic solver must be Adam, got %v",
			c.CriticSolver.Type)
	}
	valueSolver, ok := c.ValueSolver.Solver.(*solver.AdamSolver)
	if !ok {
		return nil, fmt.Errorf("new: value solver must be Adam, got %v",
			c.ValueSolver.Type)
	}

	d := &DMG{
		config:       c,
		actorSolver:  actorSolver,
		criticSolver: criticSolver,
		valueSolver:  valueSolver,
		buffer:       buffer,
		metrics:      metrics,
		offlineCoeffs: newFixedSchedule(c.Lambda, c.Nu),
		onlineCoeffs: newAnnealedSchedule(c.Lambda, c.LambdaEnd, c.Nu,
			c.NuEnd, c.ExpDecay),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: policyNoise,
			Src:   rand.NewSource(seed),
		},
	}

	schedule, err := solver.NewCosineAnnealing(actorSolver,
		c.MaxTimesteps/c.PolicyFreq)
	if err != nil {
		return nil, fmt.Errorf("new: could not create learning rate "+
			"schedule: %v", err)
	}
	d.actorSchedule = schedule

	init := c.InitWFn.InitWFn()
	if err := d.buildValueGraph(init); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := d.buildCriticGraph(init); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := d.buildActorGraph(init); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if err := d.buildAuxiliaryNets(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return d, nil
}

// buildValueGraph creates the state-value estimator and its expectile
// regression loss:
//
//	mean(w ⊙ (y - V(s))²)
//
// where y and the weights w are fed in as constants each step.
func (d *DMG) buildValueGraph(init G.InitWFn) error {
	c := d.config
	g := G.NewGraph()

	value, err := network.NewMLP(c.StateDim, c.BatchSize, 1, g,
		c.HiddenSizes, c.Biases, init, c.Activations)
	if err != nil {
		return fmt.Errorf("could not create value estimator: %v", err)
	}
	d.value = value

	d.valueTarget = G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, 1), G.WithName("valueTarget"),
		G.WithInit(G.Zeroes()))
	d.valueWeight = G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, 1), G.WithName("expectileWeight"),
		G.WithInit(G.Ones()))

	diff := G.Must(G.Sub(d.valueTarget, value.Prediction()[0]))
	weighted := G.Must(G.HadamardProd(d.valueWeight, G.Must(G.Square(diff))))
	loss := G.Must(G.Mean(weighted))
	G.Read(loss, &d.valueLossVal)

	if _, err := G.Grad(loss, value.Learnables()...); err != nil {
		return fmt.Errorf("could not compute value gradient: %v", err)
	}
	d.valueVM = G.NewTapeMachine(g,
		G.BindDualValues(value.Learnables()...))

	return nil
}

// buildCriticGraph creates the twin critic and its loss, the sum of
// both towers' mean squared errors against a shared bootstrap target.
func (d *DMG) buildCriticGraph(init G.InitWFn) error {
	c := d.config
	g := G.NewGraph()

	critic, err := network.NewTwinMLP(c.StateDim+c.ActionDim, c.BatchSize,
		1, g, c.HiddenSizes, c.Biases, init, c.Activations)
	if err != nil {
		return fmt.Errorf("could not create critic: %v", err)
	}
	d.critic = critic

	d.criticTarget = G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, 1), G.WithName("criticTarget"),
		G.WithInit(G.Zeroes()))

	q1 := critic.Prediction()[0]
	q2 := critic.Prediction()[1]
	loss1 := G.Must(G.Mean(G.Must(G.Square(G.Must(G.Sub(q1,
		d.criticTarget))))))
	loss2 := G.Must(G.Mean(G.Must(G.Square(G.Must(G.Sub(q2,
		d.criticTarget))))))
	loss := G.Must(G.Add(loss1, loss2))
	G.Read(loss, &d.criticLossVal)

	if _, err := G.Grad(loss, critic.Learnables()...); err != nil {
		return fmt.Errorf("could not compute critic gradient: %v", err)
	}
	d.criticVM = G.NewTapeMachine(g,
		G.BindDualValues(critic.Learnables()...))

	return nil
}

// buildActorGraph creates the policy and its loss
//
//	-scale·mean(min(Q1, Q2)(s, π(s))) + ν·mean(expA ⊙ (π(s) - a)²)
//
// on a graph that also holds a clone of the critic fed with the
// policy's own output. Only the policy's weights receive gradients;
// scale, ν and the advantage weights expA are fed in as constants.
func (d *DMG) buildActorGraph(init G.InitWFn) error {
	c := d.config
	g := G.NewGraph()

	actor, err := network.NewPolicyMLP(c.StateDim, c.BatchSize, c.ActionDim,
		c.MaxAction, g, c.HiddenSizes, c.Biases, init, c.Activations)
	if err != nil {
		return fmt.Errorf("could not create policy: %v", err)
	}
	d.actor = actor

	actorCritic, err := network.CloneWithInputTo(d.critic, 1,
		[]*G.Node{actor.Input(), actor.Prediction()[0]}, g)
	if err != nil {
		return fmt.Errorf("could not embed critic in policy graph: %v", err)
	}
	d.actorCritic = actorCritic

	// Elementwise twin minimum: min(a, b) = (a + b - |a - b|) / 2
	q1 := actorCritic.Prediction()[0]
	q2 := actorCritic.Prediction()[1]
	sum := G.Must(G.Add(q1, q2))
	gap := G.Must(G.Abs(G.Must(G.Sub(q1, q2))))
	vmin := G.Must(G.Mul(G.NewConstant(0.5), G.Must(G.Sub(sum, gap))))
	G.Read(vmin, &d.actorVminVal)

	d.actorScale = G.NewScalar(g, tensor.Float64, G.WithName("scale"))
	d.actorNu = G.NewScalar(g, tensor.Float64, G.WithName("nu"))
	d.actorAction = G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.ActionDim), G.WithName("datasetAction"),
		G.WithInit(G.Zeroes()))
	d.actorAdvantage = G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, 1), G.WithName("advantageWeight"),
		G.WithInit(G.Ones()))

	qLoss := G.Must(G.Neg(G.Must(G.Mul(d.actorScale,
		G.Must(G.Mean(vmin))))))

	residual := G.Must(G.Square(G.Must(G.Sub(actor.Prediction()[0],
		d.actorAction))))
	cloning := G.Must(G.Mean(G.Must(G.BroadcastHadamardProd(
		d.actorAdvantage, residual, []byte{1}, nil))))

	loss := G.Must(G.Add(qLoss, G.Must(G.Mul(d.actorNu, cloning))))
	G.Read(loss, &d.actorLossVal)

	if _, err := G.Grad(loss, actor.Learnables()...); err != nil {
		return fmt.Errorf("could not compute policy gradient: %v", err)
	}
	d.actorVM = G.NewTapeMachine(g,
		G.BindDualValues(actor.Learnables()...))

	return nil
}

// buildAuxiliaryNets creates the forward-only target copies and the
// batch-1 behaviour policy, each on its own graph with its own VM.
func (d *DMG) buildAuxiliaryNets() error {
	targetActor, err := d.actor.Clone()
	if err != nil {
		return fmt.Errorf("could not create target policy: %v", err)
	}
	d.targetActor = targetActor
	d.targetActorVM = G.NewTapeMachine(targetActor.Graph())

	targetCritic, err := d.critic.Clone()
	if err != nil {
		return fmt.Errorf("could not create target critic: %v", err)
	}
	d.targetCritic = targetCritic
	d.targetCriticVM = G.NewTapeMachine(targetCritic.Graph())

	behaviour, err := d.actor.CloneWithBatch(1)
	if err != nil {
		return fmt.Errorf("could not create behaviour policy: %v", err)
	}
	d.behaviour = behaviour
	d.behaviourVM = G.NewTapeMachine(behaviour.Graph())

	return nil
}

// TotalIt returns the number of training steps taken so far
func (d *DMG) TotalIt() int {
	return d.totalIt
}

// SelectAction returns the policy's action for a single state. The
// action is bounded in [-MaxAction, MaxAction] by construction.
func (d *DMG) SelectAction(state mat.Vector) (*mat.VecDense, error) {
	if state.Len() != d.config.StateDim {
		return nil, fmt.Errorf("selectaction: invalid state size "+
			"\n\twant(%v)\n\thave(%v)", d.config.StateDim, state.Len())
	}

	input := make([]float64, state.Len())
	for i := range input {
		input[i] = state.AtVec(i)
	}
	if err := d.behaviour.SetInput(input); err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}
	if err := d.behaviourVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectaction: could not run policy: %v", err)
	}

	action := floatsFromValue(d.behaviour.Output()[0])
	out := make([]float64, d.config.ActionDim)
	copy(out, action)
	d.behaviourVM.Reset()

	return mat.NewVecDense(d.config.ActionDim, out), nil
}

// TrainOffline performs one training step with fixed mixing
// coefficients, advancing the actor's learning rate schedule on policy
// updates.
func (d *DMG) TrainOffline() error {
	return d.step(d.offlineCoeffs, true)
}

// TrainOnline performs one training step with annealed mixing
// coefficients and a constant actor learning rate.
func (d *DMG) TrainOnline() error {
	return d.step(d.onlineCoeffs, false)
}

// step performs one training step: the value estimator, then the
// critic, then every PolicyFreq steps the policy and both targets.
func (d *DMG) step(coeffs coefficientSchedule, annealLR bool) error {
	c := d.config
	d.totalIt++
	coeffs.tick(d.totalIt)
	lambda := coeffs.lambda()
	nu := coeffs.nu()

	state, action, nextState, reward, notDone, err :=
		d.buffer.Sample(c.BatchSize)
	if err != nil {
		return fmt.Errorf("step: could not sample transitions: %v", err)
	}

	// Value stage: regress V(s) toward the target critic's twin
	// minimum at the dataset action with an expectile-weighted loss
	tq1, tq2, err := d.targetCriticForward(state, action)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	qmin := make([]float64, c.BatchSize)
	for i := range qmin {
		qmin[i] = floatutils.Min(tq1[i], tq2[i])
	}

	v, err := d.valueForward(state)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	diff := make([]float64, c.BatchSize)
	floats.SubTo(diff, qmin, v)
	weights := expectileWeights(diff, c.Expectile)

	if err := d.value.SetInput(state); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := G.Let(d.valueTarget, columnTensor(qmin)); err != nil {
		return fmt.Errorf("step: could not set value target: %v", err)
	}
	if err := G.Let(d.valueWeight, columnTensor(weights)); err != nil {
		return fmt.Errorf("step: could not set expectile weights: %v", err)
	}
	if err := d.valueVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run value update: %v", err)
	}
	valueLoss := scalarFromValue(d.valueLossVal)
	if !isFinite(valueLoss) {
		d.valueVM.Reset()
		return fmt.Errorf("step: value loss is not finite: %v", valueLoss)
	}
	if err := d.valueSolver.Step(d.value.Model()); err != nil {
		return fmt.Errorf("step: could not step value solver: %v", err)
	}
	d.valueVM.Reset()

	// Critic stage: bootstrap both towers toward
	// r + γ·notDone·(λ·Qπ + (1-λ)·V)
	piNext, err := d.targetActorForward(nextState)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	for i := range piNext {
		eps := floatutils.Clip(d.noise.Rand(), -noiseClip, noiseClip)
		piNext[i] = floatutils.Clip(piNext[i]+eps, -c.MaxAction, c.MaxAction)
	}

	nq1, nq2, err := d.targetCriticForward(nextState, piNext)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	targetV, err := d.valueForward(nextState)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	targetQ := make([]float64, c.BatchSize)
	for i := range targetQ {
		targetPi := floatutils.Min(nq1[i], nq2[i])
		bootstrap := lambda*targetPi + (1-lambda)*targetV[i]
		targetQ[i] = reward[i] + notDone[i]*c.Discount*bootstrap
	}

	if err := d.critic.SetInput(stateActionBatch(state, action,
		c.StateDim, c.ActionDim)); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := G.Let(d.criticTarget, columnTensor(targetQ)); err != nil {
		return fmt.Errorf("step: could not set critic target: %v", err)
	}
	if err := d.criticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run critic update: %v", err)
	}
	criticLoss := scalarFromValue(d.criticLossVal)
	if !isFinite(criticLoss) {
		d.criticVM.Reset()
		return fmt.Errorf("step: critic loss is not finite: %v", criticLoss)
	}

	if d.metrics != nil && d.totalIt%writeInterval == 0 {
		d.metrics.Track("critic_loss", d.totalIt, criticLoss)
		q1 := floatsFromValue(d.critic.Output()[0])
		q2 := floatsFromValue(d.critic.Output()[1])
		q := (stat.Mean(q1, nil) + stat.Mean(q2, nil)) / 2
		d.metrics.Track("q", d.totalIt, q)
		d.metrics.Track("value", d.totalIt, stat.Mean(v, nil))
	}

	if err := d.criticSolver.Step(d.critic.Model()); err != nil {
		return fmt.Errorf("step: could not step critic solver: %v", err)
	}
	d.criticVM.Reset()

	// Delayed policy stage
	if d.totalIt%c.PolicyFreq == 0 {
		if err := d.updatePolicy(state, action, nu, annealLR,
			coeffs, lambda); err != nil {
			return err
		}
	}

	return nil
}

// updatePolicy performs the delayed policy update, Polyak-averages
// both target networks, and refreshes the behaviour policy.
func (d *DMG) updatePolicy(state, action []float64, nu float64,
	annealLR bool, coeffs coefficientSchedule, lambda float64) error {
	c := d.config

	// Advantage weights of the cloning term, computed against the
	// freshly updated value estimator
	awrV, err := d.valueForward(state)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	aq1, aq2, err := d.targetCriticForward(state, action)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	expA := make([]float64, c.BatchSize)
	for i := range expA {
		adv := floatutils.Min(aq1[i], aq2[i]) - awrV[i]
		expA[i] = floatutils.Min(math.Exp(adv*c.Temperature), c.MaxWeight)
	}

	if err := network.Set(d.actorCritic, d.critic); err != nil {
		return fmt.Errorf("step: could not sync embedded critic: %v", err)
	}

	if err := d.actor.SetInput(state); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := G.Let(d.actorAction, rowTensor(action, c.BatchSize,
		c.ActionDim)); err != nil {
		return fmt.Errorf("step: could not set dataset actions: %v", err)
	}
	if err := G.Let(d.actorAdvantage, columnTensor(expA)); err != nil {
		return fmt.Errorf("step: could not set advantage weights: %v", err)
	}
	if err := G.Let(d.actorNu, nu); err != nil {
		return fmt.Errorf("step: could not set cloning weight: %v", err)
	}

	// The loss scale 1/mean(|min(Q1, Q2)(s, π(s))|) depends on the
	// policy's own output, so the graph is run twice: once with unit
	// scale to read the twin minimum, then with the real scale to
	// compute the update.
	if err := G.Let(d.actorScale, 1.0); err != nil {
		return fmt.Errorf("step: could not set loss scale: %v", err)
	}
	if err := d.actorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run policy forward pass: %v", err)
	}
	vmin := floatsFromValue(d.actorVminVal)
	denom := 0.0
	for _, q := range vmin {
		denom += math.Abs(q)
	}
	denom /= float64(len(vmin))
	d.actorVM.Reset()

	if denom == 0 {
		return fmt.Errorf("step: %w", errDegenerateScale)
	}
	scale := 1 / denom
	if !isFinite(scale) {
		return fmt.Errorf("step: actor loss scale is not finite: %v", scale)
	}

	if err := G.Let(d.actorScale, scale); err != nil {
		return fmt.Errorf("step: could not set loss scale: %v", err)
	}
	if err := d.actorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run policy update: %v", err)
	}
	actorLoss := scalarFromValue(d.actorLossVal)
	if !isFinite(actorLoss) {
		d.actorVM.Reset()
		return fmt.Errorf("step: policy loss is not finite: %v", actorLoss)
	}
	if err := d.actorSolver.Step(d.actor.Model()); err != nil {
		return fmt.Errorf("step: could not step policy solver: %v", err)
	}
	d.actorVM.Reset()

	if annealLR {
		d.actorSchedule.Step()
	}

	if d.metrics != nil && d.totalIt%writeInterval == 0 {
		d.metrics.Track("actor_loss", d.totalIt, actorLoss)
		if coeffs.annealing() {
			d.metrics.Track("lambda", d.totalIt, lambda)
			d.metrics.Track("nu", d.totalIt, nu)
		}
	}

	if err := network.Polyak(d.targetCritic, d.critic, c.Tau); err != nil {
		return fmt.Errorf("step: could not update target critic: %v", err)
	}
	if err := network.Polyak(d.targetActor, d.actor, c.Tau); err != nil {
		return fmt.Errorf("step: could not update target policy: %v", err)
	}
	if err := network.Set(d.behaviour, d.actor); err != nil {
		return fmt.Errorf("step: could not refresh behaviour policy: %v", err)
	}

	return nil
}

// valueForward returns V(s) for a batch of states without updating any
// weights. The value graph's loss inputs are bound to neutral values
// so the training VM can serve forward passes.
func (d *DMG) valueForward(states []float64) ([]float64, error) {
	c := d.config
	if err := d.value.SetInput(states); err != nil {
		return nil, err
	}
	if err := G.Let(d.valueTarget,
		columnTensor(make([]float64, c.BatchSize))); err != nil {
		return nil, fmt.Errorf("could not bind value target: %v", err)
	}
	ones := make([]float64, c.BatchSize)
	for i := range ones {
		ones[i] = 1
	}
	if err := G.Let(d.valueWeight, columnTensor(ones)); err != nil {
		return nil, fmt.Errorf("could not bind expectile weights: %v", err)
	}

	if err := d.valueVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run value estimator: %v", err)
	}
	out := make([]float64, c.BatchSize)
	copy(out, floatsFromValue(d.value.Output()[0]))
	d.valueVM.Reset()

	return out, nil
}

// targetCriticForward returns both towers of the target critic at a
// batch of state-action pairs.
func (d *DMG) targetCriticForward(states, actions []float64) ([]float64,
	[]float64, error) {
	c := d.config
	input := stateActionBatch(states, actions, c.StateDim, c.ActionDim)
	if err := d.targetCritic.SetInput(input); err != nil {
		return nil, nil, err
	}
	if err := d.targetCriticVM.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("could not run target critic: %v", err)
	}

	q1 := make([]float64, c.BatchSize)
	q2 := make([]float64, c.BatchSize)
	copy(q1, floatsFromValue(d.targetCritic.Output()[0]))
	copy(q2, floatsFromValue(d.targetCritic.Output()[1]))
	d.targetCriticVM.Reset()

	return q1, q2, nil
}

// targetActorForward returns the target policy's actions for a batch
// of states.
func (d *DMG) targetActorForward(states []float64) ([]float64, error) {
	c := d.config
	if err := d.targetActor.SetInput(states); err != nil {
		return nil, err
	}
	if err := d.targetActorVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run target policy: %v", err)
	}

	out := make([]float64, c.BatchSize*c.ActionDim)
	copy(out, floatsFromValue(d.targetActor.Output()[0]))
	d.targetActorVM.Reset()

	return out, nil
}

// Save checkpoints every parameter set and optimizer to dir, tagging
// each file with the current training step.
func (d *DMG) Save(dir string) error {
	components := []struct {
		name   string
		object checkpointer.Serializable
	}{
		{"actor", d.actor},
		{"actor_target", d.targetActor},
		{"critic", d.critic},
		{"critic_target", d.targetCritic},
		{"value", d.value},
		{"actor_optimizer", d.actorSolver},
		{"critic_optimizer", d.criticSolver},
		{"value_optimizer", d.valueSolver},
	}

	for _, c := range components {
		path := checkpointer.Filename(dir, c.name, d.totalIt)
		if err := checkpointer.Save(path, c.object); err != nil {
			return fmt.Errorf("save: could not save %v: %v", c.name, err)
		}
	}

	return nil
}

// Load restores every parameter set and optimizer from the checkpoint
// files in dir tagged with step. The actor's learning rate is reset to
// its initial value regardless of any schedule progress the checkpoint
// was saved with.
func (d *DMG) Load(dir string, step int) error {
	networks := []struct {
		name string
		net  network.NeuralNet
	}{
		{"actor", d.actor},
		{"actor_target", d.targetActor},
		{"critic", d.critic},
		{"critic_target", d.targetCritic},
		{"value", d.value},
	}

	for _, c := range networks {
		// Decode into a throwaway clone, then copy the weights into
		// the live graph so that all VM wiring stays intact
		decoded, err := c.net.Clone()
		if err != nil {
			return fmt.Errorf("load: could not clone %v: %v", c.name, err)
		}
		path := checkpointer.Filename(dir, c.name, step)
		if err := checkpointer.Load(path, decoded); err != nil {
			return fmt.Errorf("load: could not load %v: %v", c.name, err)
		}
		if err := network.Set(c.net, decoded); err != nil {
			return fmt.Errorf("load: could not restore %v: %v", c.name, err)
		}
	}

	solvers := []struct {
		name   string
		solver *solver.AdamSolver
	}{
		{"actor_optimizer", d.actorSolver},
		{"critic_optimizer", d.criticSolver},
		{"value_optimizer", d.valueSolver},
	}
	for _, c := range solvers {
		path := checkpointer.Filename(dir, c.name, step)
		if err := checkpointer.Load(path, c.solver); err != nil {
			return fmt.Errorf("load: could not load %v: %v", c.name, err)
		}
	}

	if err := network.Set(d.behaviour, d.actor); err != nil {
		return fmt.Errorf("load: could not refresh behaviour policy: %v", err)
	}

	d.totalIt = step
	d.actorSchedule.Reset()

	return nil
}

// expectileWeights returns the asymmetric regression weight for each
// residual: expectile where the residual is positive, 1 - expectile
// otherwise. An expectile of 0.5 reduces to a uniformly weighted
// squared error.
func expectileWeights(diff []float64, expectile float64) []float64 {
	weights := make([]float64, len(diff))
	for i, d := range diff {
		if d > 0 {
			weights[i] = expectile
		} else {
			weights[i] = 1 - expectile
		}
	}
	return weights
}

// stateActionBatch concatenates row-major state and action batches
// into a single row-major (state ‖ action) batch.
func stateActionBatch(states, actions []float64, stateDim,
	actionDim int) []float64 {
	batch := len(states) / stateDim
	out := make([]float64, batch*(stateDim+actionDim))
	for i := 0; i < batch; i++ {
		copy(out[i*(stateDim+actionDim):], states[i*stateDim:(i+1)*stateDim])
		copy(out[i*(stateDim+actionDim)+stateDim:],
			actions[i*actionDim:(i+1)*actionDim])
	}
	return out
}

// columnTensor returns data as a (len, 1) tensor
func columnTensor(data []float64) tensor.Tensor {
	return tensor.New(tensor.WithShape(len(data), 1),
		tensor.WithBacking(data))
}

// rowTensor returns data as a (rows, cols) tensor
func rowTensor(data []float64, rows, cols int) tensor.Tensor {
	return tensor.New(tensor.WithShape(rows, cols),
		tensor.WithBacking(data))
}

// floatsFromValue returns the backing data of a value as a slice.
// Size-1 tensors surface their data as a bare float64.
func floatsFromValue(v G.Value) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case float64:
		return []float64{data}
	default:
		panic(fmt.Sprintf("floatsFromValue: unexpected value data type %T",
			data))
	}
}

// scalarFromValue returns the single element of a scalar value
func scalarFromValue(v G.Value) float64 {
	return floatsFromValue(v)[0]
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
