package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// twinMLP implements a pair of structurally identical, independently
// parameterized MLP towers over a single shared input. Both towers
// predict the same quantity; consumers reduce the two predictions with
// an elementwise minimum to counter overestimation bias in
// bootstrapped regression targets.
type twinMLP struct {
	g      *G.ExprGraph
	towerA []Layer
	towerB []Layer
	input  *G.Node

	numOutputs int
	numInputs  int
	batchSize  int

	sizes       []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	predictions [2]*G.Node
	predVals    [2]G.Value
}

// NewTwinMLP creates and returns a new twin multi-layered perceptron,
// populating the graph g. Each tower has hidden layers given by
// hiddenSizes/biases/activations followed by a final linear layer of
// size outputs with a bias unit and no activation. The towers share
// the input node but no weights.
func NewTwinMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if err := validateArch("newtwinmlp", hiddenSizes, biases,
		activations); err != nil {
		return nil, err
	}

	sizes := append(append([]int{}, hiddenSizes...), outputs)
	withBiases := append(append([]bool{}, biases...), true)
	acts := append(append([]*Activation{}, activations...), Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	towerA := addLayers(g, features, sizes, withBiases, acts, init, "Q1")
	towerB := addLayers(g, features, sizes, withBiases, acts, init, "Q2")

	network := new(twinMLP)
	if err := initTwinMLPFromLayers(network, g, towerA, towerB, input,
		features, outputs, sizes, withBiases, acts); err != nil {
		return nil, err
	}
	return network, nil
}

// initTwinMLPFromLayers wires already-created towers to an input node
// and runs both symbolic forward passes, populating t in place. The
// graph reads both prediction values into t's own fields, so t must be
// the network's final resting place; copying the struct afterwards
// would orphan the read bindings.
func initTwinMLPFromLayers(t *twinMLP, g *G.ExprGraph, towerA,
	towerB []Layer, input *G.Node, features, outputs int, sizes []int,
	biases []bool, activations []*Activation) error {
	if !input.IsMatrix() {
		return fmt.Errorf("newtwinmlp: input must be a matrix node")
	}

	*t = twinMLP{
		g:           g,
		towerA:      towerA,
		towerB:      towerB,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   input.Shape()[0],
		sizes:       sizes,
		biases:      biases,
		activations: activations,
	}

	predA, err := forward(towerA, input)
	if err != nil {
		return fmt.Errorf("newtwinmlp: could not compute forward "+
			"pass of first tower: %v", err)
	}
	predB, err := forward(towerB, input)
	if err != nil {
		return fmt.Errorf("newtwinmlp: could not compute forward "+
			"pass of second tower: %v", err)
	}

	t.predictions = [2]*G.Node{predA, predB}
	G.Read(predA, &t.predVals[0])
	G.Read(predB, &t.predVals[1])

	return nil
}

// Graph returns the computational graph of the twinMLP
func (t *twinMLP) Graph() *G.ExprGraph {
	return t.g
}

// Input returns the shared input node of both towers
func (t *twinMLP) Input() *G.Node {
	return t.input
}

// Clone clones a twinMLP to a fresh graph
func (t *twinMLP) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.batchSize)
}

// CloneWithBatch clones a twinMLP to a fresh graph with a new input
// batch size
func (t *twinMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, t.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)
	return t.cloneWithInputTo(-1, []*G.Node{input}, graph)
}

// cloneWithInputTo clones a twinMLP onto an existing graph with the
// argument input nodes
func (t *twinMLP) cloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	towerA := cloneLayersTo(t.towerA, graph)
	towerB := cloneLayersTo(t.towerB, graph)
	network := new(twinMLP)
	if err := initTwinMLPFromLayers(network, graph, towerA, towerB, input,
		t.numInputs, t.numOutputs, t.sizes, t.biases,
		t.activations); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	if err := Set(network, t); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}
	return network, nil
}

// BatchSize returns the batch size of inputs to the twinMLP
func (t *twinMLP) BatchSize() int {
	return t.batchSize
}

// Features returns the number of features in a single input vector
func (t *twinMLP) Features() int {
	return t.numInputs
}

// Outputs returns the number of outputs of each tower
func (t *twinMLP) Outputs() int {
	return t.numOutputs
}

// SetInput sets the value of the shared input node
func (t *twinMLP) SetInput(input []float64) error {
	if len(input) != t.numInputs*t.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", t.numInputs*t.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(t.input.Shape()...),
	)
	return G.Let(t.input, inputTensor)
}

// Learnables returns the learnable nodes of both towers, first tower
// first
func (t *twinMLP) Learnables() G.Nodes {
	if t.learnables == nil {
		t.learnables = append(layerLearnables(t.towerA),
			layerLearnables(t.towerB)...)
	}
	return t.learnables
}

// Model returns the learnable nodes with their gradients
func (t *twinMLP) Model() []G.ValueGrad {
	if t.model == nil {
		for _, node := range t.Learnables() {
			t.model = append(t.model, node)
		}
	}
	return t.model
}

// Output returns the value of each tower's prediction after the graph
// has been run
func (t *twinMLP) Output() []G.Value {
	return []G.Value{t.predVals[0], t.predVals[1]}
}

// Prediction returns the prediction node of each tower
func (t *twinMLP) Prediction() []*G.Node {
	return []*G.Node{t.predictions[0], t.predictions[1]}
}

// GobEncode implements the gob.GobEncoder interface
func (t *twinMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(t.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode features: %v", err)
	}
	if err := enc.Encode(t.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size: %v",
			err)
	}
	if err := enc.Encode(t.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode outputs: %v", err)
	}
	if err := enc.Encode(t.sizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode sizes: %v", err)
	}
	if err := enc.Encode(t.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases: %v", err)
	}
	if err := enc.Encode(t.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations: %v",
			err)
	}
	if err := encodeLearnables(enc, t.Learnables()); err != nil {
		return nil, fmt.Errorf("gobencode: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (t *twinMLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var features, batchSize, outputs int
	if err := dec.Decode(&features); err != nil {
		return fmt.Errorf("gobdecode: could not decode features: %v", err)
	}
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size: %v", err)
	}
	if err := dec.Decode(&outputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode outputs: %v", err)
	}

	var sizes []int
	var biases []bool
	var activations []*Activation
	if err := dec.Decode(&sizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode sizes: %v", err)
	}
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases: %v", err)
	}
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations: %v", err)
	}

	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, features), G.WithName("input"),
		G.WithInit(G.Zeroes()))
	towerA := addLayers(g, features, sizes, biases, activations,
		G.Zeroes(), "Q1")
	towerB := addLayers(g, features, sizes, biases, activations,
		G.Zeroes(), "Q2")
	if err := initTwinMLPFromLayers(t, g, towerA, towerB, input,
		features, outputs, sizes, biases, activations); err != nil {
		return fmt.Errorf("gobdecode: could not reconstruct network: %v", err)
	}

	if err := decodeLearnables(dec, t.Learnables()); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	return nil
}
