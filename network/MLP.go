package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// mlp implements a single-headed multi-layered perceptron. It is used
// directly as a state-value estimator and as the building block of the
// twin action-value estimator.
type mlp struct {
	g      *G.ExprGraph
	layers []Layer
	input  *G.Node

	numOutputs int
	numInputs  int
	batchSize  int

	// Full architecture, including the final linear layer. Needed for
	// gobbing and cloning.
	sizes       []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron with
// a single output head of size outputs, populating the graph g. A
// final linear layer with a bias unit and no activation is always
// added after the hidden layers. For index i, hiddenSizes[i] is the
// number of units in hidden layer i, biases[i] is whether that layer
// has a bias unit, and activations[i] is its activation function.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if err := validateArch("newmlp", hiddenSizes, biases,
		activations); err != nil {
		return nil, err
	}

	sizes := append(append([]int{}, hiddenSizes...), outputs)
	withBiases := append(append([]bool{}, biases...), true)
	acts := append(append([]*Activation{}, activations...), Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	layers := addLayers(g, features, sizes, withBiases, acts, init, "")
	network := new(mlp)
	if err := initMLPFromLayers(network, g, layers, input, features,
		outputs, sizes, withBiases, acts); err != nil {
		return nil, err
	}
	return network, nil
}

// initMLPFromLayers wires already-created layers to an input node and
// runs the symbolic forward pass, populating e in place. The graph
// reads the prediction value into e's own field, so e must be the
// network's final resting place; copying the struct afterwards would
// orphan the read binding.
func initMLPFromLayers(e *mlp, g *G.ExprGraph, layers []Layer,
	input *G.Node, features, outputs int, sizes []int, biases []bool,
	activations []*Activation) error {
	if !input.IsMatrix() {
		return fmt.Errorf("newmlp: input must be a matrix node")
	}

	*e = mlp{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   input.Shape()[0],
		sizes:       sizes,
		biases:      biases,
		activations: activations,
	}

	pred, err := forward(layers, input)
	if err != nil {
		return fmt.Errorf("newmlp: could not compute forward pass: %v", err)
	}
	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return nil
}

// Graph returns the computational graph of the mlp
func (e *mlp) Graph() *G.ExprGraph {
	return e.g
}

// Input returns the input node of the mlp
func (e *mlp) Input() *G.Node {
	return e.input
}

// Clone clones an mlp to a fresh graph
func (e *mlp) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones an mlp to a fresh graph with a new input batch
// size
func (e *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)
	return e.cloneWithInputTo(-1, []*G.Node{input}, graph)
}

// cloneWithInputTo clones an mlp onto an existing graph with the
// argument input nodes
func (e *mlp) cloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	layers := cloneLayersTo(e.layers, graph)
	network := new(mlp)
	if err := initMLPFromLayers(network, graph, layers, input, e.numInputs,
		e.numOutputs, e.sizes, e.biases, e.activations); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	// Rebind the cloned weights to fresh tensors so that the clone
	// never shares backing memory with the source
	if err := Set(network, e); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}
	return network, nil
}

// BatchSize returns the batch size of inputs to the mlp
func (e *mlp) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input vector
func (e *mlp) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs of the mlp
func (e *mlp) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the graph
func (e *mlp) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", e.numInputs*e.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Learnables returns the learnable nodes of the mlp
func (e *mlp) Learnables() G.Nodes {
	if e.learnables == nil {
		e.learnables = layerLearnables(e.layers)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *mlp) Model() []G.ValueGrad {
	if e.model == nil {
		for _, node := range e.Learnables() {
			e.model = append(e.model, node)
		}
	}
	return e.model
}

// Output returns the output of the mlp after the graph has been run
func (e *mlp) Output() []G.Value {
	return []G.Value{e.predVal}
}

// Prediction returns the prediction node of the mlp
func (e *mlp) Prediction() []*G.Node {
	return []*G.Node{e.prediction}
}

// GobEncode implements the gob.GobEncoder interface
func (e *mlp) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(e.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode features: %v", err)
	}
	if err := enc.Encode(e.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size: %v",
			err)
	}
	if err := enc.Encode(e.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode outputs: %v", err)
	}
	if err := enc.Encode(e.sizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode sizes: %v", err)
	}
	if err := enc.Encode(e.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases: %v", err)
	}
	if err := enc.Encode(e.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations: %v",
			err)
	}
	if err := encodeLearnables(enc, e.Learnables()); err != nil {
		return nil, fmt.Errorf("gobencode: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *mlp) GobDecode(in []byte) error {
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
	layers := addLayers(g, features, sizes, biases, activations,
		G.Zeroes(), "")
	if err := initMLPFromLayers(e, g, layers, input, features, outputs,
		sizes, biases, activations); err != nil {
		return fmt.Errorf("gobdecode: could not reconstruct network: %v", err)
	}

	if err := decodeLearnables(dec, e.Learnables()); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	return nil
}
