package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// policyMLP implements a deterministic policy network. The MLP output
// is passed through a tanh nonlinearity and scaled by maxAction so
// that every prediction lies in [-maxAction, maxAction].
type policyMLP struct {
	g      *G.ExprGraph
	layers []Layer
	input  *G.Node

	maxAction  float64
	numOutputs int
	numInputs  int
	batchSize  int

	sizes       []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewPolicyMLP creates and returns a new deterministic policy network,
// populating the graph g. The network maps a state of size features to
// an action of size actions bounded in [-maxAction, maxAction] in
// every dimension.
func NewPolicyMLP(features, batch, actions int, maxAction float64,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if err := validateArch("newpolicymlp", hiddenSizes, biases,
		activations); err != nil {
		return nil, err
	}
	if maxAction <= 0 {
		return nil, fmt.Errorf("newpolicymlp: maxAction must be positive, "+
			"got %v", maxAction)
	}

	sizes := append(append([]int{}, hiddenSizes...), actions)
	withBiases := append(append([]bool{}, biases...), true)
	acts := append(append([]*Activation{}, activations...), Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("state"), G.WithInit(G.Zeroes()))

	layers := addLayers(g, features, sizes, withBiases, acts, init, "Pi")
	network := new(policyMLP)
	if err := initPolicyMLPFromLayers(network, g, layers, input, features,
		actions, maxAction, sizes, withBiases, acts); err != nil {
		return nil, err
	}
	return network, nil
}

// initPolicyMLPFromLayers wires already-created layers to an input
// node and runs the symbolic forward pass, including the bounding
// nonlinearity, populating p in place. The graph reads the prediction
// value into p's own field, so p must be the network's final resting
// place; copying the struct afterwards would orphan the read binding.
func initPolicyMLPFromLayers(p *policyMLP, g *G.ExprGraph, layers []Layer,
	input *G.Node, features, actions int, maxAction float64, sizes []int,
	biases []bool, activations []*Activation) error {
	if !input.IsMatrix() {
		return fmt.Errorf("newpolicymlp: input must be a matrix node")
	}

	*p = policyMLP{
		g:           g,
		layers:      layers,
		input:       input,
		maxAction:   maxAction,
		numOutputs:  actions,
		numInputs:   features,
		batchSize:   input.Shape()[0],
		sizes:       sizes,
		biases:      biases,
		activations: activations,
	}

	pred, err := forward(layers, input)
	if err != nil {
		return fmt.Errorf("newpolicymlp: could not compute forward "+
			"pass: %v", err)
	}
	pred = G.Must(G.Tanh(pred))
	pred = G.Must(G.Mul(G.NewConstant(maxAction), pred))

	p.prediction = pred
	G.Read(p.prediction, &p.predVal)

	return nil
}

// Graph returns the computational graph of the policyMLP
func (p *policyMLP) Graph() *G.ExprGraph {
	return p.g
}

// Input returns the state input node of the policyMLP
func (p *policyMLP) Input() *G.Node {
	return p.input
}

// MaxAction returns the action bound of the policyMLP
func (p *policyMLP) MaxAction() float64 {
	return p.maxAction
}

// Clone clones a policyMLP to a fresh graph
func (p *policyMLP) Clone() (NeuralNet, error) {
	return p.CloneWithBatch(p.batchSize)
}

// CloneWithBatch clones a policyMLP to a fresh graph with a new input
// batch size
func (p *policyMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, p.numInputs),
		G.WithName("state"),
		G.WithInit(G.Zeroes()),
	)
	return p.cloneWithInputTo(-1, []*G.Node{input}, graph)
}

// cloneWithInputTo clones a policyMLP onto an existing graph with the
// argument input nodes
func (p *policyMLP) cloneWithInputTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	layers := cloneLayersTo(p.layers, graph)
	network := new(policyMLP)
	if err := initPolicyMLPFromLayers(network, graph, layers, input,
		p.numInputs, p.numOutputs, p.maxAction, p.sizes, p.biases,
		p.activations); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}

	if err := Set(network, p); err != nil {
		return nil, fmt.Errorf("clonewithinputto: %v", err)
	}
	return network, nil
}

// BatchSize returns the batch size of inputs to the policyMLP
func (p *policyMLP) BatchSize() int {
	return p.batchSize
}

// Features returns the number of features in a single state vector
func (p *policyMLP) Features() int {
	return p.numInputs
}

// Outputs returns the action dimensionality
func (p *policyMLP) Outputs() int {
	return p.numOutputs
}

// SetInput sets the value of the state input node
func (p *policyMLP) SetInput(input []float64) error {
	if len(input) != p.numInputs*p.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", p.numInputs*p.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(p.input.Shape()...),
	)
	return G.Let(p.input, inputTensor)
}

// Learnables returns the learnable nodes of the policyMLP
func (p *policyMLP) Learnables() G.Nodes {
	if p.learnables == nil {
		p.learnables = layerLearnables(p.layers)
	}
	return p.learnables
}

// Model returns the learnable nodes with their gradients
func (p *policyMLP) Model() []G.ValueGrad {
	if p.model == nil {
		for _, node := range p.Learnables() {
			p.model = append(p.model, node)
		}
	}
	return p.model
}

// Output returns the bounded action prediction after the graph has
// been run
func (p *policyMLP) Output() []G.Value {
	return []G.Value{p.predVal}
}

// Prediction returns the bounded action prediction node
func (p *policyMLP) Prediction() []*G.Node {
	return []*G.Node{p.prediction}
}

// GobEncode implements the gob.GobEncoder interface
func (p *policyMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(p.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode features: %v", err)
	}
	if err := enc.Encode(p.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size: %v",
			err)
	}
	if err := enc.Encode(p.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode outputs: %v", err)
	}
	if err := enc.Encode(p.maxAction); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode action bound: %v",
			err)
	}
	if err := enc.Encode(p.sizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode sizes: %v", err)
	}
	if err := enc.Encode(p.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases: %v", err)
	}
	if err := enc.Encode(p.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations: %v",
			err)
	}
	if err := encodeLearnables(enc, p.Learnables()); err != nil {
		return nil, fmt.Errorf("gobencode: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (p *policyMLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var features, batchSize, outputs int
	var maxAction float64
	if err := dec.Decode(&features); err != nil {
		return fmt.Errorf("gobdecode: could not decode features: %v", err)
	}
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size: %v", err)
	}
	if err := dec.Decode(&outputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode outputs: %v", err)
	}
	if err := dec.Decode(&maxAction); err != nil {
		return fmt.Errorf("gobdecode: could not decode action bound: %v", err)
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
		G.WithShape(batchSize, features), G.WithName("state"),
		G.WithInit(G.Zeroes()))
	layers := addLayers(g, features, sizes, biases, activations,
		G.Zeroes(), "Pi")
	if err := initPolicyMLPFromLayers(p, g, layers, input, features,
		outputs, maxAction, sizes, biases, activations); err != nil {
		return fmt.Errorf("gobdecode: could not reconstruct network: %v", err)
	}

	if err := decodeLearnables(dec, p.Learnables()); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	return nil
}
