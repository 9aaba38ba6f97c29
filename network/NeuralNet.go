// Package network implements neural network function approximators as
// Gorgonia expression graphs.
package network

import (
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet is a neural network whose forward pass has been added to a
// Gorgonia expression graph. A NeuralNet does not own a virtual
// machine; callers construct whatever VM they need over Graph().
type NeuralNet interface {
	// Graph returns the expression graph the network was built on
	Graph() *G.ExprGraph

	// Input returns the input node of the network
	Input() *G.Node

	// Clone clones the network to a fresh graph, copying all weights
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network to a fresh graph with a new
	// input batch size, copying all weights
	CloneWithBatch(int) (NeuralNet, error)

	// cloneWithInputTo clones the network onto an existing graph,
	// using the argument nodes as the network input. Multiple input
	// nodes are concatenated along axis before the forward pass.
	cloneWithInputTo(axis int, inputs []*G.Node,
		g *G.ExprGraph) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the input node before running the
	// graph. The input is interpreted in row major order.
	SetInput([]float64) error

	// Learnables returns the nodes holding the trainable weights
	Learnables() G.Nodes

	// Model returns the learnable nodes with their gradients
	Model() []G.ValueGrad

	// Output returns the value of each prediction head after the
	// graph has been run
	Output() []G.Value

	// Prediction returns the node of each prediction head
	Prediction() []*G.Node

	gob.GobEncoder
	gob.GobDecoder
}

// Set sets the weights of dest to be equal to the weights of src. The
// weights are copied into fresh tensors so that dest and src never
// alias the same backing memory.
func Set(dest, src NeuralNet) error {
	srcNodes := src.Learnables()
	destNodes := dest.Learnables()
	if len(srcNodes) != len(destNodes) {
		return fmt.Errorf("set: incompatible networks \n\twant(%v "+
			"learnables)\n\thave(%v learnables)", len(destNodes), len(srcNodes))
	}

	for i, node := range destNodes {
		value := srcNodes[i].Value()
		data := value.Data().([]float64)
		backing := make([]float64, len(data))
		copy(backing, data)

		t := tensor.New(
			tensor.WithShape(value.Shape()...),
			tensor.WithBacking(backing),
		)
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("set: could not set learnable %v: %v", i, err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to a Polyak average between its
// existing weights and the weights of src:
//
//	dest <- tau*src + (1-tau)*dest
func Polyak(dest, src NeuralNet, tau float64) error {
	srcNodes := src.Learnables()
	destNodes := dest.Learnables()
	if len(srcNodes) != len(destNodes) {
		return fmt.Errorf("polyak: incompatible networks \n\twant(%v "+
			"learnables)\n\thave(%v learnables)", len(destNodes), len(srcNodes))
	}

	for i, node := range destNodes {
		weights := node.Value().(*tensor.Dense)
		srcWeights := srcNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}
		srcWeights, err = srcWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		newWeights, err := weights.Add(srcWeights)
		if err != nil {
			return err
		}

		if err := G.Let(node, newWeights); err != nil {
			return err
		}
	}
	return nil
}

// CloneWithInputTo clones net onto the graph g, wiring the argument
// nodes as the clone's input. This is how a critic is stacked on top
// of a policy's output node so that the policy gradient can flow
// through the critic's forward pass.
func CloneWithInputTo(net NeuralNet, axis int, inputs []*G.Node,
	g *G.ExprGraph) (NeuralNet, error) {
	return net.cloneWithInputTo(axis, inputs, g)
}

// concatInputs concatenates multiple input nodes along an axis,
// verifying that they share the graph g.
func concatInputs(axis int, inputs []*G.Node, g *G.ExprGraph) (*G.Node,
	error) {
	for _, input := range inputs {
		if input.Graph() != g {
			return nil, fmt.Errorf("concatinputs: not all inputs share " +
				"the target graph")
		}
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(axis, inputs...))
	} else {
		input = inputs[0]
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("concatinputs: input must be a matrix node")
	}
	return input, nil
}

// encodeLearnables gob-encodes the shape and data of every learnable
func encodeLearnables(enc *gob.Encoder, learnables G.Nodes) error {
	for i, node := range learnables {
		shape := []int(node.Value().Shape())
		if err := enc.Encode(shape); err != nil {
			return fmt.Errorf("could not encode shape of learnable %v: %v",
				i, err)
		}
		data := node.Value().Data().([]float64)
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("could not encode data of learnable %v: %v",
				i, err)
		}
	}
	return nil
}

// decodeLearnables gob-decodes weights and binds them to the argument
// learnables, which must have been created with the same architecture
// that was encoded.
func decodeLearnables(dec *gob.Decoder, learnables G.Nodes) error {
	for i, node := range learnables {
		var shape []int
		if err := dec.Decode(&shape); err != nil {
			return fmt.Errorf("could not decode shape of learnable %v: %v",
				i, err)
		}

		var data []float64
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("could not decode data of learnable %v: %v",
				i, err)
		}

		t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
		if err := G.Let(node, t); err != nil {
			return fmt.Errorf("could not bind learnable %v: %v", i, err)
		}
	}
	return nil
}
