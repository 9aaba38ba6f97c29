package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is a single layer of a feedforward neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(*G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feedforward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias to all samples along the batch dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// addLayers creates the fully connected layers of an MLP on the graph
// g. For index i, sizes[i] is the number of units in layer i,
// biases[i] is whether layer i has a bias unit, and activations[i] is
// the activation of layer i. Weight initialization is given by init;
// biases always start at zero. The prefix disambiguates weight names
// when multiple networks share a graph.
func addLayers(g *G.ExprGraph, features int, sizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, prefix string) []Layer {
	layers := make([]Layer, len(sizes))

	in := features
	for i, out := range sizes {
		weights := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(in, out),
			G.WithName(fmt.Sprintf("%vL%vW", prefix, i)),
			G.WithInit(init),
		)

		var bias *G.Node
		if biases[i] {
			bias = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, out),
				G.WithName(fmt.Sprintf("%vL%vB", prefix, i)),
				G.WithInit(G.Zeroes()),
			)
		}

		layers[i] = &fcLayer{
			weights: weights,
			bias:    bias,
			act:     activations[i],
		}
		in = out
	}

	return layers
}

// cloneLayersTo clones each layer in layers to the graph g
func cloneLayersTo(layers []Layer, g *G.ExprGraph) []Layer {
	cloned := make([]Layer, len(layers))
	for i := range layers {
		cloned[i] = layers[i].CloneTo(g)
	}
	return cloned
}

// layerLearnables collects the weight and bias nodes of layers
func layerLearnables(layers []Layer) G.Nodes {
	learnables := make([]*G.Node, 0, 2*len(layers))
	for i := range layers {
		learnables = append(learnables, layers[i].Weights())
		if bias := layers[i].Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// forward runs the forward pass of layers on the input node
func forward(layers []Layer, input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range layers {
		if pred, err = l.fwd(pred); err != nil {
			return nil, fmt.Errorf("forward: could not compute forward "+
				"pass of layer %v: %v", i, err)
		}
	}
	return pred, nil
}

// validateArch checks that there is one activation and one bias flag
// per layer
func validateArch(op string, sizes []int, biases []bool,
	activations []*Activation) error {
	if len(sizes) != len(activations) {
		return fmt.Errorf("%v: invalid number of activations\n\twant(%v)"+
			"\n\thave(%v)", op, len(sizes), len(activations))
	}
	if len(sizes) != len(biases) {
		return fmt.Errorf("%v: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", op, len(sizes), len(biases))
	}
	return nil
}
