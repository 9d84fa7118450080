// Package network implements the feedforward networks used by the
// actor, critic, discriminator, and novelty heads. Networks are built
// on Gorgonia computational graphs; batch sizes are fixed per graph,
// and CloneWithBatch/CloneWithInput create copies for new batch sizes
// or for composing several heads on a shared graph.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a feedforward network on a Gorgonia graph.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network onto a fresh graph with a new
	// input batch size.
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInput clones the network onto the graph of the given
	// node, using that node as the network input. This is how several
	// heads are composed on a single update graph.
	CloneWithInput(*G.Node) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the input node before running the
	// forward pass. The input is row-major with BatchSize() rows.
	SetInput([]float64) error

	// Set overwrites this network's weights with those of another
	// network of identical architecture.
	Set(NeuralNet) error

	// Polyak sets the weights to a polyak average between the current
	// weights and those of another network.
	Polyak(NeuralNet, float64) error

	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Output returns the value of the prediction node after the graph
	// has been run.
	Output() G.Value

	// Prediction returns the node holding the network output.
	Prediction() *G.Node
}

// Set copies the weights of the source network into dest.
func Set(dest, source NeuralNet) error {
	return dest.Set(source)
}
