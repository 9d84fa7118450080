// Package environment defines the contract between the rollout engine
// and a graph-construction environment. An environment owns the
// partially built structure; at each decision point it exposes the
// current state encoding together with the encodings of every legal
// next state. The rollout engine chooses one candidate and hands it
// back through Step.
package environment

// Environment is a single graph-construction instance. Implementations
// are not safe for concurrent use; each worker owns exactly one.
//
// Rewards are not produced here. Terminal states are scored by a
// separate reward collaborator, so Step only reports the transition.
type Environment interface {
	// Reset discards the current construction and starts a new one,
	// returning the initial state and its candidate set. A done result
	// means the initial state has no legal continuations.
	Reset() (state []float64, candidates [][]float64, done bool, err error)

	// ResetFrom starts a new construction from the given seed state,
	// for conditional generation. An error means the environment
	// rejected the seed.
	ResetFrom(seed []float64) (state []float64, candidates [][]float64,
		done bool, err error)

	// Step commits the chosen candidate as the new current state and
	// returns the resulting state with its candidate set.
	Step(next []float64) (state []float64, candidates [][]float64,
		done bool, err error)

	// Features returns the dimensionality of state encodings.
	Features() int
}

// Maker constructs an independent environment instance. Each worker
// calls the Maker once with its own seed so that no two workers share
// state.
type Maker func(seed uint64) (Environment, error)
