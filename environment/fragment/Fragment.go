// Package fragment implements a synthetic fragment-assembly
// environment. A construction starts from a seed fragment vector and
// grows by blending in further fragments drawn from a fixed library;
// the state is the embedding of the structure built so far. The
// environment is deliberately cheap so that the rollout and update
// machinery can be exercised end to end without a chemistry backend.
package fragment

import (
	"fmt"

	"golang.org/x/exp/rand"

	"molgen/environment"
)

// Default construction parameters
const (
	DefaultLibrarySize   = 32
	DefaultMaxCandidates = 8
	DefaultCapacity      = 12
)

// Fragment is a synthetic fragment-assembly environment
type Fragment struct {
	features      int
	maxCandidates int
	capacity      int

	library [][]float64
	rng     *rand.Rand

	state []float64
	count int
}

// New returns a new fragment-assembly environment. The fragment
// library is generated from the seed, so equal seeds give identical
// environments.
func New(features, librarySize, maxCandidates, capacity int,
	seed uint64) (*Fragment, error) {
	if features <= 0 {
		return nil, fmt.Errorf("new: features must be positive")
	}
	if librarySize <= 0 || maxCandidates <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("new: library size, candidate cap, and " +
			"capacity must be positive")
	}

	rng := rand.New(rand.NewSource(seed))
	library := make([][]float64, librarySize)
	for i := range library {
		library[i] = make([]float64, features)
		for j := range library[i] {
			library[i][j] = rng.NormFloat64()
		}
	}

	return &Fragment{
		features:      features,
		maxCandidates: maxCandidates,
		capacity:      capacity,
		library:       library,
		rng:           rng,
	}, nil
}

// Maker returns an environment.Maker producing independent
// fragment-assembly environments with the given dimensions.
func Maker(features, librarySize, maxCandidates,
	capacity int) environment.Maker {
	return func(seed uint64) (environment.Environment, error) {
		return New(features, librarySize, maxCandidates, capacity, seed)
	}
}

// Features returns the dimensionality of state encodings
func (f *Fragment) Features() int {
	return f.features
}

// Reset starts a new construction from a random library fragment
func (f *Fragment) Reset() ([]float64, [][]float64, bool, error) {
	seed := f.library[f.rng.Intn(len(f.library))]
	state := make([]float64, f.features)
	copy(state, seed)

	f.state = state
	f.count = 1

	return f.observe()
}

// ResetFrom starts a new construction from the given seed state. A
// seed of the wrong dimensionality is rejected.
func (f *Fragment) ResetFrom(seed []float64) ([]float64, [][]float64, bool,
	error) {
	if len(seed) != f.features {
		return nil, nil, false, fmt.Errorf("resetFrom: seed has %d "+
			"features, environment expects %d", len(seed), f.features)
	}

	state := make([]float64, f.features)
	copy(state, seed)

	f.state = state
	f.count = 1

	return f.observe()
}

// Step commits the chosen candidate as the new current state
func (f *Fragment) Step(next []float64) ([]float64, [][]float64, bool,
	error) {
	if f.state == nil {
		return nil, nil, false, fmt.Errorf("step: environment not reset")
	}
	if len(next) != f.features {
		return nil, nil, false, fmt.Errorf("step: candidate has %d "+
			"features, environment expects %d", len(next), f.features)
	}

	copy(f.state, next)
	f.count++

	return f.observe()
}

// observe returns the current state, its candidate set, and whether
// the construction has reached capacity. At capacity the candidate
// set is empty.
func (f *Fragment) observe() ([]float64, [][]float64, bool, error) {
	state := make([]float64, f.features)
	copy(state, f.state)

	if f.count >= f.capacity {
		return state, nil, true, nil
	}

	n := 1 + f.rng.Intn(f.maxCandidates)
	candidates := make([][]float64, n)
	for i := range candidates {
		frag := f.library[f.rng.Intn(len(f.library))]
		candidate := make([]float64, f.features)
		for j := range candidate {
			// Blend the fragment into the running embedding, damped
			// so embeddings stay bounded as constructions grow.
			candidate[j] = 0.5*f.state[j] + 0.5*frag[j]
		}
		candidates[i] = candidate
	}

	return state, candidates, false, nil
}

// Score is the synthetic terminal objective: the mean absolute
// activation of the final embedding. Used as the default reward for
// demo runs.
func Score(state []float64) float64 {
	if len(state) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range state {
		if x < 0 {
			total -= x
		} else {
			total += x
		}
	}
	return total / float64(len(state))
}
