// Package reference manages the reference ("truth") example set used
// by the adversarial objective: known-good structures with their
// scores, filtered to the best fraction and sampled in seeded batches.
package reference

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/exp/rand"
)

// Set is an immutable collection of scored reference states
type Set struct {
	scores []float64
	states [][]float64
}

// Batch is one sampled batch of reference examples, index-aligned
type Batch struct {
	States [][]float64
	Scores []float64
}

// NewSet returns a Set over the given scores and states. The slices
// must be index-aligned and are not copied.
func NewSet(scores []float64, states [][]float64) (*Set, error) {
	if len(scores) != len(states) {
		return nil, fmt.Errorf("newSet: %d scores for %d states",
			len(scores), len(states))
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("newSet: empty reference set")
	}
	return &Set{scores: scores, states: states}, nil
}

// LoadCSV reads a reference set from a headerless CSV file where each
// row is a score followed by the state's feature columns.
func LoadCSV(path string, features int) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loadCSV: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("loadCSV: %v", err)
	}

	scores := make([]float64, 0, len(records))
	states := make([][]float64, 0, len(records))
	for row, record := range records {
		if len(record) != features+1 {
			return nil, fmt.Errorf("loadCSV: row %d has %d columns, "+
				"expected %d", row, len(record), features+1)
		}
		score, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("loadCSV: row %d score: %v", row, err)
		}
		state := make([]float64, features)
		for i := 0; i < features; i++ {
			state[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("loadCSV: row %d column %d: %v",
					row, i+1, err)
			}
		}
		scores = append(scores, score)
		states = append(states, state)
	}

	return NewSet(scores, states)
}

// Len returns the number of reference examples
func (s *Set) Len() int {
	return len(s.scores)
}

// Best returns a new Set holding the best fraction of examples by
// score. Lower scores rank first when lowerIsBetter is set. At least
// one example is always kept.
func (s *Set) Best(fraction float64, lowerIsBetter bool) (*Set, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("best: fraction must be in (0, 1]")
	}

	order := make([]int, len(s.scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if lowerIsBetter {
			return s.scores[order[a]] < s.scores[order[b]]
		}
		return s.scores[order[a]] > s.scores[order[b]]
	})

	keep := int(float64(len(order)) * fraction)
	if keep < 1 {
		keep = 1
	}

	scores := make([]float64, keep)
	states := make([][]float64, keep)
	for i := 0; i < keep; i++ {
		scores[i] = s.scores[order[i]]
		states[i] = s.states[order[i]]
	}

	return &Set{scores: scores, states: states}, nil
}

// Sample draws n examples without replacement using the given source
// of randomness. When n exceeds the set size the whole set is
// returned in shuffled order.
func (s *Set) Sample(n int, rng *rand.Rand) *Batch {
	if n > len(s.scores) {
		n = len(s.scores)
	}

	perm := rng.Perm(len(s.scores))
	batch := &Batch{
		States: make([][]float64, n),
		Scores: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		batch.States[i] = s.states[perm[i]]
		batch.Scores[i] = s.scores[perm[i]]
	}
	return batch
}
