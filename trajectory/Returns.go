package trajectory

import (
	"gonum.org/v1/gonum/stat"
)

// normEpsilon keeps the standardization denominator away from zero for
// near-constant return sequences.
const normEpsilon = 1e-5

// Returns computes the discounted return of every step. The buffer is
// walked in reverse insertion order with a running accumulator that is
// reset to zero at each terminal flag, so returns never leak across an
// episode boundary. Returns are assembled back into forward order.
func Returns(rewards []float64, terminals []bool, gamma float64) []float64 {
	returns := make([]float64, len(rewards))
	acc := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		if terminals[i] {
			acc = 0.0
		}
		acc = rewards[i] + gamma*acc
		returns[i] = acc
	}
	return returns
}

// Normalize standardizes xs to zero mean and unit variance in place
// and returns it. The epsilon keeps the division finite when all
// values are equal.
func Normalize(xs []float64) []float64 {
	mean, std := stat.MeanStdDev(xs, nil)
	for i := range xs {
		xs[i] = (xs[i] - mean) / (std + normEpsilon)
	}
	return xs
}
