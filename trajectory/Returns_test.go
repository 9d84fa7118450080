package trajectory

import (
	"math"
	"testing"
)

const tolerance = 1e-10

func TestReturnsResetsAtTerminals(t *testing.T) {
	rewards := []float64{0, 0, 5}
	terminals := []bool{false, false, true}

	returns := Returns(rewards, terminals, 0.9)

	expected := []float64{4.05, 4.5, 5.0}
	for i := range expected {
		if math.Abs(returns[i]-expected[i]) > tolerance {
			t.Errorf("step %d: expected return %v, got %v", i, expected[i],
				returns[i])
		}
	}
}

func TestReturnsNoLeakAcrossEpisodes(t *testing.T) {
	// Two episodes back to back. The second episode's large reward
	// must not discount into the first.
	rewards := []float64{1, 2, 0, 100}
	terminals := []bool{false, true, false, true}

	returns := Returns(rewards, terminals, 0.5)

	expected := []float64{2, 2, 50, 100}
	for i := range expected {
		if math.Abs(returns[i]-expected[i]) > tolerance {
			t.Errorf("step %d: expected return %v, got %v", i, expected[i],
				returns[i])
		}
	}
}

func TestReturnsTruncatedTail(t *testing.T) {
	// A horizon-truncated trajectory ends with a terminal flag as
	// well, so the accumulator still resets.
	rewards := []float64{0, 3}
	terminals := []bool{true, true}

	returns := Returns(rewards, terminals, 0.9)

	expected := []float64{0, 3}
	for i := range expected {
		if math.Abs(returns[i]-expected[i]) > tolerance {
			t.Errorf("step %d: expected return %v, got %v", i, expected[i],
				returns[i])
		}
	}
}

func TestNormalizeZeroMeanUnitVariance(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	Normalize(xs)

	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if math.Abs(mean) > 1e-8 {
		t.Errorf("expected zero mean, got %v", mean)
	}

	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	if math.Abs(variance-1.0) > 1e-3 {
		t.Errorf("expected unit variance, got %v", variance)
	}
}

func TestNormalizeConstantSequenceFinite(t *testing.T) {
	xs := []float64{2, 2, 2, 2}
	Normalize(xs)

	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Errorf("step %d: expected finite value, got %v", i, x)
		}
	}
}
