// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}

// ArgMax returns the index of the maximum value in a list. Ties are
// broken by taking the lowest index.
func ArgMax(floats ...float64) int {
	argmax := 0
	for i, val := range floats {
		if val > floats[argmax] {
			argmax = i
		}
	}
	return argmax
}

// LogSumExp computes log(Σ exp(x)) in a numerically stable way by
// shifting by the maximum value first.
func LogSumExp(x ...float64) float64 {
	max := Max(x...)
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, val := range x {
		sum += math.Exp(val - max)
	}
	return max + math.Log(sum)
}

// LogSoftmax returns the log of the softmax distribution induced by
// the logits x.
func LogSoftmax(x []float64) []float64 {
	lse := LogSumExp(x...)
	out := make([]float64, len(x))
	for i, val := range x {
		out[i] = val - lse
	}
	return out
}

// Softmin returns the softmax distribution over the negated inputs,
// placing the most mass on the lowest values.
func Softmin(x []float64) []float64 {
	neg := make([]float64, len(x))
	for i, val := range x {
		neg[i] = -val
	}
	logits := LogSoftmax(neg)
	for i, val := range logits {
		neg[i] = math.Exp(val)
	}
	return neg
}

// AllFinite returns whether every value in the list is finite.
func AllFinite(floats ...float64) bool {
	for _, val := range floats {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return false
		}
	}
	return true
}
