// Package reward defines the terminal-state scoring contract. Scoring
// can fail per state (malformed structure, scorer backend error);
// failures are reported as explicit outcomes rather than aborting the
// round, and degrade to a zero reward at the call site.
package reward

import (
	"fmt"
)

// Outcome is the result of scoring one terminal state: either a value
// or the reason scoring failed.
type Outcome struct {
	Value float64
	Err   error
}

// Ok returns whether the outcome carries a value
func (o Outcome) Ok() bool {
	return o.Err == nil
}

// OrZero returns the scored value, or zero if scoring failed
func (o Outcome) OrZero() float64 {
	if o.Err != nil {
		return 0
	}
	return o.Value
}

// Scorer scores terminal states in batched form. Implementations
// return exactly one Outcome per input state, index-aligned.
type Scorer interface {
	Score(states [][]float64) []Outcome
}

// FuncScorer adapts a per-state scoring function into a Scorer
type FuncScorer func(state []float64) (float64, error)

// Score implements the Scorer interface
func (f FuncScorer) Score(states [][]float64) []Outcome {
	outcomes := make([]Outcome, len(states))
	for i, state := range states {
		value, err := f(state)
		if err != nil {
			outcomes[i] = Outcome{Err: fmt.Errorf("score: %v", err)}
			continue
		}
		outcomes[i] = Outcome{Value: value}
	}
	return outcomes
}

// Fidelity is a batched discriminator score over states, index-aligned
// with its input.
type Fidelity func(states [][]float64) ([]float64, error)

// adversarialScale dampens the fidelity signal relative to the main
// objective.
const adversarialScale = 0.5

// Adversarial wraps a main Scorer and adds a scaled discriminator
// fidelity bonus to each successful outcome. The window gates whether
// the bonus applies for the current episode count.
type Adversarial struct {
	Main     Scorer
	Fidelity Fidelity
	Window   Window
}

// Score scores states with the main scorer; when the adversarial
// window is active at episode, each successfully scored state also
// receives the scaled fidelity bonus. A fidelity failure leaves the
// main values untouched.
func (a *Adversarial) Score(states [][]float64, episode int) []Outcome {
	outcomes := a.Main.Score(states)
	if !a.Window.Contains(episode) {
		return outcomes
	}

	fidelities, err := a.Fidelity(states)
	if err != nil {
		return outcomes
	}
	for i := range outcomes {
		if outcomes[i].Ok() {
			outcomes[i].Value += adversarialScale * fidelities[i]
		}
	}
	return outcomes
}
