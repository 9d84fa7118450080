package reward

import (
	"errors"
	"testing"
)

func TestFuncScorerReportsPerStateFailures(t *testing.T) {
	scorer := FuncScorer(func(state []float64) (float64, error) {
		if len(state) == 0 {
			return 0, errors.New("empty state")
		}
		return state[0], nil
	})

	outcomes := scorer.Score([][]float64{{3}, {}, {7}})

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Ok() || outcomes[0].Value != 3 {
		t.Errorf("expected outcome 3, got %+v", outcomes[0])
	}
	if outcomes[1].Ok() {
		t.Error("expected failure outcome for empty state")
	}
	if outcomes[1].OrZero() != 0 {
		t.Errorf("expected failed outcome to degrade to 0, got %v",
			outcomes[1].OrZero())
	}
	if !outcomes[2].Ok() || outcomes[2].Value != 7 {
		t.Errorf("expected outcome 7, got %+v", outcomes[2])
	}
}

func TestWindowExclusiveBounds(t *testing.T) {
	w := Window{After: 2, Before: 5}

	active := []int{3, 4}
	inactive := []int{0, 1, 2, 5, 6}

	for _, e := range active {
		if !w.Contains(e) {
			t.Errorf("expected window active at episode %d", e)
		}
	}
	for _, e := range inactive {
		if w.Contains(e) {
			t.Errorf("expected window inactive at episode %d", e)
		}
	}
}

func TestWindowNoUpperCutoff(t *testing.T) {
	w := Window{After: 10}
	if w.Contains(10) {
		t.Error("expected lower bound exclusive")
	}
	if !w.Contains(1000000) {
		t.Error("expected no upper cutoff when Before is 0")
	}
}

func TestDisabledWindow(t *testing.T) {
	w := Disabled()
	for _, e := range []int{0, 1, 100, 1 << 30} {
		if w.Contains(e) {
			t.Errorf("expected disabled window inactive at episode %d", e)
		}
	}
}

func TestAdversarialAddsScaledFidelityInsideWindow(t *testing.T) {
	main := FuncScorer(func(state []float64) (float64, error) {
		if state[0] < 0 {
			return 0, errors.New("invalid structure")
		}
		return state[0], nil
	})
	adv := &Adversarial{
		Main: main,
		Fidelity: func(states [][]float64) ([]float64, error) {
			fidelities := make([]float64, len(states))
			for i := range fidelities {
				fidelities[i] = 1.0
			}
			return fidelities, nil
		},
		Window: Window{After: 0, Before: 10},
	}

	outcomes := adv.Score([][]float64{{2}, {-1}}, 5)
	if outcomes[0].Value != 2.5 {
		t.Errorf("expected 2 + 0.5 fidelity, got %v", outcomes[0].Value)
	}
	if outcomes[1].Ok() {
		t.Error("expected failed main outcome to stay failed")
	}

	// Outside the window the fidelity bonus must not apply
	outcomes = adv.Score([][]float64{{2}}, 20)
	if outcomes[0].Value != 2 {
		t.Errorf("expected plain main score outside window, got %v",
			outcomes[0].Value)
	}
}
