package trajectory

import (
	"testing"
)

func step(state float64) Step {
	return Step{
		State:      []float64{state},
		Candidates: [][]float64{{state + 1}},
		NextState:  []float64{state + 1},
		Actions:    []int{0},
		LogProbs:   []float64{-0.5},
	}
}

func TestSlotBuffersMergePreservesOrder(t *testing.T) {
	slots := NewSlotBuffers(2)
	agg := NewBuffer()

	if err := slots.Append(0, step(1)); err != nil {
		t.Fatal(err)
	}
	if err := slots.Append(1, step(10)); err != nil {
		t.Fatal(err)
	}
	if err := slots.Append(0, step(2)); err != nil {
		t.Fatal(err)
	}

	slots.MergeInto(agg)

	if agg.Len() != 3 {
		t.Fatalf("expected 3 aggregated steps, got %d", agg.Len())
	}

	// Slot order, insertion order within slot
	expected := []float64{1, 2, 10}
	for i, s := range agg.Steps() {
		if s.State[0] != expected[i] {
			t.Errorf("step %d: expected state %v, got %v", i, expected[i],
				s.State[0])
		}
	}

	// Merging clears the slot sequences
	if slots.TotalLen() != 0 {
		t.Errorf("expected empty slots after merge, got %d steps",
			slots.TotalLen())
	}

	// A second merge must not duplicate steps
	slots.MergeInto(agg)
	if agg.Len() != 3 {
		t.Errorf("expected 3 steps after second merge, got %d", agg.Len())
	}
}

func TestSetLastOutcomeAndAddToLastReward(t *testing.T) {
	slots := NewSlotBuffers(1)

	if err := slots.Append(0, step(1)); err != nil {
		t.Fatal(err)
	}
	if err := slots.Append(0, step(2)); err != nil {
		t.Fatal(err)
	}

	if err := slots.SetLastOutcome(0, 5.0, true); err != nil {
		t.Fatal(err)
	}
	if err := slots.AddToLastReward(0, 0.25); err != nil {
		t.Fatal(err)
	}

	agg := NewBuffer()
	slots.MergeInto(agg)

	steps := agg.Steps()
	if steps[0].Reward != 0 || steps[0].Terminal {
		t.Errorf("first step should be untouched, got reward %v terminal %v",
			steps[0].Reward, steps[0].Terminal)
	}
	if steps[1].Reward != 5.25 {
		t.Errorf("expected last reward 5.25, got %v", steps[1].Reward)
	}
	if !steps[1].Terminal {
		t.Error("expected last step terminal")
	}
}

func TestSlotBuffersErrorsOnEmptySlot(t *testing.T) {
	slots := NewSlotBuffers(1)

	if err := slots.SetLastOutcome(0, 1.0, false); err == nil {
		t.Error("expected error setting outcome on empty slot")
	}
	if err := slots.AddToLastReward(0, 1.0); err == nil {
		t.Error("expected error adding reward on empty slot")
	}
	if err := slots.Append(3, step(0)); err == nil {
		t.Error("expected error appending to missing slot")
	}
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer()
	b.Add(step(1))
	b.Add(step(2))

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer after clear, got %d", b.Len())
	}
}
