package policy

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func testConfig() Config {
	return Config{
		Features:       3,
		MaxCandidates:  4,
		SelectionBatch: 2,
		ActorHidden:    []int{8},
		CriticHidden:   []int{8},
		DiscHidden:     []int{8},
		RndHidden:      []int{8},
		RndOutputs:     5,
	}
}

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(testConfig(), G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSelectActionsShapes(t *testing.T) {
	p := testPolicy(t)
	rng := rand.New(rand.NewSource(1))

	states := [][]float64{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	}
	candidates := [][][]float64{
		{{1, 0, 0}, {0, 1, 0}},
		{{0, 0, 1}, {1, 1, 0}, {0, 1, 1}},
	}

	actions, logProbs, err := p.SelectActions(states, candidates, rng)
	if err != nil {
		t.Fatal(err)
	}

	if len(actions) != 2 || len(logProbs) != 2 {
		t.Fatalf("expected 2 decision points, got %d actions and %d "+
			"log-prob sets", len(actions), len(logProbs))
	}
	for i := range actions {
		if len(actions[i]) != p.NumChannels() {
			t.Errorf("decision %d: expected %d action channels, got %d", i,
				p.NumChannels(), len(actions[i]))
		}
		if actions[i][0] < 0 || actions[i][0] >= len(candidates[i]) {
			t.Errorf("decision %d: action %d outside candidate set of %d",
				i, actions[i][0], len(candidates[i]))
		}
		if logProbs[i][0] > 0 {
			t.Errorf("decision %d: log-probability %v is positive", i,
				logProbs[i][0])
		}
	}
}

func TestSelectActionsValidatesInput(t *testing.T) {
	p := testPolicy(t)
	rng := rand.New(rand.NewSource(1))

	// Too many decision points for the selection batch
	states := [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	candidates := [][][]float64{{{1, 0, 0}}, {{1, 0, 0}}, {{1, 0, 0}}}
	if _, _, err := p.SelectActions(states, candidates, rng); err == nil {
		t.Error("expected error for oversized decision batch")
	}

	// Empty candidate set
	if _, _, err := p.SelectActions([][]float64{{0, 0, 0}},
		[][][]float64{{}}, rng); err == nil {
		t.Error("expected error for empty candidate set")
	}

	// Slate overflow
	wide := [][][]float64{{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0},
		{1, 0, 0}}}
	if _, _, err := p.SelectActions([][]float64{{0, 0, 0}}, wide,
		rng); err == nil {
		t.Error("expected error for candidate set wider than the slate")
	}
}

func TestCommitRefreshesSnapshot(t *testing.T) {
	p := testPolicy(t)

	if p.Version() != 0 {
		t.Fatalf("expected fresh policy at version 0, got %d", p.Version())
	}

	// Perturb the live actor so it diverges from the snapshot
	weights := p.Actor().Learnables()[0].Value().(*tensor.Dense)
	perturbed, err := weights.AddScalar(0.5, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := G.Let(p.Actor().Learnables()[0], perturbed); err != nil {
		t.Fatal(err)
	}

	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}
	if p.Version() != 1 {
		t.Errorf("expected version 1 after commit, got %d", p.Version())
	}

	// Snapshot parameters must be bit-identical to the live actor
	live := p.Actor().Learnables()
	frozen := p.OldActor().Learnables()
	for i := range live {
		liveData := live[i].Value().Data().([]float64)
		frozenData := frozen[i].Value().Data().([]float64)
		for j := range liveData {
			if liveData[j] != frozenData[j] {
				t.Fatalf("learnable %d diverges at element %d after commit",
					i, j)
			}
		}
	}
}

func TestFidelityInUnitInterval(t *testing.T) {
	p := testPolicy(t)

	scores, err := p.Fidelity([][]float64{{0.1, 0.2, 0.3}, {1, -1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	for i, s := range scores {
		if s <= 0 || s >= 1 {
			t.Errorf("score %d: expected value in (0, 1), got %v", i, s)
		}
	}
}

func TestNoveltyScoresNonNegative(t *testing.T) {
	p := testPolicy(t)

	scores, err := p.NoveltyScores([][]float64{{0.1, 0.2, 0.3}})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] < 0 {
		t.Errorf("expected non-negative novelty, got %v", scores[0])
	}
	if math.IsNaN(scores[0]) {
		t.Error("novelty score is NaN")
	}
}

func TestGobRoundTrip(t *testing.T) {
	p := testPolicy(t)
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatal(err)
	}

	decoded := &Policy{}
	if err := gob.NewDecoder(&buf).Decode(decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Version() != p.Version() {
		t.Errorf("expected version %d, got %d", p.Version(),
			decoded.Version())
	}

	// Decoded actor weights match the originals
	want := p.Actor().Learnables()
	got := decoded.Actor().Learnables()
	if len(want) != len(got) {
		t.Fatalf("expected %d learnables, got %d", len(want), len(got))
	}
	for i := range want {
		wantData := want[i].Value().Data().([]float64)
		gotData := got[i].Value().Data().([]float64)
		for j := range wantData {
			if wantData[j] != gotData[j] {
				t.Fatalf("learnable %d diverges at element %d", i, j)
			}
		}
	}

	// The decoded policy must still run forward passes
	if _, err := decoded.Fidelity([][]float64{{0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
}
