package reference

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/exp/rand"
)

func TestBestKeepsLowestScores(t *testing.T) {
	set, err := NewSet(
		[]float64{5, 1, 3, 2, 4},
		[][]float64{{5}, {1}, {3}, {2}, {4}},
	)
	if err != nil {
		t.Fatal(err)
	}

	best, err := set.Best(0.4, true)
	if err != nil {
		t.Fatal(err)
	}

	if best.Len() != 2 {
		t.Fatalf("expected 2 kept examples, got %d", best.Len())
	}
	if best.scores[0] != 1 || best.scores[1] != 2 {
		t.Errorf("expected scores [1 2], got %v", best.scores)
	}
}

func TestBestKeepsAtLeastOne(t *testing.T) {
	set, err := NewSet([]float64{2, 1}, [][]float64{{2}, {1}})
	if err != nil {
		t.Fatal(err)
	}

	best, err := set.Best(0.01, true)
	if err != nil {
		t.Fatal(err)
	}
	if best.Len() != 1 {
		t.Fatalf("expected 1 kept example, got %d", best.Len())
	}
	if best.scores[0] != 1 {
		t.Errorf("expected best score 1, got %v", best.scores[0])
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	set, err := NewSet(
		[]float64{1, 2, 3, 4},
		[][]float64{{1}, {2}, {3}, {4}},
	)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	batch := set.Sample(3, rng)

	if len(batch.States) != 3 || len(batch.Scores) != 3 {
		t.Fatalf("expected batch of 3, got %d states and %d scores",
			len(batch.States), len(batch.Scores))
	}
	seen := map[float64]bool{}
	for i, score := range batch.Scores {
		if seen[score] {
			t.Errorf("score %v sampled twice", score)
		}
		seen[score] = true
		if batch.States[i][0] != score {
			t.Errorf("state and score misaligned at %d", i)
		}
	}

	// Oversampling clamps to the set size
	batch = set.Sample(10, rng)
	if len(batch.States) != 4 {
		t.Errorf("expected clamped batch of 4, got %d", len(batch.States))
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truth.csv")
	content := "1.5,0.1,0.2\n-2.0,0.3,0.4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadCSV(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 examples, got %d", set.Len())
	}
	if set.scores[1] != -2.0 {
		t.Errorf("expected score -2.0, got %v", set.scores[1])
	}
	if set.states[0][1] != 0.2 {
		t.Errorf("expected feature 0.2, got %v", set.states[0][1])
	}

	if _, err := LoadCSV(path, 3); err == nil {
		t.Error("expected column-count mismatch error")
	}
}
