package checkpoint

import (
	"path/filepath"
	"testing"

	G "gorgonia.org/gorgonia"

	"molgen/policy"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	p, err := policy.New(policy.Config{
		Features:       2,
		MaxCandidates:  2,
		SelectionBatch: 1,
		ActorHidden:    []int{4},
		CriticHidden:   []int{4},
		DiscHidden:     []int{4},
		RndHidden:      []int{4},
		RndOutputs:     3,
	}, G.GlorotU(1.0))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "policy.ckpt")
	if err := Save(path, &Checkpoint{
		Policy:   p,
		Episodes: 42,
		Cycles:   7,
	}); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Episodes != 42 || loaded.Cycles != 7 {
		t.Errorf("expected progress (42, 7), got (%d, %d)", loaded.Episodes,
			loaded.Cycles)
	}
	if loaded.Policy.Version() != p.Version() {
		t.Errorf("expected version %d, got %d", p.Version(),
			loaded.Policy.Version())
	}

	want := p.Actor().Learnables()
	got := loaded.Policy.Actor().Learnables()
	for i := range want {
		wantData := want[i].Value().Data().([]float64)
		gotData := got[i].Value().Data().([]float64)
		for j := range wantData {
			if wantData[j] != gotData[j] {
				t.Fatalf("actor learnable %d diverges at element %d", i, j)
			}
		}
	}
}

func TestLoadSurfacesMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ckpt")); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}
