package config

import (
	"path/filepath"
	"testing"

	"molgen/solver"
)

func TestDefaultValidates(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Rollout.Workers != c.Rollout.Workers {
		t.Errorf("expected %d workers, got %d", c.Rollout.Workers,
			loaded.Rollout.Workers)
	}
	if loaded.Update.Gamma != c.Update.Gamma {
		t.Errorf("expected gamma %v, got %v", c.Update.Gamma,
			loaded.Update.Gamma)
	}

	// The type-tagged solver wrapper survives the round trip as a
	// usable solver.
	if loaded.Update.Solver == nil {
		t.Fatal("solver not decoded")
	}
	if loaded.Update.Solver.Type != solver.Adam {
		t.Errorf("expected Adam solver, got %v", loaded.Update.Solver.Type)
	}
	if loaded.Update.Solver.New() == nil {
		t.Error("decoded solver cannot create instances")
	}

	if loaded.Init == nil {
		t.Fatal("initializer not decoded")
	}
	if loaded.Init.InitWFn() == nil {
		t.Error("decoded initializer is unusable")
	}
}

func TestValidateCrossConstraints(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}

	c.Policy.SelectionBatch = c.Rollout.Workers + 1
	if err := c.Validate(); err == nil {
		t.Error("expected selection batch / worker mismatch to fail")
	}
	c.Policy.SelectionBatch = c.Rollout.Workers

	c.Policy.MaxCandidates = c.Environment.MaxCandidates - 1
	if err := c.Validate(); err == nil {
		t.Error("expected narrow slate to fail")
	}
	c.Policy.MaxCandidates = c.Environment.MaxCandidates

	c.Truth.Path = "truth.csv"
	c.Update.RefRows = c.Truth.SampleSize - 1
	if err := c.Validate(); err == nil {
		t.Error("expected undersized reference reservation to fail")
	}
}
