// Package config defines the JSON-serializable training configuration:
// environment dimensions, policy architecture, collection and update
// hyperparameters, reference-set handling, and run cadences. Solver
// and weight-initializer settings use the type-tagged wrappers from
// the solver and initwfn packages.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"molgen/initwfn"
	"molgen/policy"
	"molgen/ppo"
	"molgen/reward"
	"molgen/rollout"
	"molgen/solver"
)

// EnvironmentConfig describes the synthetic fragment-assembly
// environment.
type EnvironmentConfig struct {
	Features      int
	LibrarySize   int
	MaxCandidates int
	Capacity      int
}

// Validate returns an error if the configuration is unusable
func (e EnvironmentConfig) Validate() error {
	if e.Features < 1 || e.LibrarySize < 1 || e.MaxCandidates < 1 ||
		e.Capacity < 1 {
		return fmt.Errorf("validate: environment dimensions must be " +
			"positive")
	}
	return nil
}

// TruthConfig describes the reference example set and the adversarial
// cadence.
type TruthConfig struct {
	// Path to the reference CSV; empty disables the adversarial
	// objective entirely.
	Path string

	// Fraction of best-scoring examples retained after loading
	Fraction float64

	// LowerIsBetter ranks lower scores first when filtering
	LowerIsBetter bool

	// SampleSize is the reference batch drawn per adversarial or
	// discriminator update.
	SampleSize int

	// Frequency is the number of update cycles between
	// discriminator-only updates. Zero disables them.
	Frequency int

	// AdversarialWindow gates the fidelity reward bonus by episode
	// count.
	AdversarialWindow reward.Window
}

// Validate returns an error if the configuration is unusable
func (t TruthConfig) Validate() error {
	if t.Path == "" {
		return nil
	}
	if t.Fraction <= 0 || t.Fraction > 1 {
		return fmt.Errorf("validate: truth fraction must be in (0, 1]")
	}
	if t.SampleSize < 1 {
		return fmt.Errorf("validate: truth sample size must be positive")
	}
	if t.Frequency < 0 {
		return fmt.Errorf("validate: truth frequency must be non-negative")
	}
	return nil
}

// RunConfig describes run length, persistence, and stop conditions
type RunConfig struct {
	// Cycles is the maximum number of collect-update cycles
	Cycles int

	// SaveInterval is the number of cycles between checkpoints. Zero
	// disables periodic saves.
	SaveInterval int

	// LogInterval is the number of cycles between status lines
	LogInterval int

	CheckpointPath string
	ReturnsPath    string
	SamplesPath    string

	// SolvedThreshold stops the run early once the running-average
	// return over SolvedWindow episodes reaches it.
	SolvedThreshold float64
	SolvedWindow    int
}

// Validate returns an error if the configuration is unusable
func (r RunConfig) Validate() error {
	if r.Cycles < 1 {
		return fmt.Errorf("validate: need at least one cycle")
	}
	if r.SaveInterval < 0 || r.LogInterval < 0 {
		return fmt.Errorf("validate: intervals must be non-negative")
	}
	if r.SolvedWindow < 1 {
		return fmt.Errorf("validate: solved window must be positive")
	}
	return nil
}

// Config is the complete training configuration
type Config struct {
	Seed uint64

	Environment EnvironmentConfig
	Policy      policy.Config
	Rollout     rollout.Config
	Update      ppo.Config
	Truth       TruthConfig
	Run         RunConfig

	// Init describes the weight initializer for all networks
	Init *initwfn.InitWFn
}

// Load reads and validates a configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}

	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("load: could not parse config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}
	return c, nil
}

// Save writes the configuration to a JSON file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("save: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Validate checks every section and their cross-constraints
func (c *Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return fmt.Errorf("environment: %v", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %v", err)
	}
	if err := c.Rollout.Validate(); err != nil {
		return fmt.Errorf("rollout: %v", err)
	}
	if err := c.Update.Validate(); err != nil {
		return fmt.Errorf("update: %v", err)
	}
	if err := c.Truth.Validate(); err != nil {
		return fmt.Errorf("truth: %v", err)
	}
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run: %v", err)
	}
	if c.Init == nil {
		return fmt.Errorf("no weight initializer configured")
	}

	if c.Policy.Features != c.Environment.Features {
		return fmt.Errorf("policy expects %d features, environment "+
			"produces %d", c.Policy.Features, c.Environment.Features)
	}
	if c.Policy.MaxCandidates < c.Environment.MaxCandidates {
		return fmt.Errorf("policy slate width %d is narrower than the "+
			"environment's %d candidates", c.Policy.MaxCandidates,
			c.Environment.MaxCandidates)
	}
	if c.Policy.SelectionBatch != c.Rollout.Workers {
		return fmt.Errorf("selection batch %d must equal the worker pool "+
			"size %d", c.Policy.SelectionBatch, c.Rollout.Workers)
	}
	if c.Truth.Path != "" && c.Update.RefRows < c.Truth.SampleSize {
		return fmt.Errorf("update reserves %d reference rows for truth "+
			"batches of %d", c.Update.RefRows, c.Truth.SampleSize)
	}

	return nil
}

// Default returns a small runnable configuration for demo training
// runs against the synthetic fragment environment.
func Default() (*Config, error) {
	adam, err := solver.NewDefaultAdam(1e-3, 1)
	if err != nil {
		return nil, fmt.Errorf("default: %v", err)
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, fmt.Errorf("default: %v", err)
	}

	return &Config{
		Seed: 1,
		Environment: EnvironmentConfig{
			Features:      16,
			LibrarySize:   32,
			MaxCandidates: 8,
			Capacity:      12,
		},
		Policy: policy.Config{
			Features:       16,
			MaxCandidates:  8,
			SelectionBatch: 4,
			ActorHidden:    []int{64, 64},
			CriticHidden:   []int{64, 64},
			DiscHidden:     []int{64, 64},
			RndHidden:      []int{64},
			RndOutputs:     16,
		},
		Rollout: rollout.Config{
			Workers:          4,
			Horizon:          11,
			SampleBudget:     128,
			InnovationWindow: reward.Window{After: 0, Before: 200},
			InnovationScale:  0.1,
		},
		Update: ppo.Config{
			Gamma:   0.99,
			ClipEps: 0.2,
			Eta:     0.01,
			Upsilon: 0.5,
			Alpha:   0.5,
			Epochs:  4,
			RefRows: 16,
			Solver:  adam,
		},
		Truth: TruthConfig{
			Fraction:          0.01,
			LowerIsBetter:     true,
			SampleSize:        16,
			Frequency:         8,
			AdversarialWindow: reward.Window{After: 100},
		},
		Run: RunConfig{
			Cycles:          100,
			SaveInterval:    10,
			LogInterval:     1,
			CheckpointPath:  "policy.ckpt",
			ReturnsPath:     "returns.gob",
			SamplesPath:     "samples.csv",
			SolvedThreshold: 2.0,
			SolvedWindow:    100,
		},
		Init: init,
	}, nil
}
