// Package train binds collection to the update engine: it owns the
// policy, trackers, reference set, and checkpointing, and runs the
// collect-update cycle for both the parallel and serial engines.
package train

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosuri/uilive"
	"golang.org/x/exp/rand"

	"molgen/checkpoint"
	"molgen/config"
	"molgen/environment/fragment"
	"molgen/policy"
	"molgen/ppo"
	"molgen/reference"
	"molgen/reward"
	"molgen/rollout"
	"molgen/tracker"
	"molgen/trajectory"
)

// collector is the common surface of the parallel coordinator and the
// serial loop.
type collector interface {
	Collect(*trajectory.Buffer) (*rollout.CollectStats, error)
	Episodes() int
}

// Experiment is one training run
type Experiment struct {
	config *config.Config
	policy *policy.Policy
	engine *ppo.Engine
	truth  *reference.Set
	rng    *rand.Rand

	returns *tracker.Returns
	samples *tracker.SampleLog

	// Progress carried across resumed runs
	startEpisodes int
	cycles        int
}

// New prepares an experiment from the configuration. With resume set,
// the policy and progress are restored from the configured checkpoint
// path; a restore failure is returned rather than silently starting
// fresh.
func New(cfg *config.Config, resume bool) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	e := &Experiment{
		config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	if resume {
		ckpt, err := checkpoint.Load(cfg.Run.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("new: could not resume: %v", err)
		}
		e.policy = ckpt.Policy
		e.startEpisodes = ckpt.Episodes
		e.cycles = ckpt.Cycles
	} else {
		p, err := policy.New(cfg.Policy, cfg.Init.InitWFn())
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
		e.policy = p
	}

	engine, err := ppo.NewEngine(e.policy, cfg.Update)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	e.engine = engine

	if cfg.Truth.Path != "" {
		set, err := reference.LoadCSV(cfg.Truth.Path,
			cfg.Environment.Features)
		if err != nil {
			return nil, fmt.Errorf("new: could not load truth set: %v", err)
		}
		e.truth, err = set.Best(cfg.Truth.Fraction, cfg.Truth.LowerIsBetter)
		if err != nil {
			return nil, fmt.Errorf("new: could not filter truth set: %v",
				err)
		}
	}

	e.returns, err = tracker.NewReturns(cfg.Run.SolvedWindow)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	e.samples, err = tracker.NewSampleLog(cfg.Run.SamplesPath)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return e, nil
}

// Policy returns the experiment's policy
func (e *Experiment) Policy() *policy.Policy {
	return e.policy
}

// scorer assembles the terminal-reward collaborator: the synthetic
// objective plus the windowed discriminator fidelity bonus when a
// truth set is configured.
func (e *Experiment) scorer() *reward.Adversarial {
	main := reward.FuncScorer(func(state []float64) (float64, error) {
		if len(state) == 0 {
			return 0, errors.New("empty terminal state")
		}
		return fragment.Score(state), nil
	})

	window := reward.Disabled()
	if e.truth != nil {
		window = e.config.Truth.AdversarialWindow
	}
	return &reward.Adversarial{
		Main:     main,
		Fidelity: e.policy.Fidelity,
		Window:   window,
	}
}

// rolloutConfig is the configured rollout section with the episode
// counter carried over from a resumed checkpoint.
func (e *Experiment) rolloutConfig() rollout.Config {
	cfg := e.config.Rollout
	cfg.StartEpisode = e.startEpisodes
	return cfg
}

// RunParallel trains with the synchronized worker pool until the cycle
// budget, the solved threshold, or context cancellation stops it.
func (e *Experiment) RunParallel(ctx context.Context) error {
	env := e.config.Environment
	coordinator, err := rollout.NewCoordinator(e.rolloutConfig(), e.policy,
		e.scorer(), fragment.Maker(env.Features, env.LibrarySize,
			env.MaxCandidates, env.Capacity), e.config.Seed, e.rng)
	if err != nil {
		return fmt.Errorf("runParallel: %v", err)
	}
	defer coordinator.Close()

	return e.run(ctx, coordinator)
}

// RunSerial trains with the single-environment loop
func (e *Experiment) RunSerial(ctx context.Context) error {
	env := e.config.Environment
	single, err := fragment.New(env.Features, env.LibrarySize,
		env.MaxCandidates, env.Capacity, e.config.Seed)
	if err != nil {
		return fmt.Errorf("runSerial: %v", err)
	}

	cfg := e.rolloutConfig()
	cfg.Workers = 1
	serial, err := rollout.NewSerial(cfg, single, e.policy, e.scorer(),
		e.rng)
	if err != nil {
		return fmt.Errorf("runSerial: %v", err)
	}

	return e.run(ctx, serial)
}

// run is the collect-update cycle shared by both engines
func (e *Experiment) run(ctx context.Context, col collector) error {
	status := uilive.New()
	status.Start()
	defer status.Stop()

	for ; e.cycles < e.config.Run.Cycles; e.cycles++ {
		if ctx.Err() != nil {
			return e.shutdown(col, nil)
		}

		agg := trajectory.NewBuffer()
		stats, err := col.Collect(agg)
		if err != nil {
			return e.shutdown(col, fmt.Errorf("run: cycle %d: %v",
				e.cycles, err))
		}
		e.record(stats)

		var ref *reference.Batch
		if e.truth != nil {
			ref = e.truth.Sample(e.config.Truth.SampleSize, e.rng)
		}
		updateStats, err := e.engine.Update(agg, ref)
		if err != nil {
			return e.shutdown(col, fmt.Errorf("run: cycle %d: %v",
				e.cycles, err))
		}

		if e.truth != nil && e.config.Truth.Frequency > 0 &&
			(e.cycles+1)%e.config.Truth.Frequency == 0 {
			batch := e.truth.Sample(e.config.Truth.SampleSize, e.rng)
			if _, err := e.engine.UpdateDisc(batch); err != nil {
				return e.shutdown(col, fmt.Errorf("run: cycle %d: %v",
					e.cycles, err))
			}
		}

		if e.config.Run.SaveInterval > 0 &&
			(e.cycles+1)%e.config.Run.SaveInterval == 0 {
			if err := e.save(col, e.cycles+1); err != nil {
				return e.shutdown(col, fmt.Errorf("run: cycle %d: %v",
					e.cycles, err))
			}
		}
		if e.config.Run.LogInterval > 0 &&
			(e.cycles+1)%e.config.Run.LogInterval == 0 {
			e.log(status, col, updateStats)
		}

		if e.returns.Solved(e.config.Run.SolvedThreshold) {
			fmt.Fprintf(status.Bypass(), "solved: average return %.4f "+
				"over %d episodes\n", e.returns.Average(),
				e.config.Run.SolvedWindow)
			e.cycles++
			return e.shutdown(col, nil)
		}
	}

	return e.shutdown(col, nil)
}

// record tracks the cycle's episode returns and sample log entries
func (e *Experiment) record(stats *rollout.CollectStats) {
	for _, ret := range stats.Returns {
		e.returns.Track(ret)
	}
	for _, sample := range stats.Samples {
		// Log failures are not fatal; the run continues without the
		// side channel entry.
		_ = e.samples.Log(sample.State, sample.Outcome)
	}
}

// log writes one live status line
func (e *Experiment) log(status *uilive.Writer, col collector,
	stats ppo.Stats) {
	fmt.Fprintf(status, "cycle %d/%d  episodes %d  avg return %.4f  "+
		"loss %.4f  value %.4f  entropy %.4f\n",
		e.cycles+1, e.config.Run.Cycles, col.Episodes(),
		e.returns.Average(), stats.Loss, stats.ValueLoss, stats.Entropy)
}

// save writes the checkpoint and the returns tracker. cycles is the
// number of fully completed cycles.
func (e *Experiment) save(col collector, cycles int) error {
	// The collector's counter is seeded with the resumed episode
	// count, so it is already cumulative.
	err := checkpoint.Save(e.config.Run.CheckpointPath, &checkpoint.Checkpoint{
		Policy:   e.policy,
		Episodes: col.Episodes(),
		Cycles:   cycles,
	})
	if err != nil {
		return err
	}
	if err := e.returns.Save(e.config.Run.ReturnsPath); err != nil {
		return err
	}
	// Push buffered sample rows to disk alongside the checkpoint, so a
	// crash after a save loses no logged samples.
	return e.samples.Flush()
}

// shutdown flushes the logs and the checkpoint that are due, then
// returns cause. Fatal errors still leave a consistent artifact set
// behind.
func (e *Experiment) shutdown(col collector, cause error) error {
	if err := e.samples.Close(); err != nil && cause == nil {
		cause = fmt.Errorf("shutdown: %v", err)
	}
	if err := e.save(col, e.cycles); err != nil && cause == nil {
		cause = fmt.Errorf("shutdown: %v", err)
	}
	return cause
}
