package rollout

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/exp/rand"

	"molgen/environment"
	"molgen/reward"
	"molgen/trajectory"
)

// fakeEnv grows a one-feature state and never signals done on its own,
// so episode length is controlled by the worker's horizon.
type fakeEnv struct {
	id     float64
	resets int
}

func (f *fakeEnv) Features() int { return 1 }

func (f *fakeEnv) Reset() ([]float64, [][]float64, bool, error) {
	f.resets++
	return []float64{f.id}, f.candidates(f.id), false, nil
}

func (f *fakeEnv) ResetFrom(seed []float64) ([]float64, [][]float64, bool,
	error) {
	f.resets++
	return seed, f.candidates(seed[0]), false, nil
}

func (f *fakeEnv) Step(next []float64) ([]float64, [][]float64, bool,
	error) {
	return next, f.candidates(next[0]), false, nil
}

func (f *fakeEnv) candidates(v float64) [][]float64 {
	return [][]float64{{v + 1}, {v + 2}}
}

// rejectingEnv refuses every reset
type rejectingEnv struct{}

func (r *rejectingEnv) Features() int { return 1 }

func (r *rejectingEnv) Reset() ([]float64, [][]float64, bool, error) {
	return nil, nil, false, errors.New("bad seed")
}

func (r *rejectingEnv) ResetFrom([]float64) ([]float64, [][]float64, bool,
	error) {
	return nil, nil, false, errors.New("bad seed")
}

func (r *rejectingEnv) Step([]float64) ([]float64, [][]float64, bool,
	error) {
	return nil, nil, false, errors.New("bad step")
}

// firstChoice always picks candidate 0 with a fixed log-probability
type firstChoice struct {
	novelty float64
}

func (s *firstChoice) SelectActions(states [][]float64,
	candidates [][][]float64, rng *rand.Rand) ([][]int, [][]float64,
	error) {
	actions := make([][]int, len(states))
	logProbs := make([][]float64, len(states))
	for i := range states {
		if len(candidates[i]) == 0 {
			return nil, nil, fmt.Errorf("no candidates for decision %d", i)
		}
		actions[i] = []int{0}
		logProbs[i] = []float64{-0.7}
	}
	return actions, logProbs, nil
}

func (s *firstChoice) NoveltyScores(states [][]float64) ([]float64,
	error) {
	scores := make([]float64, len(states))
	for i := range scores {
		scores[i] = s.novelty
	}
	return scores, nil
}

func terminalScorer() *reward.Adversarial {
	return &reward.Adversarial{
		Main: reward.FuncScorer(func(state []float64) (float64, error) {
			return state[0], nil
		}),
		Window: reward.Disabled(),
	}
}

func fakeMaker() environment.Maker {
	return func(seed uint64) (environment.Environment, error) {
		return &fakeEnv{id: float64(seed)}, nil
	}
}

func TestRoundYieldsExactlyOneResultPerWorker(t *testing.T) {
	const w = 4
	tasks := NewTaskQueue(w)
	results := make(chan Result, w)

	for i := 0; i < w; i++ {
		worker := NewWorker(&fakeEnv{id: float64(i)}, 3, tasks, results)
		go worker.Run()
	}
	defer func() {
		for i := 0; i < w; i++ {
			tasks.Put(nil)
		}
		tasks.Join()
	}()

	for i := 0; i < w; i++ {
		tasks.Put(&Task{Slot: i, Restart: true})
	}
	tasks.Join()

	if len(results) != w {
		t.Fatalf("expected exactly %d results after join, got %d", w,
			len(results))
	}

	seen := make([]bool, w)
	for i := 0; i < w; i++ {
		res := <-results
		if res.Slot < 0 || res.Slot >= w {
			t.Fatalf("result for unknown slot %d", res.Slot)
		}
		if seen[res.Slot] {
			t.Fatalf("duplicate result for slot %d", res.Slot)
		}
		seen[res.Slot] = true

		// The fake env's initial state is the worker seed, so a
		// mismatched slot/state pairing is detectable.
		if res.State[0] != float64(res.Slot) {
			t.Errorf("slot %d carries state %v from another slot",
				res.Slot, res.State[0])
		}
	}
}

func TestWorkerHorizonForcesTerminal(t *testing.T) {
	tasks := NewTaskQueue(1)
	results := make(chan Result, 1)
	worker := NewWorker(&fakeEnv{}, 2, tasks, results)
	go worker.Run()
	defer func() {
		tasks.Put(nil)
		tasks.Join()
	}()

	tasks.Put(&Task{Slot: 0, Restart: true})
	tasks.Join()
	res := <-results
	if res.Done {
		t.Fatal("reset should not be terminal")
	}

	tasks.Put(&Task{Slot: 0, State: res.Candidates[0]})
	tasks.Join()
	res = <-results
	if res.Done {
		t.Fatal("first continuation should not reach horizon 2")
	}

	tasks.Put(&Task{Slot: 0, State: res.Candidates[0]})
	tasks.Join()
	res = <-results
	if !res.Done {
		t.Fatal("second continuation must be forced terminal at horizon 2")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("terminal result must carry no candidates, got %d",
			len(res.Candidates))
	}
}

func TestWorkerTreatsRejectedResetAsTerminal(t *testing.T) {
	tasks := NewTaskQueue(1)
	results := make(chan Result, 1)
	worker := NewWorker(&rejectingEnv{}, 3, tasks, results)
	go worker.Run()
	defer func() {
		tasks.Put(nil)
		tasks.Join()
	}()

	tasks.Put(&Task{Slot: 0, Restart: true})
	tasks.Join()
	res := <-results
	if !res.Done {
		t.Error("rejected reset must be an immediate terminal")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("rejected reset must carry no candidates, got %d",
			len(res.Candidates))
	}
}

func collectorConfig(workers, budget int) Config {
	return Config{
		Workers:          workers,
		Horizon:          3,
		SampleBudget:     budget,
		InnovationWindow: reward.Disabled(),
	}
}

func TestCollectEndToEnd(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c, err := NewCoordinator(collectorConfig(2, 2), &firstChoice{},
		terminalScorer(), fakeMaker(), 10, rng)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	agg := trajectory.NewBuffer()
	stats, err := c.Collect(agg)
	if err != nil {
		t.Fatal(err)
	}

	// Budget 2 with two slots mid-episode: both run to the horizon of
	// 3 steps, so the aggregate holds exactly both episodes.
	if agg.Len() != 6 {
		t.Fatalf("expected 6 aggregated steps, got %d", agg.Len())
	}
	if stats.Episodes != 2 {
		t.Errorf("expected 2 completed episodes, got %d", stats.Episodes)
	}
	if stats.Steps != 6 {
		t.Errorf("expected 6 recorded steps, got %d", stats.Steps)
	}

	// Per-slot episodes are contiguous after the merge: 3 steps per
	// slot, terminal only on the last, terminal-only rewards.
	terminals := agg.Terminals()
	rewards := agg.Rewards()
	for i := 0; i < 6; i++ {
		isLast := i == 2 || i == 5
		if terminals[i] != isLast {
			t.Errorf("step %d: terminal=%v, expected %v", i, terminals[i],
				isLast)
		}
		if !isLast && rewards[i] != 0 {
			t.Errorf("step %d: non-terminal reward %v", i, rewards[i])
		}
		if isLast && rewards[i] == 0 {
			t.Errorf("step %d: missing terminal reward", i)
		}
	}

	// Steps follow each slot's own chain: NextState of step t is the
	// State of step t+1.
	steps := agg.Steps()
	for _, first := range []int{0, 3} {
		for i := first; i < first+2; i++ {
			if steps[i].NextState[0] != steps[i+1].State[0] {
				t.Errorf("step %d: chain broken to step %d", i, i+1)
			}
		}
	}

	// A second collect starts from clean slot buffers
	agg2 := trajectory.NewBuffer()
	if _, err := c.Collect(agg2); err != nil {
		t.Fatal(err)
	}
	if agg2.Len() != 6 {
		t.Errorf("expected 6 steps in second cycle, got %d", agg2.Len())
	}
	if agg.Len() != 6 {
		t.Errorf("first aggregate changed by second cycle: %d", agg.Len())
	}
}

func TestCollectInnovationRewards(t *testing.T) {
	config := collectorConfig(1, 3)
	config.InnovationWindow = reward.Window{After: -1}
	config.InnovationScale = 0.5

	rng := rand.New(rand.NewSource(1))
	c, err := NewCoordinator(config, &firstChoice{novelty: 1.0},
		terminalScorer(), fakeMaker(), 10, rng)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	agg := trajectory.NewBuffer()
	if _, err := c.Collect(agg); err != nil {
		t.Fatal(err)
	}

	// One episode of 3 steps: the two non-terminal steps carry the
	// scaled novelty bonus, the terminal step only the main score.
	rewards := agg.Rewards()
	terminals := agg.Terminals()
	if len(rewards) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(rewards))
	}
	for i := 0; i < 2; i++ {
		if terminals[i] {
			t.Fatalf("step %d unexpectedly terminal", i)
		}
		if rewards[i] != 0.5 {
			t.Errorf("step %d: expected innovation reward 0.5, got %v", i,
				rewards[i])
		}
	}
	if !terminals[2] {
		t.Error("expected terminal at horizon")
	}
}

func TestInnovationLeavesScoredTerminalsUntouched(t *testing.T) {
	// Budget 3 with horizon 2 forces a mid-cycle reset: after the first
	// episode ends, the slot is reset and runs a second episode. The
	// round following the reset must not add the novelty bonus, since
	// the slot's last recorded step is the first episode's scored
	// terminal.
	config := collectorConfig(1, 3)
	config.Horizon = 2
	config.InnovationWindow = reward.Window{After: -1}
	config.InnovationScale = 1.0

	rng := rand.New(rand.NewSource(1))
	c, err := NewCoordinator(config, &firstChoice{novelty: 1.0},
		terminalScorer(), fakeMaker(), 10, rng)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	agg := trajectory.NewBuffer()
	if _, err := c.Collect(agg); err != nil {
		t.Fatal(err)
	}

	// Two episodes of 2 steps each: candidate 0 adds 1 per step from
	// state 10, so both terminal scores are 12.
	rewards := agg.Rewards()
	terminals := agg.Terminals()
	if len(rewards) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(rewards))
	}
	for _, i := range []int{1, 3} {
		if !terminals[i] {
			t.Fatalf("step %d: expected terminal", i)
		}
		if rewards[i] != 12 {
			t.Errorf("step %d: terminal reward %v, expected the score 12 "+
				"with no novelty bonus", i, rewards[i])
		}
	}
	for _, i := range []int{0, 2} {
		if terminals[i] {
			t.Fatalf("step %d: unexpectedly terminal", i)
		}
		if rewards[i] != 1.0 {
			t.Errorf("step %d: expected innovation reward 1.0, got %v", i,
				rewards[i])
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c, err := NewCoordinator(collectorConfig(2, 2), &firstChoice{},
		terminalScorer(), fakeMaker(), 10, rng)
	if err != nil {
		t.Fatal(err)
	}

	c.Close()

	// A second close must return promptly without deadlocking
	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("second close deadlocked")
	}
}

func TestSerialMatchesRewardTiming(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s, err := NewSerial(collectorConfig(1, 2), &fakeEnv{id: 3},
		&firstChoice{}, terminalScorer(), rng)
	if err != nil {
		t.Fatal(err)
	}

	agg := trajectory.NewBuffer()
	stats, err := s.Collect(agg)
	if err != nil {
		t.Fatal(err)
	}

	// Budget 2, horizon 3: the first episode overshoots the budget,
	// so exactly one episode of 3 steps is collected.
	if agg.Len() != 3 {
		t.Fatalf("expected 3 steps, got %d", agg.Len())
	}
	if stats.Episodes != 1 {
		t.Errorf("expected 1 episode, got %d", stats.Episodes)
	}

	terminals := agg.Terminals()
	rewards := agg.Rewards()
	if terminals[0] || terminals[1] || !terminals[2] {
		t.Errorf("expected terminal only at horizon, got %v", terminals)
	}
	if rewards[0] != 0 || rewards[1] != 0 {
		t.Error("expected placeholder rewards before the terminal step")
	}

	// Terminal reward is the score of the final state: candidate 0
	// adds 1 per step starting from state 3.
	if rewards[2] != 6 {
		t.Errorf("expected terminal reward 6, got %v", rewards[2])
	}
}
