package rollout

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"

	"molgen/environment"
	"molgen/reward"
	"molgen/trajectory"
)

// ActionSelector is the policy surface the rollout engine consumes:
// joint batched action selection plus the optional novelty side
// channel for innovation rewards.
type ActionSelector interface {
	SelectActions(states [][]float64, candidates [][][]float64,
		rng *rand.Rand) (actions [][]int, logProbs [][]float64, err error)
	NoveltyScores(states [][]float64) ([]float64, error)
}

// Config holds the collection parameters shared by the parallel and
// serial engines.
type Config struct {
	// Workers is the fixed pool size W
	Workers int

	// Horizon is the per-episode continuation-step limit
	Horizon int

	// SampleBudget is the number of steps collected per cycle
	SampleBudget int

	// InnovationWindow gates the novelty reward by episode count
	InnovationWindow reward.Window

	// InnovationScale scales the novelty reward added to active
	// slots' last recorded reward. Zero disables the side channel.
	InnovationScale float64

	// StartEpisode seeds the episode counter, so window gating
	// continues correctly across a resumed run.
	StartEpisode int
}

// Validate returns an error if the configuration is unusable
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("validate: need at least one worker")
	}
	if c.Horizon < 1 {
		return fmt.Errorf("validate: horizon must be positive")
	}
	if c.SampleBudget < 1 {
		return fmt.Errorf("validate: sample budget must be positive")
	}
	return nil
}

// Sample is one scored terminal state. A failed outcome is recorded
// as-is so logs can carry a null marker instead of a value.
type Sample struct {
	State   []float64
	Outcome reward.Outcome
}

// CollectStats summarizes one collection cycle
type CollectStats struct {
	Episodes int
	Steps    int
	Returns  []float64
	Samples  []Sample
}

// slot lifecycle within a collection cycle
type slotStatus int

const (
	// slotAwait: a command is in flight; the slot appears in the next
	// round's results.
	slotAwait slotStatus = iota

	// slotDone: the episode finished; the slot needs a reset or a
	// dummy filler next round.
	slotDone

	// slotParked: budget reached; the slot only receives dummies
	slotParked
)

// Coordinator drives a fixed worker pool through synchronized decision
// rounds: W commands enqueued, a blocking join, then exactly W results
// drained. The learner never observes a partially updated round.
type Coordinator struct {
	config   Config
	selector ActionSelector
	scorer   *reward.Adversarial
	rng      *rand.Rand

	tasks   *TaskQueue
	results chan Result
	slots   *trajectory.SlotBuffers

	workersWG sync.WaitGroup
	closeOnce sync.Once

	// episodes completed across all cycles, for window gating
	episodes int
}

// NewCoordinator builds the worker pool and starts its workers. Each
// worker receives an independently seeded environment.
func NewCoordinator(config Config, selector ActionSelector,
	scorer *reward.Adversarial, maker environment.Maker, seed uint64,
	rng *rand.Rand) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newCoordinator: %v", err)
	}

	c := &Coordinator{
		config:   config,
		selector: selector,
		scorer:   scorer,
		rng:      rng,
		tasks:    NewTaskQueue(config.Workers),
		results:  make(chan Result, config.Workers),
		slots:    trajectory.NewSlotBuffers(config.Workers),
		episodes: config.StartEpisode,
	}

	envs := make([]environment.Environment, config.Workers)
	for i := range envs {
		env, err := maker(seed + uint64(i))
		if err != nil {
			return nil, fmt.Errorf("newCoordinator: could not create "+
				"environment %d: %v", i, err)
		}
		envs[i] = env
	}

	for _, env := range envs {
		worker := NewWorker(env, config.Horizon, c.tasks, c.results)
		c.workersWG.Add(1)
		go func() {
			defer c.workersWG.Done()
			worker.Run()
		}()
	}

	return c, nil
}

// Episodes returns the number of episodes completed so far
func (c *Coordinator) Episodes() int {
	return c.episodes
}

// Collect runs synchronized rounds until the sample budget is met and
// no slot is still mid-episode, then merges all slot buffers into the
// aggregate. Protocol violations (duplicate or out-of-range slot in a
// round) are fatal.
func (c *Coordinator) Collect(agg *trajectory.Buffer) (*CollectStats,
	error) {
	w := c.config.Workers
	stats := &CollectStats{}

	status := make([]slotStatus, w)
	states := make([][]float64, w)
	candidates := make([][][]float64, w)
	inFlight := make([]bool, w)
	stepped := make([]bool, w)

	// First round: reset every slot
	for i := 0; i < w; i++ {
		status[i] = slotAwait
		c.tasks.Put(&Task{Slot: i, Restart: true})
	}

	for {
		c.tasks.Join()

		for i := range stepped {
			stepped[i] = false
		}
		if err := c.drainRound(status, states, candidates, inFlight,
			stepped, stats); err != nil {
			return nil, fmt.Errorf("collect: %v", err)
		}

		if err := c.addInnovation(stepped, states); err != nil {
			return nil, fmt.Errorf("collect: %v", err)
		}

		budgetMet := c.slots.TotalLen() >= c.config.SampleBudget
		anyAwait := false
		for i := 0; i < w; i++ {
			if status[i] == slotAwait {
				anyAwait = true
				break
			}
		}
		if !anyAwait && budgetMet {
			break
		}

		if err := c.dispatchRound(status, states, candidates, inFlight,
			budgetMet, stats); err != nil {
			return nil, fmt.Errorf("collect: %v", err)
		}
	}

	c.slots.MergeInto(agg)
	return stats, nil
}

// drainRound reads exactly one result per worker and applies each to
// its slot: outcomes for in-flight steps, terminal scoring for
// finished episodes, and fresh observations for continuing slots.
// stepped marks the slots whose in-flight step came back non-terminal.
func (c *Coordinator) drainRound(status []slotStatus, states [][]float64,
	candidates [][][]float64, inFlight, stepped []bool,
	stats *CollectStats) error {
	w := c.config.Workers
	seen := make([]bool, w)

	var doneSlots []int
	var doneStates [][]float64

	for r := 0; r < w; r++ {
		res := <-c.results
		if res.Slot == DummySlot {
			continue
		}
		if res.Slot < 0 || res.Slot >= w {
			return fmt.Errorf("round protocol violation: result for "+
				"unknown slot %d", res.Slot)
		}
		if seen[res.Slot] {
			return fmt.Errorf("round protocol violation: duplicate result "+
				"for slot %d", res.Slot)
		}
		seen[res.Slot] = true

		if inFlight[res.Slot] {
			inFlight[res.Slot] = false
			if !res.Done {
				// Reward stays a placeholder until the episode ends
				if err := c.slots.SetLastOutcome(res.Slot, 0,
					false); err != nil {
					return err
				}
				stepped[res.Slot] = true
			}
		}

		if res.Done {
			status[res.Slot] = slotDone
			states[res.Slot] = res.State
			candidates[res.Slot] = nil
			if c.slots.Len(res.Slot) > 0 {
				doneSlots = append(doneSlots, res.Slot)
				doneStates = append(doneStates, res.State)
			}
		} else {
			status[res.Slot] = slotAwait
			states[res.Slot] = res.State
			candidates[res.Slot] = res.Candidates
		}
	}

	if len(doneSlots) == 0 {
		return nil
	}

	// Score all of the round's terminal states in one batched call.
	// A failed outcome degrades to zero reward and is kept for the
	// sample log.
	outcomes := c.scorer.Score(doneStates, c.episodes)
	for i, slot := range doneSlots {
		if err := c.slots.SetLastOutcome(slot, outcomes[i].OrZero(),
			true); err != nil {
			return err
		}
		stats.Samples = append(stats.Samples, Sample{
			State:   doneStates[i],
			Outcome: outcomes[i],
		})
		stats.Returns = append(stats.Returns, outcomes[i].OrZero())
		stats.Episodes++
		c.episodes++
	}

	return nil
}

// addInnovation adds the scaled novelty reward to the last recorded
// reward of every slot stepped in the previous dispatch whose episode
// continues, while the innovation window is open. Just-reset slots are
// excluded: their last recorded step is the previous episode's scored
// terminal.
func (c *Coordinator) addInnovation(stepped []bool,
	states [][]float64) error {
	if c.config.InnovationScale == 0 ||
		!c.config.InnovationWindow.Contains(c.episodes) {
		return nil
	}

	var slots []int
	var active [][]float64
	for i := range stepped {
		if stepped[i] {
			slots = append(slots, i)
			active = append(active, states[i])
		}
	}
	if len(slots) == 0 {
		return nil
	}

	scores, err := c.selector.NoveltyScores(active)
	if err != nil {
		return fmt.Errorf("could not score novelty: %v", err)
	}
	for i, slot := range slots {
		if err := c.slots.AddToLastReward(slot,
			c.config.InnovationScale*scores[i]); err != nil {
			return err
		}
	}
	return nil
}

// dispatchRound sends the next command to every slot: a continuation
// with the chosen candidate for awaiting slots, a reset for finished
// slots while budget remains, and a dummy filler otherwise.
func (c *Coordinator) dispatchRound(status []slotStatus,
	states [][]float64, candidates [][][]float64, inFlight []bool,
	budgetMet bool, stats *CollectStats) error {
	var awaitSlots []int
	var awaitStates [][]float64
	var awaitCandidates [][][]float64
	for i := range status {
		if status[i] == slotAwait {
			awaitSlots = append(awaitSlots, i)
			awaitStates = append(awaitStates, states[i])
			awaitCandidates = append(awaitCandidates, candidates[i])
		}
	}

	if len(awaitSlots) > 0 {
		actions, logProbs, err := c.selector.SelectActions(awaitStates,
			awaitCandidates, c.rng)
		if err != nil {
			return fmt.Errorf("could not select actions: %v", err)
		}

		for k, slot := range awaitSlots {
			chosen := candidates[slot][actions[k][0]]
			if err := c.slots.Append(slot, trajectory.Step{
				State:      states[slot],
				Candidates: candidates[slot],
				NextState:  chosen,
				Actions:    actions[k],
				LogProbs:   logProbs[k],
			}); err != nil {
				return err
			}
			inFlight[slot] = true
			stats.Steps++
			c.tasks.Put(&Task{Slot: slot, State: chosen})
		}
	}

	for i := range status {
		switch status[i] {
		case slotDone:
			if budgetMet {
				status[i] = slotParked
				c.tasks.Put(&Task{Slot: DummySlot, Restart: true})
			} else {
				status[i] = slotAwait
				c.tasks.Put(&Task{Slot: i, Restart: true})
			}
		case slotParked:
			c.tasks.Put(&Task{Slot: DummySlot, Restart: true})
		}
	}

	return nil
}

// Close shuts the pool down cooperatively: one sentinel per worker,
// each acknowledged exactly once. Closing an already-closed pool is a
// no-op.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		for i := 0; i < c.config.Workers; i++ {
			c.tasks.Put(nil)
		}
		c.tasks.Join()
		c.workersWG.Wait()
	})
}
