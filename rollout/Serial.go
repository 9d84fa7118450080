package rollout

import (
	"fmt"

	"golang.org/x/exp/rand"

	"molgen/environment"
	"molgen/reward"
	"molgen/trajectory"
)

// Serial is the single-environment collection loop. It matches the
// parallel engine's reward timing exactly: placeholder rewards while
// an episode runs, terminal-only scoring, and the same innovation
// window semantics, with the update trigger expressed in sample count.
type Serial struct {
	config   Config
	env      environment.Environment
	selector ActionSelector
	scorer   *reward.Adversarial
	rng      *rand.Rand

	episodes int
}

// NewSerial returns a serial collection loop over one environment
func NewSerial(config Config, env environment.Environment,
	selector ActionSelector, scorer *reward.Adversarial,
	rng *rand.Rand) (*Serial, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newSerial: %v", err)
	}
	return &Serial{
		config:   config,
		env:      env,
		selector: selector,
		scorer:   scorer,
		rng:      rng,
		episodes: config.StartEpisode,
	}, nil
}

// Episodes returns the number of episodes completed so far
func (s *Serial) Episodes() int {
	return s.episodes
}

// Collect runs whole episodes until at least SampleBudget steps have
// accumulated, then merges them into the aggregate.
func (s *Serial) Collect(agg *trajectory.Buffer) (*CollectStats, error) {
	stats := &CollectStats{}
	slots := trajectory.NewSlotBuffers(1)

	for slots.TotalLen() < s.config.SampleBudget {
		if err := s.episode(slots, stats); err != nil {
			return nil, fmt.Errorf("collect: %v", err)
		}
	}

	slots.MergeInto(agg)
	return stats, nil
}

// episode runs one episode up to the horizon, recording one step per
// decision point.
func (s *Serial) episode(slots *trajectory.SlotBuffers,
	stats *CollectStats) error {
	state, candidates, done, err := s.env.Reset()
	if err != nil {
		return fmt.Errorf("could not reset environment: %v", err)
	}
	if done {
		// A single environment that is terminal on reset can never
		// meet the sample budget.
		return fmt.Errorf("environment terminal on reset")
	}

	for t := 0; ; t++ {
		actions, logProbs, err := s.selector.SelectActions(
			[][]float64{state}, [][][]float64{candidates}, s.rng)
		if err != nil {
			return fmt.Errorf("could not select action: %v", err)
		}
		chosen := candidates[actions[0][0]]

		if err := slots.Append(0, trajectory.Step{
			State:      state,
			Candidates: candidates,
			NextState:  chosen,
			Actions:    actions[0],
			LogProbs:   logProbs[0],
		}); err != nil {
			return err
		}
		stats.Steps++

		next, nextCandidates, stepDone, err := s.env.Step(chosen)
		if err != nil {
			// Environment rejection ends the episode at the chosen
			// state.
			next = chosen
			stepDone = true
		}
		if t+1 >= s.config.Horizon {
			stepDone = true
		}

		if stepDone {
			outcome := s.scorer.Score([][]float64{next}, s.episodes)[0]
			if err := slots.SetLastOutcome(0, outcome.OrZero(),
				true); err != nil {
				return err
			}
			stats.Samples = append(stats.Samples, Sample{
				State:   next,
				Outcome: outcome,
			})
			stats.Returns = append(stats.Returns, outcome.OrZero())
			stats.Episodes++
			s.episodes++
			return nil
		}

		if err := slots.SetLastOutcome(0, 0, false); err != nil {
			return err
		}
		if s.config.InnovationScale != 0 &&
			s.config.InnovationWindow.Contains(s.episodes) {
			scores, err := s.selector.NoveltyScores([][]float64{next})
			if err != nil {
				return fmt.Errorf("could not score novelty: %v", err)
			}
			if err := slots.AddToLastReward(0,
				s.config.InnovationScale*scores[0]); err != nil {
				return err
			}
		}

		state, candidates = next, nextCandidates
	}
}
