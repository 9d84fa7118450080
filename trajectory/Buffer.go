// Package trajectory implements storage for rollout trajectories. Each
// environment slot appends steps to its own buffer while an episode is
// in flight; finished slot buffers are merged into one flat aggregate
// that the update engine consumes exactly once.
package trajectory

import (
	"fmt"
)

// Step is a single decision point of a trajectory. Reward and Terminal
// are filled in on the round after the step is recorded, once the
// environment has reported the transition's outcome. Actions and
// LogProbs are always slices, one entry per action channel, even when
// the policy has a single channel.
type Step struct {
	State      []float64
	Candidates [][]float64
	NextState  []float64
	Actions    []int
	LogProbs   []float64
	Reward     float64
	Terminal   bool
}

// Buffer is the flat aggregate sequence of steps consumed by the
// update engine. Steps are append-only between updates.
type Buffer struct {
	steps []Step
}

// NewBuffer returns an empty aggregate Buffer
func NewBuffer() *Buffer {
	return &Buffer{steps: make([]Step, 0)}
}

// Add appends a step to the buffer
func (b *Buffer) Add(s Step) {
	b.steps = append(b.steps, s)
}

// Len returns the number of steps stored in the buffer
func (b *Buffer) Len() int {
	return len(b.steps)
}

// Steps returns the stored steps in insertion order
func (b *Buffer) Steps() []Step {
	return b.steps
}

// Rewards returns the rewards of all stored steps in insertion order
func (b *Buffer) Rewards() []float64 {
	rewards := make([]float64, len(b.steps))
	for i, s := range b.steps {
		rewards[i] = s.Reward
	}
	return rewards
}

// Terminals returns the terminal flags of all stored steps in
// insertion order
func (b *Buffer) Terminals() []bool {
	terminals := make([]bool, len(b.steps))
	for i, s := range b.steps {
		terminals[i] = s.Terminal
	}
	return terminals
}

// Clear removes all stored steps
func (b *Buffer) Clear() {
	b.steps = b.steps[:0]
}

// SlotBuffers holds one in-flight step sequence per environment slot.
// A slot's sequence is cleared only when merged into the aggregate.
type SlotBuffers struct {
	slots [][]Step
}

// NewSlotBuffers returns SlotBuffers for n environment slots
func NewSlotBuffers(n int) *SlotBuffers {
	return &SlotBuffers{slots: make([][]Step, n)}
}

// NumSlots returns the number of environment slots
func (s *SlotBuffers) NumSlots() int {
	return len(s.slots)
}

// Len returns the number of in-flight steps for a slot
func (s *SlotBuffers) Len(slot int) int {
	return len(s.slots[slot])
}

// TotalLen returns the number of in-flight steps across all slots
func (s *SlotBuffers) TotalLen() int {
	total := 0
	for _, steps := range s.slots {
		total += len(steps)
	}
	return total
}

// Append records a new step for a slot
func (s *SlotBuffers) Append(slot int, step Step) error {
	if slot < 0 || slot >= len(s.slots) {
		return fmt.Errorf("append: no such slot %d", slot)
	}
	s.slots[slot] = append(s.slots[slot], step)
	return nil
}

// SetLastOutcome fills in the reward and terminal flag of the slot's
// most recent step once the environment reports the transition result.
func (s *SlotBuffers) SetLastOutcome(slot int, reward float64,
	terminal bool) error {
	if slot < 0 || slot >= len(s.slots) {
		return fmt.Errorf("setLastOutcome: no such slot %d", slot)
	}
	if len(s.slots[slot]) == 0 {
		return fmt.Errorf("setLastOutcome: slot %d has no steps", slot)
	}
	last := &s.slots[slot][len(s.slots[slot])-1]
	last.Reward = reward
	last.Terminal = terminal
	return nil
}

// AddToLastReward adds delta to the reward of the slot's most recent
// step. Used for auxiliary rewards granted after the step was scored.
func (s *SlotBuffers) AddToLastReward(slot int, delta float64) error {
	if slot < 0 || slot >= len(s.slots) {
		return fmt.Errorf("addToLastReward: no such slot %d", slot)
	}
	if len(s.slots[slot]) == 0 {
		return fmt.Errorf("addToLastReward: slot %d has no steps", slot)
	}
	s.slots[slot][len(s.slots[slot])-1].Reward += delta
	return nil
}

// MergeInto appends every slot's steps to the aggregate buffer in slot
// order and clears the slot sequences. After a merge every slot is
// empty, so no step can be consumed twice.
func (s *SlotBuffers) MergeInto(b *Buffer) {
	for i, steps := range s.slots {
		for _, step := range steps {
			b.Add(step)
		}
		s.slots[i] = nil
	}
}
