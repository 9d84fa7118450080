// Package rollout implements trajectory collection: a pool of workers
// driving independent environment instances in synchronized rounds
// under a dispatch coordinator, and an equivalent serial loop for
// single-environment training. All communication runs over explicitly
// injected queue handles; there is no process-wide shared state.
package rollout

import (
	"sync"
)

// DummySlot marks a no-op round filler: the worker acknowledges it and
// returns a placeholder result without touching its environment.
const DummySlot = -1

// Task is one command to a worker. A nil *Task is the shutdown
// sentinel.
type Task struct {
	// Slot identifies the environment slot, or DummySlot for a no-op
	Slot int

	// State is the chosen next state for a continuation, or the
	// optional seed state for a restart.
	State []float64

	// Restart requests a fresh episode instead of a continuation
	Restart bool
}

// Result is a worker's response to one task
type Result struct {
	Slot       int
	State      []float64
	Candidates [][]float64
	Done       bool
}

// TaskQueue is a joinable task channel: every Put must be balanced by
// the consumer's Done, and Join blocks until all outstanding tasks are
// acknowledged. The coordinator joins the queue each round before
// draining results, which is the round-synchronization guarantee.
type TaskQueue struct {
	ch chan *Task
	wg sync.WaitGroup
}

// NewTaskQueue returns a TaskQueue with the given channel capacity
func NewTaskQueue(capacity int) *TaskQueue {
	return &TaskQueue{ch: make(chan *Task, capacity)}
}

// Put enqueues a task. A nil task is the shutdown sentinel; it is
// acknowledged like any other task.
func (q *TaskQueue) Put(t *Task) {
	q.wg.Add(1)
	q.ch <- t
}

// Done acknowledges one received task
func (q *TaskQueue) Done() {
	q.wg.Done()
}

// Join blocks until every enqueued task has been acknowledged
func (q *TaskQueue) Join() {
	q.wg.Wait()
}

// Tasks returns the receive side of the queue
func (q *TaskQueue) Tasks() <-chan *Task {
	return q.ch
}
