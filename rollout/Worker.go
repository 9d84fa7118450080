package rollout

import (
	"molgen/environment"
)

// Worker owns exactly one environment instance and serves tasks from
// the injected queue, publishing results to the injected result
// channel. Workers never share state with each other; the result
// channel must have capacity for one result per worker so a round's
// sends never block.
type Worker struct {
	env     environment.Environment
	horizon int
	tasks   *TaskQueue
	results chan<- Result

	// Continuation steps taken this episode. Reaching the horizon
	// forces a terminal regardless of the environment's signal.
	steps int
}

// NewWorker returns a Worker serving the given queue
func NewWorker(env environment.Environment, horizon int, tasks *TaskQueue,
	results chan<- Result) *Worker {
	return &Worker{
		env:     env,
		horizon: horizon,
		tasks:   tasks,
		results: results,
	}
}

// Run serves tasks until the shutdown sentinel arrives. The sentinel
// is acknowledged without a result; exactly one sentinel is drained
// per shutdown.
func (w *Worker) Run() {
	for task := range w.tasks.Tasks() {
		if task == nil {
			w.tasks.Done()
			return
		}
		w.results <- w.handle(task)
		w.tasks.Done()
	}
}

// handle serves one non-sentinel task
func (w *Worker) handle(task *Task) Result {
	if task.Slot == DummySlot {
		return Result{Slot: DummySlot, Done: true}
	}

	if task.Restart {
		w.steps = 0

		var state []float64
		var candidates [][]float64
		var done bool
		var err error
		if task.State != nil {
			state, candidates, done, err = w.env.ResetFrom(task.State)
		} else {
			state, candidates, done, err = w.env.Reset()
		}
		if err != nil {
			// A rejected initial state is an immediate terminal with
			// no candidates.
			return Result{Slot: task.Slot, State: task.State, Done: true}
		}
		return Result{
			Slot:       task.Slot,
			State:      state,
			Candidates: candidates,
			Done:       done,
		}
	}

	state, candidates, done, err := w.env.Step(task.State)
	if err != nil {
		return Result{Slot: task.Slot, State: task.State, Done: true}
	}

	w.steps++
	if w.steps >= w.horizon {
		done = true
	}
	if done {
		candidates = nil
	}

	return Result{
		Slot:       task.Slot,
		State:      state,
		Candidates: candidates,
		Done:       done,
	}
}
