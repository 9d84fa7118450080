package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"molgen/network"
	"molgen/policy"
	"molgen/reference"
	"molgen/solver"
	"molgen/trajectory"
	"molgen/utils/floatutils"
)

// Config holds the optimizer hyperparameters
type Config struct {
	// Gamma is the discount factor
	Gamma float64

	// ClipEps is the surrogate clip ratio epsilon
	ClipEps float64

	// Eta scales the entropy bonus; low entropy increases the loss
	Eta float64

	// Upsilon scales the critic's value loss
	Upsilon float64

	// Alpha scales the adversarial term applied on the final epoch
	Alpha float64

	// Epochs is the number of gradient epochs per update cycle
	Epochs int

	// RefRows is the number of reference rows reserved in the
	// adversarial batch
	RefRows int

	// Solver describes the gradient solver used by every update graph
	Solver *solver.Solver
}

// Validate returns an error if the configuration is unusable
func (c Config) Validate() error {
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount factor must be in [0, 1]")
	}
	if c.ClipEps <= 0 {
		return fmt.Errorf("validate: clip epsilon must be positive")
	}
	if c.Eta < 0 {
		return fmt.Errorf("validate: entropy coefficient must be " +
			"non-negative")
	}
	if c.Upsilon < 0 {
		return fmt.Errorf("validate: value coefficient must be non-negative")
	}
	if c.Epochs < 1 {
		return fmt.Errorf("validate: need at least one epoch per update")
	}
	if c.RefRows < 0 {
		return fmt.Errorf("validate: reference rows must be non-negative")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver configured")
	}
	return nil
}

// valueMirror is a forward-only copy of the critic at a fixed batch
// size, used to compute advantages outside the gradient graph.
type valueMirror struct {
	net network.NeuralNet
	vm  G.VM
}

// Engine is the clipped-surrogate update engine. Update graphs and
// their solver state are cached per aggregate batch size; a graph
// built for a new batch size starts with fresh solver state.
type Engine struct {
	policy *policy.Policy
	config Config

	graphs     map[int]*updateGraph
	mirrors    map[int]*valueMirror
	discGraphs map[int]*discGraph
	rndGraphs  map[int]*rndGraph
}

// NewEngine returns a new update engine mutating the given policy
func NewEngine(p *policy.Policy, config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newEngine: %v", err)
	}
	return &Engine{
		policy:     p,
		config:     config,
		graphs:     make(map[int]*updateGraph),
		mirrors:    make(map[int]*valueMirror),
		discGraphs: make(map[int]*discGraph),
		rndGraphs:  make(map[int]*rndGraph),
	}, nil
}

// Stats reports the loss components of the last epoch of an update
// cycle.
type Stats struct {
	Loss        float64
	PolicyLoss  float64
	ValueLoss   float64
	Entropy     float64
	Adversarial float64
}

// Update performs one full update cycle over the aggregated buffer: K
// gradient epochs over the combined loss, a random-distillation
// predictor step, then an atomic commit of the frozen snapshot. The
// reference batch feeds the final epoch's adversarial term and may be
// nil, in which case the term is gated off.
//
// A non-finite loss aborts the cycle before the offending gradient
// step and is returned as a fatal error; the snapshot is not
// committed.
func (e *Engine) Update(buf *trajectory.Buffer,
	ref *reference.Batch) (Stats, error) {
	n := buf.Len()
	if n == 0 {
		return Stats{}, fmt.Errorf("update: empty trajectory buffer")
	}

	returns := trajectory.Returns(buf.Rewards(), buf.Terminals(),
		e.config.Gamma)
	if !floatutils.AllFinite(returns...) {
		return Stats{}, fmt.Errorf("update: non-finite return; rewards " +
			"upstream are corrupt")
	}
	trajectory.Normalize(returns)

	in, err := e.prepareInputs(buf, ref, returns)
	if err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}

	graph, err := e.graphFor(n)
	if err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}
	mirror, err := e.mirrorFor(n)
	if err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}

	var stats Stats
	for epoch := 0; epoch < e.config.Epochs; epoch++ {
		gate := 0.0
		if epoch == e.config.Epochs-1 && ref != nil &&
			len(ref.States) > 0 {
			gate = e.config.Alpha
		}

		stats, err = e.runEpoch(graph, mirror, in, returns, gate)
		if err != nil {
			return stats, fmt.Errorf("update: epoch %d: %v", epoch, err)
		}
	}

	if err := e.updateRnd(buf); err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}

	if err := e.policy.Commit(); err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}

	return stats, nil
}

// runEpoch performs one gradient epoch: fresh advantages through the
// critic mirror, a combined forward-backward pass, a solver step, and
// a write-back of the stepped weights to the live networks. The frozen
// snapshot is never touched here; only Commit moves it.
func (e *Engine) runEpoch(graph *updateGraph, mirror *valueMirror,
	in *batchInputs, returns []float64, gate float64) (Stats, error) {
	advantages, err := e.advantages(mirror, in.states, returns)
	if err != nil {
		return Stats{}, err
	}

	if err := graph.syncFromLive(e.policy); err != nil {
		return Stats{}, err
	}
	if err := graph.setInputs(in, advantages, gate); err != nil {
		return Stats{}, err
	}

	if err := graph.vm.RunAll(); err != nil {
		return Stats{}, fmt.Errorf("forward-backward pass: %v", err)
	}

	stats := Stats{
		Loss:        scalarOf(graph.lossVal),
		PolicyLoss:  scalarOf(graph.policyVal),
		ValueLoss:   scalarOf(graph.valueVal),
		Entropy:     scalarOf(graph.entropyVal),
		Adversarial: scalarOf(graph.advVal),
	}
	if !floatutils.AllFinite(stats.Loss, stats.PolicyLoss, stats.ValueLoss,
		stats.Entropy, stats.Adversarial) {
		graph.vm.Reset()
		return stats, fmt.Errorf("non-finite loss (total %v, policy %v, "+
			"value %v, entropy %v, adversarial %v)", stats.Loss,
			stats.PolicyLoss, stats.ValueLoss, stats.Entropy,
			stats.Adversarial)
	}

	if err := graph.solver.Step(graph.model); err != nil {
		return Stats{}, fmt.Errorf("solver step: %v", err)
	}
	graph.vm.Reset()

	if err := graph.writeBackToLive(e.policy); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// graphFor returns the cached update graph for a batch size, building
// it on first use.
func (e *Engine) graphFor(n int) (*updateGraph, error) {
	if graph, ok := e.graphs[n]; ok {
		return graph, nil
	}
	graph, err := newUpdateGraph(e.policy, e.config, n)
	if err != nil {
		return nil, err
	}
	e.graphs[n] = graph
	return graph, nil
}

// mirrorFor returns the cached critic mirror for a batch size
func (e *Engine) mirrorFor(n int) (*valueMirror, error) {
	if mirror, ok := e.mirrors[n]; ok {
		return mirror, nil
	}
	net, err := e.policy.Critic().CloneWithBatch(n)
	if err != nil {
		return nil, fmt.Errorf("could not clone critic mirror: %v", err)
	}
	mirror := &valueMirror{net: net, vm: G.NewTapeMachine(net.Graph())}
	e.mirrors[n] = mirror
	return mirror, nil
}

// advantages refreshes the critic mirror from the live critic and
// returns normalizedReturn minus the mirrored value estimates. The
// mirror keeps the baseline out of the gradient graph so the policy
// term does not differentiate through the critic.
func (e *Engine) advantages(mirror *valueMirror, states []float64,
	returns []float64) ([]float64, error) {
	if err := mirror.net.Set(e.policy.Critic()); err != nil {
		return nil, fmt.Errorf("could not refresh critic mirror: %v", err)
	}
	if err := mirror.net.SetInput(states); err != nil {
		return nil, err
	}
	if err := mirror.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("critic mirror forward pass: %v", err)
	}
	values := mirror.net.Output().Data().([]float64)

	advantages := make([]float64, len(returns))
	for i := range returns {
		advantages[i] = returns[i] - values[i]
	}
	mirror.vm.Reset()

	if !floatutils.AllFinite(advantages...) {
		return nil, fmt.Errorf("non-finite advantage; value estimates or " +
			"returns are corrupt")
	}
	return advantages, nil
}

// prepareInputs flattens the buffer and reference batch into the
// tensors bound to the update graph.
func (e *Engine) prepareInputs(buf *trajectory.Buffer,
	ref *reference.Batch, returns []float64) (*batchInputs, error) {
	features := e.policy.Config().Features
	slateCols := e.policy.Config().MaxCandidates
	slateWidth := features * (1 + slateCols)
	n := buf.Len()
	discRows := e.config.RefRows + n

	in := &batchInputs{
		slates:      make([]float64, n*slateWidth),
		penalty:     make([]float64, n*slateCols),
		oneHot:      make([]float64, n*slateCols),
		oldLogProbs: make([]float64, n),
		targets:     make([]float64, n),
		states:      make([]float64, n*features),
		discStates:  make([]float64, discRows*features),
		discTargets: make([]float64, discRows),
		discWeights: make([]float64, discRows),
	}

	for i, step := range buf.Steps() {
		if len(step.Actions) != e.policy.NumChannels() ||
			len(step.LogProbs) != e.policy.NumChannels() {
			return nil, fmt.Errorf("prepareInputs: step %d has %d action "+
				"channels and %d log-prob channels, policy has %d", i,
				len(step.Actions), len(step.LogProbs),
				e.policy.NumChannels())
		}
		action := step.Actions[0]
		if action < 0 || action >= len(step.Candidates) {
			return nil, fmt.Errorf("prepareInputs: step %d action %d "+
				"outside candidate set of %d", i, action,
				len(step.Candidates))
		}

		if err := e.policy.SlateRow(step.State, step.Candidates,
			in.slates[i*slateWidth:(i+1)*slateWidth]); err != nil {
			return nil, fmt.Errorf("prepareInputs: step %d: %v", i, err)
		}

		for j := len(step.Candidates); j < slateCols; j++ {
			in.penalty[i*slateCols+j] = paddedLogit
		}
		in.oneHot[i*slateCols+action] = 1

		in.oldLogProbs[i] = step.LogProbs[0]
		in.targets[i] = returns[i]
		copy(in.states[i*features:(i+1)*features], step.State)

		// Generated rows of the adversarial batch follow the
		// reference rows.
		generated := step.NextState
		if generated == nil {
			generated = step.State
		}
		row := e.config.RefRows + i
		copy(in.discStates[row*features:(row+1)*features], generated)
		in.discWeights[row] = 1
	}

	if ref != nil {
		if len(ref.States) > e.config.RefRows {
			return nil, fmt.Errorf("prepareInputs: reference batch of %d "+
				"exceeds reserved %d rows", len(ref.States),
				e.config.RefRows)
		}
		for i, state := range ref.States {
			if len(state) != features {
				return nil, fmt.Errorf("prepareInputs: reference state %d "+
					"has %d features, expected %d", i, len(state), features)
			}
			copy(in.discStates[i*features:(i+1)*features], state)
			in.discTargets[i] = 1
			in.discWeights[i] = 1
		}
	}

	return in, nil
}
