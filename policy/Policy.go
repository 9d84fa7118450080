// Package policy implements the actor-critic-discriminator policy over
// candidate slates. The actor scores a fixed-width slate of candidate
// next states per environment slot; the critic estimates state values;
// the discriminator scores fidelity against reference structures; a
// random-distillation pair provides an innovation signal for novelty
// rewards.
//
// Two parameter copies exist: the live networks, mutated by gradient
// steps, and a frozen snapshot used for action selection and as the
// importance-ratio denominator. The snapshot is refreshed only through
// Commit, which bumps a version counter, never mid-update.
package policy

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gonum.org/v1/gonum/floats"

	"molgen/network"
	"molgen/utils/floatutils"
)

// Config describes the dimensions and architecture of a Policy
type Config struct {
	// Features is the dimensionality of state and candidate encodings
	Features int

	// MaxCandidates is the slate width: the largest candidate set any
	// environment may offer. Smaller sets are padded and masked.
	MaxCandidates int

	// SelectionBatch is the number of slots scored per joint
	// action-selection call, normally the worker pool size.
	SelectionBatch int

	// Hidden layer sizes of every head. All hidden layers use
	// rectified linear activations with bias units.
	ActorHidden  []int
	CriticHidden []int
	DiscHidden   []int
	RndHidden    []int

	// RndOutputs is the embedding width of the random-distillation
	// pair
	RndOutputs int
}

// Validate returns an error if the configuration is unusable
func (c Config) Validate() error {
	if c.Features <= 0 {
		return fmt.Errorf("validate: features must be positive")
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("validate: max candidates must be positive")
	}
	if c.SelectionBatch <= 0 {
		return fmt.Errorf("validate: selection batch must be positive")
	}
	if c.RndOutputs <= 0 {
		return fmt.Errorf("validate: rnd outputs must be positive")
	}
	return nil
}

// Policy holds the live networks, the frozen selection snapshot, and
// the forward-pass mirrors used during rollout.
type Policy struct {
	config Config

	// Live networks, mutated by the update engine
	actor        network.NeuralNet
	critic       network.NeuralNet
	disc         network.NeuralNet
	rndTarget    network.NeuralNet
	rndPredictor network.NeuralNet

	// Frozen snapshot of the actor, refreshed by Commit
	oldActor network.NeuralNet
	version  int

	// Forward-pass mirrors with their own tape machines. selActor
	// mirrors oldActor at the selection batch size; discFwd and the
	// rnd mirrors run single rows.
	selActor network.NeuralNet
	selVM    G.VM

	discFwd network.NeuralNet
	discVM  G.VM

	rndTargetFwd  network.NeuralNet
	rndTargetVM   G.VM
	rndPredictFwd network.NeuralNet
	rndPredictVM  G.VM
}

// New returns a new Policy with freshly initialized parameters
func New(config Config, init G.InitWFn) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	slate := config.Features * (1 + config.MaxCandidates)

	actor, err := newHead("Actor", slate, 1, config.MaxCandidates,
		config.ActorHidden, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create actor: %v", err)
	}
	critic, err := newHead("Critic", config.Features, 1, 1,
		config.CriticHidden, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create critic: %v", err)
	}
	disc, err := newHead("Disc", config.Features, 1, 1,
		config.DiscHidden, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create discriminator: %v",
			err)
	}
	rndTarget, err := newHead("RndTarget", config.Features, 1,
		config.RndOutputs, config.RndHidden, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create rnd target: %v", err)
	}
	rndPredictor, err := newHead("RndPredict", config.Features, 1,
		config.RndOutputs, config.RndHidden, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create rnd predictor: %v",
			err)
	}

	return assemble(config, actor, critic, disc, rndTarget, rndPredictor, 0)
}

// newHead creates one network head on its own graph
func newHead(name string, features, batch, outputs int, hidden []int,
	init G.InitWFn) (network.NeuralNet, error) {
	biases := make([]bool, len(hidden))
	activations := make([]*network.Activation, len(hidden))
	for i := range hidden {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	return network.NewMultiHeadMLP(features, batch, outputs, G.NewGraph(),
		name, hidden, biases, init, activations)
}

// assemble wires the snapshot and forward mirrors around a set of live
// networks.
func assemble(config Config, actor, critic, disc, rndTarget,
	rndPredictor network.NeuralNet, version int) (*Policy, error) {
	oldActor, err := actor.Clone()
	if err != nil {
		return nil, fmt.Errorf("assemble: could not snapshot actor: %v", err)
	}

	selActor, err := actor.CloneWithBatch(config.SelectionBatch)
	if err != nil {
		return nil, fmt.Errorf("assemble: could not create selection "+
			"mirror: %v", err)
	}
	discFwd, err := disc.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("assemble: could not create fidelity "+
			"mirror: %v", err)
	}
	rndTargetFwd, err := rndTarget.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("assemble: could not create rnd target "+
			"mirror: %v", err)
	}
	rndPredictFwd, err := rndPredictor.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("assemble: could not create rnd predictor "+
			"mirror: %v", err)
	}

	return &Policy{
		config:        config,
		actor:         actor,
		critic:        critic,
		disc:          disc,
		rndTarget:     rndTarget,
		rndPredictor:  rndPredictor,
		oldActor:      oldActor,
		version:       version,
		selActor:      selActor,
		selVM:         G.NewTapeMachine(selActor.Graph()),
		discFwd:       discFwd,
		discVM:        G.NewTapeMachine(discFwd.Graph()),
		rndTargetFwd:  rndTargetFwd,
		rndTargetVM:   G.NewTapeMachine(rndTargetFwd.Graph()),
		rndPredictFwd: rndPredictFwd,
		rndPredictVM:  G.NewTapeMachine(rndPredictFwd.Graph()),
	}, nil
}

// Config returns the policy's configuration
func (p *Policy) Config() Config {
	return p.config
}

// NumChannels returns the number of independent action channels. The
// candidate-selection policy has a single channel; actions and
// log-probabilities are nevertheless always carried as sequences.
func (p *Policy) NumChannels() int {
	return 1
}

// Actor returns the live actor network
func (p *Policy) Actor() network.NeuralNet { return p.actor }

// Critic returns the live critic network
func (p *Policy) Critic() network.NeuralNet { return p.critic }

// Discriminator returns the live discriminator network
func (p *Policy) Discriminator() network.NeuralNet { return p.disc }

// RndTarget returns the fixed random-distillation target network
func (p *Policy) RndTarget() network.NeuralNet { return p.rndTarget }

// RndPredictor returns the live random-distillation predictor
func (p *Policy) RndPredictor() network.NeuralNet { return p.rndPredictor }

// OldActor returns the frozen actor snapshot
func (p *Policy) OldActor() network.NeuralNet { return p.oldActor }

// Version returns the snapshot version, bumped on every Commit
func (p *Policy) Version() int {
	return p.version
}

// Commit atomically refreshes the frozen snapshot from the live
// parameters, bumps the snapshot version, and re-syncs the forward
// mirrors. Called exactly once per update cycle.
func (p *Policy) Commit() error {
	if err := p.oldActor.Set(p.actor); err != nil {
		return fmt.Errorf("commit: could not refresh snapshot: %v", err)
	}
	p.version++
	if err := p.Refresh(); err != nil {
		return fmt.Errorf("commit: %v", err)
	}
	return nil
}

// Refresh re-syncs the forward mirrors from the networks they shadow.
// Called after any update that mutates live parameters outside a full
// Commit, such as the discriminator-only update.
func (p *Policy) Refresh() error {
	if err := p.selActor.Set(p.oldActor); err != nil {
		return fmt.Errorf("refresh: selection mirror: %v", err)
	}
	if err := p.discFwd.Set(p.disc); err != nil {
		return fmt.Errorf("refresh: fidelity mirror: %v", err)
	}
	if err := p.rndPredictFwd.Set(p.rndPredictor); err != nil {
		return fmt.Errorf("refresh: rnd predictor mirror: %v", err)
	}
	return nil
}

// SlateRow flattens one decision point into an actor input row: the
// state followed by the padded candidate slate.
func (p *Policy) SlateRow(state []float64, candidates [][]float64,
	dst []float64) error {
	features := p.config.Features
	if len(state) != features {
		return fmt.Errorf("slateRow: state has %d features, expected %d",
			len(state), features)
	}
	if len(candidates) > p.config.MaxCandidates {
		return fmt.Errorf("slateRow: %d candidates exceed slate width %d",
			len(candidates), p.config.MaxCandidates)
	}

	copy(dst[:features], state)
	for i, c := range candidates {
		if len(c) != features {
			return fmt.Errorf("slateRow: candidate %d has %d features, "+
				"expected %d", i, len(c), features)
		}
		copy(dst[(1+i)*features:(2+i)*features], c)
	}
	for i := len(candidates); i < p.config.MaxCandidates; i++ {
		row := dst[(1+i)*features : (2+i)*features]
		for j := range row {
			row[j] = 0
		}
	}
	return nil
}

// SelectActions samples one action per decision point under the frozen
// snapshot. states and candidates are index-aligned, at most
// SelectionBatch long; rows beyond len(states) are padded. Each
// decision point yields a sequence of action indices and matching
// log-probabilities, one entry per action channel.
func (p *Policy) SelectActions(states [][]float64,
	candidates [][][]float64, rng *rand.Rand) ([][]int, [][]float64, error) {
	if len(states) != len(candidates) {
		return nil, nil, fmt.Errorf("selectActions: %d states for %d "+
			"candidate sets", len(states), len(candidates))
	}
	if len(states) == 0 {
		return nil, nil, nil
	}
	if len(states) > p.config.SelectionBatch {
		return nil, nil, fmt.Errorf("selectActions: %d decision points "+
			"exceed selection batch %d", len(states),
			p.config.SelectionBatch)
	}

	slate := p.config.Features * (1 + p.config.MaxCandidates)
	input := make([]float64, p.config.SelectionBatch*slate)
	for i := range states {
		if len(candidates[i]) == 0 {
			return nil, nil, fmt.Errorf("selectActions: decision point %d "+
				"has no candidates", i)
		}
		if err := p.SlateRow(states[i], candidates[i],
			input[i*slate:(i+1)*slate]); err != nil {
			return nil, nil, fmt.Errorf("selectActions: %v", err)
		}
	}

	if err := p.selActor.SetInput(input); err != nil {
		return nil, nil, fmt.Errorf("selectActions: %v", err)
	}
	if err := p.selVM.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("selectActions: forward pass: %v", err)
	}
	logits := p.selActor.Output().Data().([]float64)
	p.selVM.Reset()

	actions := make([][]int, len(states))
	logProbs := make([][]float64, len(states))
	for i := range states {
		row := logits[i*p.config.MaxCandidates : (i+1)*p.config.MaxCandidates]
		valid := row[:len(candidates[i])]

		logDist := floatutils.LogSoftmax(valid)
		action := sampleCategorical(logDist, rng)

		actions[i] = []int{action}
		logProbs[i] = []float64{logDist[action]}
	}

	return actions, logProbs, nil
}

// sampleCategorical draws an index from the distribution given by
// log-probabilities.
func sampleCategorical(logDist []float64, rng *rand.Rand) int {
	probs := make([]float64, len(logDist))
	for i, lp := range logDist {
		probs[i] = math.Exp(lp)
	}
	floats.CumSum(probs, probs)

	u := rng.Float64() * probs[len(probs)-1]
	for i, c := range probs {
		if u < c {
			return i
		}
	}
	return len(probs) - 1
}

// Fidelity returns the discriminator's sigmoid score for each state,
// index-aligned with the input.
func (p *Policy) Fidelity(states [][]float64) ([]float64, error) {
	scores := make([]float64, len(states))
	for i, state := range states {
		if err := p.discFwd.SetInput(state); err != nil {
			return nil, fmt.Errorf("fidelity: %v", err)
		}
		if err := p.discVM.RunAll(); err != nil {
			return nil, fmt.Errorf("fidelity: forward pass: %v", err)
		}
		logit := p.discFwd.Output().Data().([]float64)[0]
		p.discVM.Reset()

		scores[i] = 1.0 / (1.0 + math.Exp(-logit))
	}
	return scores, nil
}

// NoveltyScores returns the random-distillation innovation signal for
// each state: the mean squared error between the fixed target
// embedding and the trained predictor's embedding. States the
// predictor has fit well score low.
func (p *Policy) NoveltyScores(states [][]float64) ([]float64, error) {
	scores := make([]float64, len(states))
	for i, state := range states {
		if err := p.rndTargetFwd.SetInput(state); err != nil {
			return nil, fmt.Errorf("noveltyScores: %v", err)
		}
		if err := p.rndTargetVM.RunAll(); err != nil {
			return nil, fmt.Errorf("noveltyScores: target forward "+
				"pass: %v", err)
		}
		target := append([]float64{},
			p.rndTargetFwd.Output().Data().([]float64)...)
		p.rndTargetVM.Reset()

		if err := p.rndPredictFwd.SetInput(state); err != nil {
			return nil, fmt.Errorf("noveltyScores: %v", err)
		}
		if err := p.rndPredictVM.RunAll(); err != nil {
			return nil, fmt.Errorf("noveltyScores: predictor forward "+
				"pass: %v", err)
		}
		predicted := p.rndPredictFwd.Output().Data().([]float64)
		mse := 0.0
		for j := range target {
			diff := target[j] - predicted[j]
			mse += diff * diff
		}
		p.rndPredictVM.Reset()

		scores[i] = mse / float64(len(target))
	}
	return scores, nil
}

// GobEncode implements the gob.GobEncoder interface
func (p *Policy) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(p.config); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode config: %v", err)
	}
	if err := enc.Encode(p.version); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode version: %v", err)
	}

	for _, net := range []network.NeuralNet{p.actor, p.critic, p.disc,
		p.rndTarget, p.rndPredictor} {
		if err := network.EncodeGob(enc, net); err != nil {
			return nil, fmt.Errorf("gobencode: %v", err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The snapshot is
// rebuilt from the decoded live parameters, preserving the version.
func (p *Policy) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var config Config
	if err := dec.Decode(&config); err != nil {
		return fmt.Errorf("gobdecode: could not decode config: %v", err)
	}
	var version int
	if err := dec.Decode(&version); err != nil {
		return fmt.Errorf("gobdecode: could not decode version: %v", err)
	}

	nets := make([]network.NeuralNet, 5)
	for i := range nets {
		net, err := network.DecodeGob(dec)
		if err != nil {
			return fmt.Errorf("gobdecode: network %d: %v", i, err)
		}
		nets[i] = net
	}

	decoded, err := assemble(config, nets[0], nets[1], nets[2], nets[3],
		nets[4], version)
	if err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	*p = *decoded
	return nil
}
