package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"molgen/network"
	"molgen/policy"
)

// paddedLogit is added to the logits of padded slate columns so they
// carry no probability mass. Kept finite so p*log(p) stays 0 for
// padded columns instead of producing NaN.
const paddedLogit = -1e9

// updateGraph is the combined-loss computational graph for one
// aggregate batch size, together with its tape machine and solver
// state. The actor, critic, and discriminator heads are clones of the
// live networks composed on a single graph; their weights are synced
// from the live networks at the start of every epoch and written back
// after each gradient step.
type updateGraph struct {
	g     *G.ExprGraph
	batch int

	// Input nodes
	slates      *G.Node // [N, S(1+C)] state plus padded candidate slate
	penalty     *G.Node // [N, C] 0 for valid slate columns, paddedLogit
	oneHot      *G.Node // [N, C] chosen-candidate indicator
	oldLogProbs *G.Node // [N] selection-time log-probabilities
	advantages  *G.Node // [N]
	targets     *G.Node // [N, 1] normalized returns
	states      *G.Node // [N, S]
	discStates  *G.Node // [R+N, S] reference rows then generated rows
	discTargets *G.Node // [R+N, 1] 1 for reference, 0 for generated
	discWeights *G.Node // [R+N, 1] 0 for absent reference rows
	advGate     *G.Node // scalar: 0, or the adversarial coefficient

	actor  network.NeuralNet
	critic network.NeuralNet
	disc   network.NeuralNet

	lossVal    G.Value
	policyVal  G.Value
	entropyVal G.Value
	valueVal   G.Value
	advVal     G.Value

	vm     G.VM
	solver G.Solver
	model  []G.ValueGrad
}

// newUpdateGraph builds the combined loss graph for the given
// aggregate batch size.
func newUpdateGraph(p *policy.Policy, config Config,
	batch int) (*updateGraph, error) {
	features := p.Config().Features
	slateCols := p.Config().MaxCandidates
	slateWidth := features * (1 + slateCols)
	discRows := config.RefRows + batch

	g := G.NewGraph()
	u := &updateGraph{g: g, batch: batch}

	u.slates = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, slateWidth), G.WithName("updateSlates"),
		G.WithInit(G.Zeroes()))
	u.penalty = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, slateCols), G.WithName("updatePenalty"),
		G.WithInit(G.Zeroes()))
	u.oneHot = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, slateCols), G.WithName("updateOneHot"),
		G.WithInit(G.Zeroes()))
	u.oldLogProbs = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("updateOldLogProbs"), G.WithInit(G.Zeroes()))
	u.advantages = G.NewVector(g, tensor.Float64, G.WithShape(batch),
		G.WithName("updateAdvantages"), G.WithInit(G.Zeroes()))
	u.targets = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("updateTargets"), G.WithInit(G.Zeroes()))
	u.states = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, features), G.WithName("updateStates"),
		G.WithInit(G.Zeroes()))
	u.discStates = G.NewMatrix(g, tensor.Float64,
		G.WithShape(discRows, features), G.WithName("updateDiscStates"),
		G.WithInit(G.Zeroes()))
	u.discTargets = G.NewMatrix(g, tensor.Float64,
		G.WithShape(discRows, 1), G.WithName("updateDiscTargets"),
		G.WithInit(G.Zeroes()))
	u.discWeights = G.NewMatrix(g, tensor.Float64,
		G.WithShape(discRows, 1), G.WithName("updateDiscWeights"),
		G.WithInit(G.Ones()))
	u.advGate = G.NewScalar(g, tensor.Float64, G.WithName("updateAdvGate"))

	var err error
	u.actor, err = p.Actor().CloneWithInput(u.slates)
	if err != nil {
		return nil, fmt.Errorf("newUpdateGraph: could not clone actor: %v",
			err)
	}
	u.critic, err = p.Critic().CloneWithInput(u.states)
	if err != nil {
		return nil, fmt.Errorf("newUpdateGraph: could not clone "+
			"critic: %v", err)
	}
	u.disc, err = p.Discriminator().CloneWithInput(u.discStates)
	if err != nil {
		return nil, fmt.Errorf("newUpdateGraph: could not clone "+
			"discriminator: %v", err)
	}

	loss, err := u.buildLoss(config)
	if err != nil {
		return nil, fmt.Errorf("newUpdateGraph: %v", err)
	}

	learnables := make(G.Nodes, 0)
	learnables = append(learnables, u.actor.Learnables()...)
	learnables = append(learnables, u.critic.Learnables()...)
	learnables = append(learnables, u.disc.Learnables()...)

	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("newUpdateGraph: could not compute "+
			"gradient: %v", err)
	}

	u.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	u.solver = config.Solver.New()

	u.model = make([]G.ValueGrad, 0)
	u.model = append(u.model, u.actor.Model()...)
	u.model = append(u.model, u.critic.Model()...)
	u.model = append(u.model, u.disc.Model()...)

	return u, nil
}

// buildLoss assembles the combined clipped-surrogate, entropy, value,
// and gated adversarial loss and registers reads of each component.
func (u *updateGraph) buildLoss(config Config) (*G.Node, error) {
	// Clipped surrogate over the candidate-selection channel
	masked, err := G.Add(u.actor.Prediction(), u.penalty)
	if err != nil {
		return nil, fmt.Errorf("could not mask logits: %v", err)
	}
	logProbs, err := logSoftmax2D(masked)
	if err != nil {
		return nil, fmt.Errorf("could not compute log-softmax: %v", err)
	}
	chosen, err := G.HadamardProd(logProbs, u.oneHot)
	if err != nil {
		return nil, fmt.Errorf("could not select chosen log-probs: %v", err)
	}
	curLogProbs, err := G.Sum(chosen, 1)
	if err != nil {
		return nil, fmt.Errorf("could not reduce chosen log-probs: %v", err)
	}
	logRatio, err := G.Sub(curLogProbs, u.oldLogProbs)
	if err != nil {
		return nil, fmt.Errorf("could not compute log-ratio: %v", err)
	}
	ratio, err := G.Exp(logRatio)
	if err != nil {
		return nil, fmt.Errorf("could not compute ratio: %v", err)
	}

	surrogate, err := G.HadamardProd(ratio, u.advantages)
	if err != nil {
		return nil, fmt.Errorf("could not compute surrogate: %v", err)
	}
	clippedRatio, err := clamp(ratio, 1-config.ClipEps, 1+config.ClipEps)
	if err != nil {
		return nil, fmt.Errorf("could not clip ratio: %v", err)
	}
	clippedSurrogate, err := G.HadamardProd(clippedRatio, u.advantages)
	if err != nil {
		return nil, fmt.Errorf("could not compute clipped surrogate: %v",
			err)
	}
	pessimistic, err := elemMin(surrogate, clippedSurrogate)
	if err != nil {
		return nil, fmt.Errorf("could not take pessimistic surrogate: %v",
			err)
	}
	meanSurrogate, err := G.Mean(pessimistic)
	if err != nil {
		return nil, fmt.Errorf("could not average surrogate: %v", err)
	}
	policyLoss, err := G.Neg(meanSurrogate)
	if err != nil {
		return nil, fmt.Errorf("could not negate surrogate: %v", err)
	}
	G.Read(policyLoss, &u.policyVal)

	// Entropy of the masked candidate distribution
	probs, err := G.Exp(logProbs)
	if err != nil {
		return nil, fmt.Errorf("could not compute probabilities: %v", err)
	}
	plogp, err := G.HadamardProd(probs, logProbs)
	if err != nil {
		return nil, fmt.Errorf("could not compute p log p: %v", err)
	}
	negEntropy, err := G.Sum(plogp, 1)
	if err != nil {
		return nil, fmt.Errorf("could not reduce entropy: %v", err)
	}
	entropy, err := G.Neg(negEntropy)
	if err != nil {
		return nil, fmt.Errorf("could not negate entropy: %v", err)
	}
	meanEntropy, err := G.Mean(entropy)
	if err != nil {
		return nil, fmt.Errorf("could not average entropy: %v", err)
	}
	G.Read(meanEntropy, &u.entropyVal)

	// Critic regression against normalized returns
	residual, err := G.Sub(u.critic.Prediction(), u.targets)
	if err != nil {
		return nil, fmt.Errorf("could not compute value residual: %v", err)
	}
	squared, err := G.Square(residual)
	if err != nil {
		return nil, fmt.Errorf("could not square residual: %v", err)
	}
	valueLoss, err := G.Mean(squared)
	if err != nil {
		return nil, fmt.Errorf("could not average value loss: %v", err)
	}
	G.Read(valueLoss, &u.valueVal)

	// Adversarial binary cross-entropy: reference rows toward 1,
	// generated rows toward 0, absent rows weighted out. Gated to the
	// final epoch by the advGate input.
	bce, err := bceWithLogits(u.disc.Prediction(), u.discTargets)
	if err != nil {
		return nil, fmt.Errorf("could not compute adversarial bce: %v", err)
	}
	weightedBce, err := G.HadamardProd(bce, u.discWeights)
	if err != nil {
		return nil, fmt.Errorf("could not weight adversarial bce: %v", err)
	}
	bceSum, err := G.Sum(weightedBce)
	if err != nil {
		return nil, fmt.Errorf("could not reduce adversarial bce: %v", err)
	}
	weightSum, err := G.Sum(u.discWeights)
	if err != nil {
		return nil, fmt.Errorf("could not reduce adversarial weights: %v",
			err)
	}
	advLoss, err := G.Div(bceSum, weightSum)
	if err != nil {
		return nil, fmt.Errorf("could not average adversarial bce: %v", err)
	}
	G.Read(advLoss, &u.advVal)

	// total = policy - eta*entropy + upsilon*value + gate*adversarial
	entropyTerm, err := G.Mul(meanEntropy, G.NewConstant(config.Eta))
	if err != nil {
		return nil, fmt.Errorf("could not scale entropy term: %v", err)
	}
	loss, err := G.Sub(policyLoss, entropyTerm)
	if err != nil {
		return nil, fmt.Errorf("could not subtract entropy term: %v", err)
	}
	valueTerm, err := G.Mul(valueLoss, G.NewConstant(config.Upsilon))
	if err != nil {
		return nil, fmt.Errorf("could not scale value term: %v", err)
	}
	loss, err = G.Add(loss, valueTerm)
	if err != nil {
		return nil, fmt.Errorf("could not add value term: %v", err)
	}
	advTerm, err := G.Mul(advLoss, u.advGate)
	if err != nil {
		return nil, fmt.Errorf("could not gate adversarial term: %v", err)
	}
	loss, err = G.Add(loss, advTerm)
	if err != nil {
		return nil, fmt.Errorf("could not add adversarial term: %v", err)
	}
	G.Read(loss, &u.lossVal)

	return loss, nil
}

// syncFromLive copies the live network weights into the graph's head
// clones.
func (u *updateGraph) syncFromLive(p *policy.Policy) error {
	if err := u.actor.Set(p.Actor()); err != nil {
		return fmt.Errorf("syncFromLive: actor: %v", err)
	}
	if err := u.critic.Set(p.Critic()); err != nil {
		return fmt.Errorf("syncFromLive: critic: %v", err)
	}
	if err := u.disc.Set(p.Discriminator()); err != nil {
		return fmt.Errorf("syncFromLive: discriminator: %v", err)
	}
	return nil
}

// writeBackToLive copies the stepped head weights back into the live
// networks.
func (u *updateGraph) writeBackToLive(p *policy.Policy) error {
	if err := p.Actor().Set(u.actor); err != nil {
		return fmt.Errorf("writeBackToLive: actor: %v", err)
	}
	if err := p.Critic().Set(u.critic); err != nil {
		return fmt.Errorf("writeBackToLive: critic: %v", err)
	}
	if err := p.Discriminator().Set(u.disc); err != nil {
		return fmt.Errorf("writeBackToLive: discriminator: %v", err)
	}
	return nil
}

// batchInputs holds the prepared tensor data for one update cycle.
// Everything except advantages and the gate is fixed across epochs.
type batchInputs struct {
	slates      []float64
	penalty     []float64
	oneHot      []float64
	oldLogProbs []float64
	targets     []float64
	states      []float64
	discStates  []float64
	discTargets []float64
	discWeights []float64
}

// setInputs binds the cycle's data, the epoch's advantages, and the
// epoch's adversarial gate to the graph inputs.
func (u *updateGraph) setInputs(in *batchInputs, advantages []float64,
	gate float64) error {
	lets := []struct {
		node *G.Node
		data []float64
	}{
		{u.slates, in.slates},
		{u.penalty, in.penalty},
		{u.oneHot, in.oneHot},
		{u.oldLogProbs, in.oldLogProbs},
		{u.advantages, advantages},
		{u.targets, in.targets},
		{u.states, in.states},
		{u.discStates, in.discStates},
		{u.discTargets, in.discTargets},
		{u.discWeights, in.discWeights},
	}
	for _, l := range lets {
		backing := make([]float64, len(l.data))
		copy(backing, l.data)
		t := tensor.New(tensor.WithBacking(backing),
			tensor.WithShape(l.node.Shape()...))
		if err := G.Let(l.node, t); err != nil {
			return fmt.Errorf("setInputs: could not bind %v: %v",
				l.node.Name(), err)
		}
	}
	if err := G.Let(u.advGate, gate); err != nil {
		return fmt.Errorf("setInputs: could not bind gate: %v", err)
	}
	return nil
}

// scalarOf extracts the float64 held by a scalar or single-element
// value.
func scalarOf(v G.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	default:
		panic(fmt.Sprintf("scalarOf: unexpected value type %T", data))
	}
}
