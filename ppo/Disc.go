package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"molgen/network"
	"molgen/reference"
	"molgen/trajectory"
	"molgen/utils/floatutils"
)

// discGraph is the discriminator-only update graph for one reference
// batch size.
type discGraph struct {
	g       *G.ExprGraph
	states  *G.Node // [R, S]
	targets *G.Node // [R, 1]
	weights *G.Node // [R, 1]

	disc network.NeuralNet

	lossVal G.Value

	vm     G.VM
	solver G.Solver
}

// newDiscGraph builds the weighted binary cross-entropy graph for a
// reference batch of the given size.
func newDiscGraph(e *Engine, batch int) (*discGraph, error) {
	features := e.policy.Config().Features

	g := G.NewGraph()
	d := &discGraph{g: g}

	d.states = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, features), G.WithName("discStates"),
		G.WithInit(G.Zeroes()))
	d.targets = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("discTargets"), G.WithInit(G.Ones()))
	d.weights = G.NewMatrix(g, tensor.Float64, G.WithShape(batch, 1),
		G.WithName("discWeights"), G.WithInit(G.Ones()))

	var err error
	d.disc, err = e.policy.Discriminator().CloneWithInput(d.states)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not clone "+
			"discriminator: %v", err)
	}

	bce, err := bceWithLogits(d.disc.Prediction(), d.targets)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not compute bce: %v",
			err)
	}
	weighted, err := G.HadamardProd(bce, d.weights)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not weight bce: %v", err)
	}
	bceSum, err := G.Sum(weighted)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not reduce bce: %v", err)
	}
	weightSum, err := G.Sum(d.weights)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not reduce "+
			"weights: %v", err)
	}
	loss, err := G.Div(bceSum, weightSum)
	if err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not average bce: %v",
			err)
	}
	G.Read(loss, &d.lossVal)

	learnables := d.disc.Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("newDiscGraph: could not compute "+
			"gradient: %v", err)
	}

	d.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	d.solver = e.config.Solver.New()

	return d, nil
}

// UpdateDisc performs a discriminator-only step: weighted binary
// cross-entropy toward 1 on a reference batch, weighted by a softmin
// transform of the reference scores so that low-score examples carry
// the most weight. Weights are scaled to mean 1. The policy's forward
// mirrors are refreshed afterward.
func (e *Engine) UpdateDisc(ref *reference.Batch) (float64, error) {
	if ref == nil || len(ref.States) == 0 {
		return 0, fmt.Errorf("updateDisc: empty reference batch")
	}
	n := len(ref.States)
	features := e.policy.Config().Features

	graph, ok := e.discGraphs[n]
	if !ok {
		var err error
		graph, err = newDiscGraph(e, n)
		if err != nil {
			return 0, fmt.Errorf("updateDisc: %v", err)
		}
		e.discGraphs[n] = graph
	}

	states := make([]float64, n*features)
	targets := make([]float64, n)
	weights := floatutils.Softmin(ref.Scores)
	for i, state := range ref.States {
		if len(state) != features {
			return 0, fmt.Errorf("updateDisc: reference state %d has %d "+
				"features, expected %d", i, len(state), features)
		}
		copy(states[i*features:(i+1)*features], state)
		targets[i] = 1
		weights[i] *= float64(n)
	}

	if err := graph.disc.Set(e.policy.Discriminator()); err != nil {
		return 0, fmt.Errorf("updateDisc: %v", err)
	}
	for _, l := range []struct {
		node *G.Node
		data []float64
	}{
		{graph.states, states},
		{graph.targets, targets},
		{graph.weights, weights},
	} {
		t := tensor.New(tensor.WithBacking(l.data),
			tensor.WithShape(l.node.Shape()...))
		if err := G.Let(l.node, t); err != nil {
			return 0, fmt.Errorf("updateDisc: could not bind %v: %v",
				l.node.Name(), err)
		}
	}

	if err := graph.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("updateDisc: forward-backward pass: %v", err)
	}
	loss := scalarOf(graph.lossVal)
	if !floatutils.AllFinite(loss) {
		graph.vm.Reset()
		return loss, fmt.Errorf("updateDisc: non-finite loss %v", loss)
	}
	if err := graph.solver.Step(graph.disc.Model()); err != nil {
		return 0, fmt.Errorf("updateDisc: solver step: %v", err)
	}
	graph.vm.Reset()

	if err := e.policy.Discriminator().Set(graph.disc); err != nil {
		return 0, fmt.Errorf("updateDisc: %v", err)
	}
	if err := e.policy.Refresh(); err != nil {
		return 0, fmt.Errorf("updateDisc: %v", err)
	}

	return loss, nil
}

// rndGraph trains the random-distillation predictor toward the fixed
// target embeddings for one batch size.
type rndGraph struct {
	g         *G.ExprGraph
	states    *G.Node // [N, S]
	targetEmb *G.Node // [N, D]

	predictor network.NeuralNet

	target   network.NeuralNet // forward-only target mirror
	targetVM G.VM

	lossVal G.Value

	vm     G.VM
	solver G.Solver
}

// newRndGraph builds the predictor regression graph for a batch size
func newRndGraph(e *Engine, batch int) (*rndGraph, error) {
	features := e.policy.Config().Features
	outputs := e.policy.Config().RndOutputs

	g := G.NewGraph()
	r := &rndGraph{g: g}

	r.states = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, features), G.WithName("rndStates"),
		G.WithInit(G.Zeroes()))
	r.targetEmb = G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, outputs), G.WithName("rndTargetEmb"),
		G.WithInit(G.Zeroes()))

	var err error
	r.predictor, err = e.policy.RndPredictor().CloneWithInput(r.states)
	if err != nil {
		return nil, fmt.Errorf("newRndGraph: could not clone predictor: %v",
			err)
	}

	residual, err := G.Sub(r.predictor.Prediction(), r.targetEmb)
	if err != nil {
		return nil, fmt.Errorf("newRndGraph: could not compute "+
			"residual: %v", err)
	}
	squared, err := G.Square(residual)
	if err != nil {
		return nil, fmt.Errorf("newRndGraph: could not square "+
			"residual: %v", err)
	}
	loss, err := G.Mean(squared)
	if err != nil {
		return nil, fmt.Errorf("newRndGraph: could not average loss: %v",
			err)
	}
	G.Read(loss, &r.lossVal)

	learnables := r.predictor.Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("newRndGraph: could not compute "+
			"gradient: %v", err)
	}

	r.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	r.solver = e.config.Solver.New()

	// The target never trains, so its mirror never needs refreshing
	r.target, err = e.policy.RndTarget().CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newRndGraph: could not clone target: %v",
			err)
	}
	r.targetVM = G.NewTapeMachine(r.target.Graph())

	return r, nil
}

// updateRnd fits the predictor to the fixed target embeddings of the
// buffer's states, shrinking the innovation reward for regions the
// policy keeps visiting.
func (e *Engine) updateRnd(buf *trajectory.Buffer) error {
	n := buf.Len()
	features := e.policy.Config().Features

	graph, ok := e.rndGraphs[n]
	if !ok {
		var err error
		graph, err = newRndGraph(e, n)
		if err != nil {
			return fmt.Errorf("updateRnd: %v", err)
		}
		e.rndGraphs[n] = graph
	}

	states := make([]float64, n*features)
	for i, step := range buf.Steps() {
		copy(states[i*features:(i+1)*features], step.State)
	}

	if err := graph.target.SetInput(states); err != nil {
		return fmt.Errorf("updateRnd: %v", err)
	}
	if err := graph.targetVM.RunAll(); err != nil {
		return fmt.Errorf("updateRnd: target forward pass: %v", err)
	}
	targetEmb := append([]float64{},
		graph.target.Output().Data().([]float64)...)
	graph.targetVM.Reset()

	if err := graph.predictor.Set(e.policy.RndPredictor()); err != nil {
		return fmt.Errorf("updateRnd: %v", err)
	}
	for _, l := range []struct {
		node *G.Node
		data []float64
	}{
		{graph.states, states},
		{graph.targetEmb, targetEmb},
	} {
		t := tensor.New(tensor.WithBacking(l.data),
			tensor.WithShape(l.node.Shape()...))
		if err := G.Let(l.node, t); err != nil {
			return fmt.Errorf("updateRnd: could not bind %v: %v",
				l.node.Name(), err)
		}
	}

	if err := graph.vm.RunAll(); err != nil {
		return fmt.Errorf("updateRnd: forward-backward pass: %v", err)
	}
	loss := scalarOf(graph.lossVal)
	if !floatutils.AllFinite(loss) {
		graph.vm.Reset()
		return fmt.Errorf("updateRnd: non-finite loss %v", loss)
	}
	if err := graph.solver.Step(graph.predictor.Model()); err != nil {
		return fmt.Errorf("updateRnd: solver step: %v", err)
	}
	graph.vm.Reset()

	if err := e.policy.RndPredictor().Set(graph.predictor); err != nil {
		return fmt.Errorf("updateRnd: %v", err)
	}

	return nil
}
