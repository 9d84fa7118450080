// Package ppo implements the clipped-surrogate policy optimizer: K
// gradient epochs over an aggregated trajectory buffer updating actor,
// critic, and discriminator, followed by an atomic refresh of the
// frozen policy snapshot. Update graphs are built once per aggregate
// batch size and cached together with their solver state.
package ppo

import (
	G "gorgonia.org/gorgonia"
)

// elemMin is the elementwise minimum of two nodes, expressed as
// 0.5(a + b - |a - b|) so it stays differentiable. b may be a scalar.
func elemMin(a, b *G.Node) (*G.Node, error) {
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, err
	}
	abs, err := G.Abs(diff)
	if err != nil {
		return nil, err
	}
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, err
	}
	spread, err := G.Sub(sum, abs)
	if err != nil {
		return nil, err
	}
	return G.Mul(spread, G.NewConstant(0.5))
}

// elemMax is the elementwise maximum of two nodes. b may be a scalar.
func elemMax(a, b *G.Node) (*G.Node, error) {
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, err
	}
	abs, err := G.Abs(diff)
	if err != nil {
		return nil, err
	}
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, err
	}
	spread, err := G.Add(sum, abs)
	if err != nil {
		return nil, err
	}
	return G.Mul(spread, G.NewConstant(0.5))
}

// clamp limits every element of x to the interval [lo, hi]
func clamp(x *G.Node, lo, hi float64) (*G.Node, error) {
	capped, err := elemMin(x, G.NewConstant(hi))
	if err != nil {
		return nil, err
	}
	return elemMax(capped, G.NewConstant(lo))
}

// logSoftmax2D computes row-wise log-softmax of a matrix of logits,
// shifted by the row maximum for stability.
func logSoftmax2D(logits *G.Node) (*G.Node, error) {
	maxes, err := G.Max(logits, 1)
	if err != nil {
		return nil, err
	}
	shifted, err := G.BroadcastSub(logits, maxes, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	exps, err := G.Exp(shifted)
	if err != nil {
		return nil, err
	}
	sums, err := G.Sum(exps, 1)
	if err != nil {
		return nil, err
	}
	logSums, err := G.Log(sums)
	if err != nil {
		return nil, err
	}
	logZ, err := G.Add(maxes, logSums)
	if err != nil {
		return nil, err
	}
	return G.BroadcastSub(logits, logZ, nil, []byte{1})
}

// bceWithLogits is the numerically stable binary cross-entropy of
// logits x against targets y: max(x, 0) - xy + log(1 + exp(-|x|)).
func bceWithLogits(x, y *G.Node) (*G.Node, error) {
	rect, err := G.Rectify(x)
	if err != nil {
		return nil, err
	}
	xy, err := G.HadamardProd(x, y)
	if err != nil {
		return nil, err
	}
	linear, err := G.Sub(rect, xy)
	if err != nil {
		return nil, err
	}

	abs, err := G.Abs(x)
	if err != nil {
		return nil, err
	}
	negAbs, err := G.Neg(abs)
	if err != nil {
		return nil, err
	}
	expNegAbs, err := G.Exp(negAbs)
	if err != nil {
		return nil, err
	}
	onePlus, err := G.Add(expNegAbs, G.NewConstant(1.0))
	if err != nil {
		return nil, err
	}
	stab, err := G.Log(onePlus)
	if err != nil {
		return nil, err
	}

	return G.Add(linear, stab)
}
