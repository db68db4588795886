package dgc

import (
	"gonum.org/v1/gonum/floats"
)

// accumulateCompressed folds a raw gradient into the
// momentum and residue of a compressed parameter.
// The gradient is modified in place.
func (e *Engine) accumulateCompressed(p *Parameter, s *State, grad []float64) {
	e.regularize(p, grad)
	m := e.cfg.Momentum
	floats.Scale(m, s.Momentum)
	floats.Add(s.Momentum, grad)
	floats.Add(s.Residue, s.Momentum)
	if e.cfg.Nesterov {
		floats.AddScaled(s.Residue, m, grad)
	}
}

// accumulateDense applies momentum to the gradient of a
// parameter that is exchanged uncompressed.
// The gradient is modified in place.
func (e *Engine) accumulateDense(p *Parameter, s *State, grad []float64) {
	e.regularize(p, grad)
	m := e.cfg.Momentum
	if e.cfg.Nesterov {
		floats.Add(s.Momentum, grad)
		floats.Scale(m, s.Momentum)
		floats.Add(grad, s.Momentum)
	} else {
		floats.Scale(m, s.Momentum)
		floats.Add(s.Momentum, grad)
		copy(grad, s.Momentum)
	}
}

// regularize adds weight decay and divides by the world
// size, since every exchange sums across workers.
func (e *Engine) regularize(p *Parameter, grad []float64) {
	if e.cfg.WeightDecay != 0 {
		floats.AddScaled(grad, e.cfg.WeightDecay, p.Weight)
	}
	if e.cfg.WorldSize > 1 {
		floats.Scale(1/float64(e.cfg.WorldSize), grad)
	}
}
