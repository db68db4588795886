package dgc

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// An Updater applies finalized gradients to parameters.
// The Engine calls it once per parameter per step.
type Updater interface {
	Apply(p *Parameter, grad []float64) error
}

// SGD is plain gradient descent. Momentum and weight decay
// are already folded into the gradients by the Engine.
type SGD struct {
	LearningRate float64
}

// Apply subtracts LearningRate*grad from the weights.
func (s *SGD) Apply(p *Parameter, grad []float64) error {
	if len(grad) != p.Len() {
		return errors.Errorf("apply %s: gradient has %d elements, expected %d",
			p.Name, len(grad), p.Len())
	}
	floats.AddScaled(p.Weight, -s.LearningRate, grad)
	return nil
}

// UpdaterFunc adapts a function to the Updater interface.
type UpdaterFunc func(p *Parameter, grad []float64) error

// Apply calls u.
func (u UpdaterFunc) Apply(p *Parameter, grad []float64) error {
	return u(p, grad)
}
