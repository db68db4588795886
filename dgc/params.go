package dgc

import (
	"github.com/unixpickle/sparsegrad/sparsify"
)

// A ParamID identifies a registered parameter. IDs are
// assigned in registration order, starting at 0.
type ParamID int

// A Parameter is a trainable tensor, stored flat.
type Parameter struct {
	ID    ParamID
	Name  string
	Shape []int

	// Weight holds the live weights. Updaters modify it in
	// place.
	Weight []float64

	// Grad holds the gradient that the next update will
	// apply.
	Grad []float64

	// Tier is fixed at registration.
	Tier Tier
}

// Len gets the number of elements.
func (p *Parameter) Len() int {
	return len(p.Weight)
}

// State is the error-feedback memory of one parameter.
type State struct {
	Momentum []float64
	Residue  []float64

	// Mask is 0 at the positions sent in the last round and
	// 1 everywhere else.
	Mask []float64

	// Direction is used by the next selection.
	Direction sparsify.Direction

	Tier Tier

	// Round counts the gradients the parameter received.
	Round int
}

func newState(n int, tier Tier) *State {
	mask := make([]float64, n)
	for i := range mask {
		mask[i] = 1
	}
	return &State{
		Momentum:  make([]float64, n),
		Residue:   make([]float64, n),
		Mask:      mask,
		Direction: sparsify.Bottom,
		Tier:      tier,
	}
}

func shapeSize(shape []int) int {
	n := 1
	for _, x := range shape {
		n *= x
	}
	return n
}
