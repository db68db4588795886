package dgc

import (
	"gonum.org/v1/gonum/floats"
)

// buildMask sets s.Mask to 0 at the selected indices and 1
// everywhere else.
func buildMask(s *State, indices []int) {
	for i := range s.Mask {
		s.Mask[i] = 1
	}
	for _, idx := range indices {
		s.Mask[idx] = 0
	}
}

// transmitted writes residue*(1-mask) into dst, i.e. the
// dense buffer of the values selected this round.
func transmitted(dst []float64, s *State) {
	for i, m := range s.Mask {
		dst[i] = s.Residue[i] * (1 - m)
	}
}

// applyMask clears the transmitted positions from the
// residue and momentum.
func applyMask(s *State) {
	floats.Mul(s.Residue, s.Mask)
	floats.Mul(s.Momentum, s.Mask)
}
