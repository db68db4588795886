package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/sparsegrad/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = 1e-9

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
type ReduceFn func(h *simulator.Handle, vecs ...[]float64) ([]float64, error)

// A ReduceOp names a reduction supported by Collective
// implementations.
type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpAverage
)

// String returns the name of the operation.
func (r ReduceOp) String() string {
	switch r {
	case OpSum:
		return "sum"
	case OpAverage:
		return "average"
	default:
		return "unknown"
	}
}

// Sum is a ReduceFn that computes a vector sum.
func Sum(h *simulator.Handle, vecs ...[]float64) ([]float64, error) {
	for i, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			return nil, errors.Errorf("mismatching lengths: vector %d has %d elements, expected %d",
				i+1, len(v), len(vecs[0]))
		}
	}
	res := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			res[i] += x
		}
	}

	// Simulate computation time.
	h.Sleep(FlopTime * float64(len(vecs)*len(vecs[0])))

	return res, nil
}
