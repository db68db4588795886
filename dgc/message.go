package dgc

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/sparsegrad/sparsify"
)

// A Format is a wire layout for the indices of a
// compressed message.
type Format int

const (
	// FixedSlice sends the indices alone. Every worker
	// sends the same count, so the receiver splits the
	// gathered buffer at a fixed stride.
	FixedSlice Format = iota

	// VariableBlock prefixes the indices with their count,
	// so that workers may send different counts.
	VariableBlock
)

func (f Format) String() string {
	if f == VariableBlock {
		return "variable-block"
	}
	return "fixed-slice"
}

// A Message is the compressed output of one parameter for
// one round.
type Message struct {
	Format  Format
	Indices []int64
	Values  []float64

	// Mean is the single value sent per worker when
	// values are quantized.
	Mean float64
}

// Pack builds a Message from a selection.
func Pack(format Format, sel sparsify.Result) *Message {
	indices := make([]int64, len(sel.Indices))
	for i, idx := range sel.Indices {
		indices[i] = int64(idx)
	}
	return &Message{
		Format:  format,
		Indices: indices,
		Values:  append([]float64{}, sel.Values...),
		Mean:    sel.Mean(),
	}
}

// Count gets the number of selected elements.
func (m *Message) Count() int {
	return len(m.Indices)
}

// Wire gets the structure payload of the message.
func (m *Message) Wire() []int64 {
	if m.Format == VariableBlock {
		return append([]int64{int64(len(m.Indices))}, m.Indices...)
	}
	return append([]int64{}, m.Indices...)
}

// String renders the message for debugging.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "format: %s\n", m.Format)
	fmt.Fprintf(&b, "count: %d\n", m.Count())
	fmt.Fprintf(&b, "mean: %g\n", m.Mean)
	fmt.Fprintf(&b, "values: %v\n", m.Values)
	fmt.Fprintf(&b, "wire: %v\n", m.Wire())
	return b.String()
}

// DecodeVariableBlock splits a gathered buffer of
// variable-block payloads into one index run per worker.
func DecodeVariableBlock(gathered []int64, workers int) ([][]int64, error) {
	runs := make([][]int64, 0, workers)
	var offset int
	for w := 0; w < workers; w++ {
		if offset >= len(gathered) {
			return nil, errors.Errorf("variable block: missing header for worker %d", w)
		}
		count := int(gathered[offset])
		offset++
		if count < 0 || offset+count > len(gathered) {
			return nil, errors.Errorf("variable block: worker %d claims %d indices, %d remain",
				w, count, len(gathered)-offset)
		}
		runs = append(runs, gathered[offset:offset+count])
		offset += count
	}
	if offset != len(gathered) {
		return nil, errors.Errorf("variable block: %d trailing elements", len(gathered)-offset)
	}
	return runs, nil
}

// DecodeFixedSlice splits a gathered buffer of
// fixed-slice payloads with the given per-worker count.
func DecodeFixedSlice(gathered []int64, workers, count int) ([][]int64, error) {
	if len(gathered) != workers*count {
		return nil, errors.Errorf("fixed slice: expected %d*%d indices but got %d",
			workers, count, len(gathered))
	}
	runs := make([][]int64, workers)
	for w := range runs {
		runs[w] = gathered[w*count : (w+1)*count]
	}
	return runs, nil
}

// Decompress zeroes dst and adds every worker's scalar to
// each position in its index run. Positions named by
// several workers receive the sum of their scalars.
func Decompress(dst []float64, runs [][]int64, scalars []float64) error {
	if len(runs) != len(scalars) {
		return errors.Errorf("decompress: %d index runs but %d values", len(runs), len(scalars))
	}
	for i := range dst {
		dst[i] = 0
	}
	for w, run := range runs {
		for _, idx := range run {
			if idx < 0 || int(idx) >= len(dst) {
				return errors.Errorf("decompress: worker %d sent index %d out of range [0, %d)",
					w, idx, len(dst))
			}
			dst[idx] += scalars[w]
		}
	}
	return nil
}

// Scatter zeroes dst and writes values[i] at indices[i].
// It rebuilds gradients whose indices every worker shares.
func Scatter(dst []float64, indices []int64, values []float64) error {
	if len(indices) != len(values) {
		return errors.Errorf("scatter: %d indices but %d values", len(indices), len(values))
	}
	for i := range dst {
		dst[i] = 0
	}
	for i, idx := range indices {
		if idx < 0 || int(idx) >= len(dst) {
			return errors.Errorf("scatter: index %d out of range [0, %d)", idx, len(dst))
		}
		dst[idx] = values[i]
	}
	return nil
}
