package dgc

import (
	"time"
)

// Stats accumulates counters across rounds until
// ResetStats is called.
type Stats struct {
	AccumulateTime time.Duration `json:"accumulate_time"`
	SelectTime     time.Duration `json:"select_time"`
	MaskTime       time.Duration `json:"mask_time"`
	PackTime       time.Duration `json:"pack_time"`
	UnpackTime     time.Duration `json:"unpack_time"`

	// CompressedParams and DenseParams count the exchanges
	// issued on each path.
	CompressedParams int `json:"compressed_params"`
	DenseParams      int `json:"dense_params"`

	// Selected is the number of elements chosen by the
	// selector, summed over parameters and rounds.
	Selected int `json:"selected"`

	// SelectIterations sums the refinement rounds of
	// threshold selections.
	SelectIterations int `json:"select_iterations"`

	// StructureElements and ValueElements count the integers
	// and floats this worker handed to the network.
	StructureElements int `json:"structure_elements"`
	ValueElements     int `json:"value_elements"`

	// Divergence maps parameter names to the difference
	// between the exact and the reconstructed gradient of
	// the latest round. It is only filled in when
	// Config.Verify is set.
	Divergence map[string]Divergence `json:"divergence,omitempty"`
}

// Divergence compares a reconstructed gradient against
// the exact sum of what every worker selected.
type Divergence struct {
	// Sum is sum(exact - reconstructed).
	Sum float64 `json:"sum"`

	// L1 is sum(|exact - reconstructed|).
	L1 float64 `json:"l1"`
}

// Bytes estimates the wire size of everything counted in
// StructureElements and ValueElements.
func (s Stats) Bytes() int {
	return 8 * (s.StructureElements + s.ValueElements)
}

func (s Stats) clone() Stats {
	res := s
	if s.Divergence != nil {
		res.Divergence = make(map[string]Divergence, len(s.Divergence))
		for k, v := range s.Divergence {
			res.Divergence[k] = v
		}
	}
	return res
}

func measure(d *time.Duration) func() {
	start := time.Now()
	return func() {
		*d += time.Since(start)
	}
}
