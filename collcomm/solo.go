package collcomm

// Solo is the Collective of a single worker. Every
// operation completes as soon as it is issued.
type Solo struct{}

// Size returns 1.
func (Solo) Size() int {
	return 1
}

// Rank returns 0.
func (Solo) Rank() int {
	return 0
}

// IssueReduce leaves buf unchanged, since the sum and the
// mean of a single vector are the vector itself.
func (Solo) IssueReduce(name string, buf []float64, op ReduceOp) Handle {
	return soloHandle(name)
}

// IssueGatherInts copies buf into *out.
func (Solo) IssueGatherInts(name string, buf []int64, out *[]int64) Handle {
	*out = append([]int64{}, buf...)
	return soloHandle(name)
}

// IssueGatherFloats copies buf into *out.
func (Solo) IssueGatherFloats(name string, buf []float64, out *[]float64) Handle {
	*out = append([]float64{}, buf...)
	return soloHandle(name)
}

// Wait returns immediately.
func (Solo) Wait(h Handle) error {
	return nil
}

type soloHandle string

func (s soloHandle) Name() string {
	return string(s)
}
