package simulator

// A ConnMat is a connectivity matrix.
//
// Entry (src, dst) is the transfer rate from a source
// node (row) to a destination node (column).
type ConnMat struct {
	numNodes int
	rates    []float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numNodes int) *ConnMat {
	return &ConnMat{
		numNodes: numNodes,
		rates:    make([]float64, numNodes*numNodes),
	}
}

// NumNodes returns the number of nodes.
func (c *ConnMat) NumNodes() int {
	return c.numNodes
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	return c.rates[c.index(src, dst)]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.rates[c.index(src, dst)] = value
}

// SumDest sums a column of the matrix.
func (c *ConnMat) SumDest(dst int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.Get(i, dst)
	}
	return sum
}

// SumSource sums a row of the matrix.
func (c *ConnMat) SumSource(src int) float64 {
	var sum float64
	for i := 0; i < c.numNodes; i++ {
		sum += c.Get(src, i)
	}
	return sum
}

// ScaleDest scales a column of the matrix.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.rates[c.index(i, dst)] *= scale
	}
}

// ScaleSource scales a row of the matrix.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	for i := 0; i < c.numNodes; i++ {
		c.rates[c.index(src, i)] *= scale
	}
}

func (c *ConnMat) index(src, dst int) int {
	if src < 0 || dst < 0 || src >= c.numNodes || dst >= c.numNodes {
		panic("index out of bounds")
	}
	return src*c.numNodes + dst
}

// A Switcher decides how fast data flows between every
// pair of nodes, including what happens when a node is
// oversubscribed.
type Switcher interface {
	// SwitchedRates receives a matrix with 1 wherever a
	// node wants to send to another node and 0 elsewhere,
	// and overwrites it with the resulting transfer rates.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher spreads a node's upload evenly over
// its outgoing connections, then throttles every
// oversubscribed download proportionally.
//
// This amounts to normalizing the rows of the connection
// matrix, and then its columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher in
// which every node uploads and downloads at rate.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}
	for src := 0; src < g.NumNodes(); src++ {
		if numDests := mat.SumSource(src); numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}
	for dst := 0; dst < g.NumNodes(); dst++ {
		if incoming := mat.SumDest(dst); incoming > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incoming)
		}
	}
}
