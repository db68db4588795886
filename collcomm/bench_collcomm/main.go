// Command bench_collcomm compares the virtual time of the
// dense allreduce algorithms against the sparse exchange
// used for compressed gradients.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/unixpickle/sparsegrad/collcomm"
	"github.com/unixpickle/sparsegrad/mdtable"
	"github.com/unixpickle/sparsegrad/simulator"
)

// SparseRatio is the fraction of a vector exchanged by the
// sparse column.
const SparseRatio = 0.001

// A Setup is a switched network of identical nodes.
type Setup struct {
	Nodes   int
	Latency float64
	Rate    float64
}

// Time runs fn on every node of a fresh network and
// returns the virtual time at which the last node is done.
func (s Setup) Time(fn func(c *collcomm.Comms)) float64 {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, s.Nodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	switcher := simulator.NewGreedyDropSwitcher(s.Nodes, s.Rate)
	collcomm.SpawnComms(loop, simulator.NewSwitcherNetwork(switcher, nodes, s.Latency), nodes, fn)
	loop.MustRun()
	return loop.Time()
}

// DenseTime measures one allreduce of size elements.
func (s Setup) DenseTime(reducer collcomm.Allreducer, size int) float64 {
	return s.Time(func(c *collcomm.Comms) {
		if _, err := reducer.Allreduce(c, make([]float64, size), FakeReduce); err != nil {
			panic(err)
		}
	})
}

// SparseTime measures an index gather followed by a value
// gather of SparseRatio*size elements per node.
func (s Setup) SparseTime(size int) float64 {
	k := max(1, int(SparseRatio*float64(size)))
	indices := s.Time(func(c *collcomm.Comms) {
		collcomm.Allgather(c, make([]int64, k+1))
	})
	means := s.Time(func(c *collcomm.Comms) {
		collcomm.Allgather(c, make([]float64, 1))
	})
	return indices + means
}

func main() {
	reducers := map[string]collcomm.Allreducer{
		"Naive":  collcomm.NaiveAllreducer{},
		"Tree":   collcomm.TreeAllreducer{},
		"Stream": collcomm.StreamAllreducer{},
	}
	columns := []string{"Naive", "Tree", "Stream"}
	setups := []Setup{
		{Nodes: 2, Latency: 0.1, Rate: 1e6},
		{Nodes: 16, Latency: 1e-3, Rate: 1e6},
		{Nodes: 32, Latency: 0.1, Rate: 1e9},
		{Nodes: 32, Latency: 1e-4, Rate: 1e9},
	}
	sizes := []int{10000, 1000000, 10000000}

	header := append([]string{"Nodes", "Latency", "NIC rate", "Size"}, columns...)
	table := mdtable.New(append(header, "Sparse")...)
	for _, setup := range setups {
		for _, size := range sizes {
			row := []any{
				setup.Nodes,
				strconv.FormatFloat(setup.Latency, 'f', -1, 64),
				strconv.FormatFloat(setup.Rate, 'E', -1, 64),
				size,
			}
			for _, name := range columns {
				row = append(row, setup.DenseTime(reducers[name], size))
			}
			table.Add(append(row, setup.SparseTime(size))...)
		}
	}
	if err := table.Write(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// FakeReduce is a ReduceFn that takes no actual CPU time.
func FakeReduce(h *simulator.Handle, vecs ...[]float64) ([]float64, error) {
	h.Sleep(collcomm.FlopTime * float64(len(vecs)*len(vecs[0])))
	return make([]float64, len(vecs[0])), nil
}
