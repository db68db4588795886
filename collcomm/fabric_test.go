package collcomm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/sparsegrad/simulator"
)

func TestAllgather(t *testing.T) {
	for _, numNodes := range []int{1, 3, 8} {
		for _, randomized := range []bool{false, true} {
			t.Run(fmt.Sprintf("Nodes=%d,Random=%v", numNodes, randomized), func(t *testing.T) {
				loop := simulator.NewEventLoop()
				nodes := testNodes(numNodes)
				results := make([][][]int64, numNodes)
				SpawnComms(loop, testNetwork(nodes, randomized), nodes, func(c *Comms) {
					// Vectors of different lengths per rank.
					vec := make([]int64, c.Index()+1)
					for i := range vec {
						vec[i] = int64(c.Index()*100 + i)
					}
					results[c.Index()] = Allgather(c, vec)
				})
				require.NoError(t, loop.Run())

				for rank, res := range results {
					require.Len(t, res, numNodes, "rank %d", rank)
					for src, vec := range res {
						require.Len(t, vec, src+1)
						for i, x := range vec {
							assert.Equal(t, int64(src*100+i), x)
						}
					}
				}
			})
		}
	}
}

func TestConcat(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Concat([][]float64{{1}, {}, {2, 3}}))
	assert.Empty(t, Concat[int64](nil))
}

func TestFabricOverlappingOps(t *testing.T) {
	const numNodes = 4
	const steps = 3

	loop := simulator.NewEventLoop()
	nodes := testNodes(numNodes)
	fabric := NewFabric(loop, testNetwork(nodes, false), nodes, nil)

	sums := make([][]float64, numNodes)
	gathered := make([][]int64, numNodes)
	means := make([][]float64, numNodes)
	err := fabric.Run(func(c *Communicator) {
		for step := 0; step < steps; step++ {
			sum := []float64{float64(c.Rank()), 1}
			var idx []int64
			var vals []float64

			// Issue everything before waiting on anything,
			// then wait in a different order than issued.
			h1 := c.IssueReduce("grad", sum, OpSum)
			h2 := c.IssueGatherInts("grad.idx", []int64{int64(c.Rank()), int64(step)}, &idx)
			h3 := c.IssueGatherFloats("grad.val", []float64{float64(c.Rank()) / 2}, &vals)
			for _, h := range []Handle{h3, h1, h2} {
				if err := c.Wait(h); err != nil {
					t.Error(err)
				}
			}
			// Waiting again must not block.
			assert.NoError(t, c.Wait(h1))
			sums[c.Rank()] = sum
			gathered[c.Rank()] = idx
			means[c.Rank()] = vals
		}
	})
	require.NoError(t, err)

	for rank := 0; rank < numNodes; rank++ {
		assert.Equal(t, []float64{0 + 1 + 2 + 3, numNodes}, sums[rank])
		assert.Equal(t, []int64{0, steps - 1, 1, steps - 1, 2, steps - 1, 3, steps - 1}, gathered[rank])
		assert.Equal(t, []float64{0, 0.5, 1, 1.5}, means[rank])
	}
	assert.Empty(t, fabric.ops, "finished operations should release their ports")
}

func TestFabricAverage(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := testNodes(3)
	fabric := NewFabric(loop, simulator.RandomNetwork{}, nodes, NaiveAllreducer{})
	results := make([][]float64, 3)
	require.NoError(t, fabric.Run(func(c *Communicator) {
		buf := []float64{float64(c.Rank()) * 3}
		assert.NoError(t, c.Wait(c.IssueReduce("x", buf, OpAverage)))
		results[c.Rank()] = buf
	}))
	for _, res := range results {
		assert.InDelta(t, 3.0, res[0], 1e-12)
	}
}

func TestFabricReduceError(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := testNodes(2)
	fabric := NewFabric(loop, simulator.RandomNetwork{}, nodes, nil)
	errs := make([]error, 2)
	require.NoError(t, fabric.Run(func(c *Communicator) {
		buf := make([]float64, 2+c.Rank())
		h := c.IssueReduce("bad", buf, OpSum)
		errs[c.Rank()] = c.Wait(h)
		assert.Equal(t, errs[c.Rank()], c.Wait(h))
	}))
	for _, err := range errs {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad#0")
	}
}

func TestFabricForeignHandle(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := testNodes(1)
	fabric := NewFabric(loop, simulator.RandomNetwork{}, nodes, nil)
	require.NoError(t, fabric.Run(func(c *Communicator) {
		assert.Error(t, c.Wait(Solo{}.IssueReduce("x", nil, OpSum)))
	}))
}

func TestSolo(t *testing.T) {
	var c Collective = Solo{}
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, c.Rank())

	buf := []float64{1, 2}
	require.NoError(t, c.Wait(c.IssueReduce("a", buf, OpAverage)))
	assert.Equal(t, []float64{1, 2}, buf)

	var idx []int64
	h := c.IssueGatherInts("b", []int64{4, 5}, &idx)
	assert.Equal(t, "b", h.Name())
	require.NoError(t, c.Wait(h))
	assert.Equal(t, []int64{4, 5}, idx)
}
