package collcomm

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/sparsegrad/simulator"
)

func TestNaiveAllreducer(t *testing.T) {
	runAllreducerTests(t, NaiveAllreducer{})
}

func TestTreeAllreducer(t *testing.T) {
	runAllreducerTests(t, TreeAllreducer{})
}

func TestStreamAllreducer(t *testing.T) {
	t.Run("Granularity=1", func(t *testing.T) {
		runAllreducerTests(t, StreamAllreducer{})
	})
	t.Run("Granularity=3", func(t *testing.T) {
		runAllreducerTests(t, StreamAllreducer{Granularity: 3})
	})
}

func TestAllreducerMismatch(t *testing.T) {
	reducers := []Allreducer{NaiveAllreducer{}, TreeAllreducer{}, StreamAllreducer{}}
	for _, reducer := range reducers {
		t.Run(fmt.Sprintf("%T", reducer), func(t *testing.T) {
			loop := simulator.NewEventLoop()
			nodes := testNodes(5)
			errs := make([]error, len(nodes))
			SpawnComms(loop, simulator.RandomNetwork{}, nodes, func(c *Comms) {
				vec := make([]float64, 3)
				if c.Index() == 3 {
					vec = make([]float64, 4)
				}
				_, errs[c.Index()] = reducer.Allreduce(c, vec, Sum)
			})
			if err := loop.Run(); err != nil {
				t.Fatal(err)
			}
			for i, err := range errs {
				if err == nil {
					t.Errorf("node %d: expected an error", i)
				}
			}
		})
	}
}

// runAllreducerTests runs a battery of tests on an
// Allreducer.
func runAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1337} {
			for _, randomized := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					loop := simulator.NewEventLoop()
					vectors := make([][]float64, numNodes)
					nodes := testNodes(numNodes)
					sum := make([]float64, size)
					for i := range nodes {
						vectors[i] = make([]float64, size)
						for j := range vectors[i] {
							vectors[i][j] = rand.NormFloat64()
							sum[j] += vectors[i][j]
						}
					}

					results := make([][]float64, numNodes)
					SpawnComms(loop, testNetwork(nodes, randomized), nodes, func(c *Comms) {
						res, err := reducer.Allreduce(c, vectors[c.Index()], Sum)
						if err != nil {
							t.Error(err)
						}
						results[c.Index()] = res
					})

					if err := loop.Run(); err != nil {
						t.Fatal(err)
					}

					verifyReductionResults(t, results, sum)
				})
			}
		}
	}
}

func testNodes(n int) []*simulator.Node {
	nodes := make([]*simulator.Node, n)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	return nodes
}

func testNetwork(nodes []*simulator.Node, randomized bool) simulator.Network {
	if randomized {
		return simulator.RandomNetwork{}
	}
	switcher := simulator.NewGreedyDropSwitcher(len(nodes), 1.0)
	return simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
}

func verifyReductionResults(t *testing.T, results [][]float64, expected []float64) {
	for i, res := range results[1:] {
		if len(res) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i, len(res), len(expected))
			continue
		}
		for j, actual := range res {
			if actual != results[0][j] {
				t.Errorf("result %d is not identical to result 0", i)
				break
			}
		}
	}

	for i, x := range expected {
		if math.Abs(x-results[0][i]) > 1e-5 {
			t.Errorf("sum is incorrect (expected %f but got %f at component %d)",
				x, results[0][i], i)
			break
		}
	}
}
