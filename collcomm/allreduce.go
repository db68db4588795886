package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/sparsegrad/simulator"
)

// An Allreducer is an algorithm that applies a ReduceFn to
// vectors that are distributed across nodes, leaving the
// result on every node.
//
// It is not safe to call Allreduce() multiple times in a
// row with the same Comms object.
// A new set of ports must be used every time to avoid
// interference.
type Allreducer interface {
	Allreduce(c *Comms, data []float64, fn ReduceFn) ([]float64, error)
}

// errRemoteReduce is reported by nodes that learn about a
// failed reduction from a peer.
var errRemoteReduce = errors.New("reduction failed on another node")

// reduceFailure is sent in place of a vector once a
// reduction has failed, so that peers stop waiting on it.
type reduceFailure struct{}

// A NaiveAllreducer sends every vector from every node to
// every other node.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the nodes' vectors on
// every node.
func (n NaiveAllreducer) Allreduce(c *Comms, data []float64, fn ReduceFn) ([]float64, error) {
	gatheredVecs := make([][]float64, len(c.Ports))

	c.Bcast(data)

	for i := 0; i < len(gatheredVecs)-1; i++ {
		incoming, source := c.RecvFloats()
		gatheredVecs[c.IndexOf(source)] = incoming
	}

	gatheredVecs[c.Index()] = data

	return fn(c.Handle, gatheredVecs...)
}

// A TreeAllreducer arranges the Ports in a binary tree
// and performs a reduction by going up the tree to a
// root node, and then back down the tree to the leaves.
type TreeAllreducer struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
//
// A failure anywhere in the tree is reported on every
// node.
func (t TreeAllreducer) Allreduce(c *Comms, data []float64, fn ReduceFn) ([]float64, error) {
	parent, children := positionInTree(c)

	var err error
	messages := [][]float64{data}
	for range children {
		msg, _ := c.Recv()
		if vec, ok := msg.([]float64); ok {
			messages = append(messages, vec)
		} else {
			err = errRemoteReduce
		}
	}

	var finalVector []float64
	if err == nil {
		finalVector, err = fn(c.Handle, messages...)
	}
	if parent != nil {
		c.Send(parent, treePayload(finalVector, err))
		msg, _ := c.Recv()
		if vec, ok := msg.([]float64); ok {
			finalVector = vec
		} else if err == nil {
			err = errRemoteReduce
		}
	}

	for _, child := range children {
		c.Send(child, treePayload(finalVector, err))
	}

	if err != nil {
		return nil, err
	}
	return finalVector, nil
}

func treePayload(vec []float64, err error) any {
	if err != nil {
		return reduceFailure{}
	}
	return vec
}

// positionInTree returns the child Ports and parent node
// for a host in the reduction tree.
//
// There may be no children.
// There may be no parent (for the root node).
func positionInTree(c *Comms) (parent *simulator.Port, children []*simulator.Port) {
	idx := c.Index()
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = c.Ports[rowIdx/2+(rowSize/2-1)]
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < len(c.Ports) {
				children = append(children, c.Ports[firstChild+i])
			}
		}
		return
	}
	panic("unreachable")
}
