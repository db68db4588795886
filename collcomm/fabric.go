package collcomm

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/sparsegrad/simulator"
	"gonum.org/v1/gonum/floats"
)

// A Handle is an opaque completion token for a collective
// operation that has been issued but not yet waited on.
type Handle interface {
	// Name is the name the operation was issued with.
	Name() string
}

// A Collective issues non-blocking collective operations
// on behalf of one worker.
//
// Every worker must issue the same operations with the
// same names, in the same relative order per name.
// Results only become visible in the caller's buffers once
// Wait returns.
type Collective interface {
	// Size is the number of workers.
	Size() int

	// Rank is this worker's index in [0, Size()).
	Rank() int

	// IssueReduce reduces buf across workers. After Wait,
	// buf holds the reduced vector.
	IssueReduce(name string, buf []float64, op ReduceOp) Handle

	// IssueGatherInts gathers every worker's buf. After
	// Wait, *out holds the vectors concatenated in rank
	// order.
	IssueGatherInts(name string, buf []int64, out *[]int64) Handle

	// IssueGatherFloats is like IssueGatherInts for float
	// vectors.
	IssueGatherFloats(name string, buf []float64, out *[]float64) Handle

	// Wait blocks until the operation completes.
	// Waiting on a completed handle returns the same
	// result again without blocking.
	Wait(h Handle) error
}

// A Fabric connects a fixed set of simulated nodes and
// hands out one Communicator per node.
type Fabric struct {
	Loop       *simulator.EventLoop
	Network    simulator.Network
	Nodes      []*simulator.Node
	Allreducer Allreducer

	lock sync.Mutex
	ops  map[string]*fabricOp
}

type fabricOp struct {
	ports     []*simulator.Port
	remaining int
}

// NewFabric creates a Fabric over nodes.
//
// If reducer is nil, a TreeAllreducer is used.
func NewFabric(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	reducer Allreducer) *Fabric {
	if reducer == nil {
		reducer = TreeAllreducer{}
	}
	return &Fabric{
		Loop:       loop,
		Network:    network,
		Nodes:      nodes,
		Allreducer: reducer,
		ops:        map[string]*fabricOp{},
	}
}

// Size gets the number of nodes.
func (f *Fabric) Size() int {
	return len(f.Nodes)
}

// Communicator creates the Communicator for a rank.
//
// The handle must belong to the Goroutine that will issue
// and wait on operations.
func (f *Fabric) Communicator(rank int, h *simulator.Handle) *Communicator {
	if rank < 0 || rank >= len(f.Nodes) {
		panic(fmt.Sprintf("rank %d out of range", rank))
	}
	return &Communicator{
		fabric: f,
		rank:   rank,
		handle: h,
		seq:    map[string]int{},
	}
}

// Run starts fn for every rank in its own Goroutine and
// runs the event loop until all of them return.
func (f *Fabric) Run(fn func(c *Communicator)) error {
	for i := range f.Nodes {
		rank := i
		f.Loop.Go(func(h *simulator.Handle) {
			fn(f.Communicator(rank, h))
		})
	}
	return f.Loop.Run()
}

func (f *Fabric) acquire(key string) []*simulator.Port {
	f.lock.Lock()
	defer f.lock.Unlock()
	op, ok := f.ops[key]
	if !ok {
		op = &fabricOp{
			ports:     make([]*simulator.Port, len(f.Nodes)),
			remaining: len(f.Nodes),
		}
		for i, node := range f.Nodes {
			op.ports[i] = node.Port(f.Loop)
		}
		f.ops[key] = op
	}
	return op.ports
}

func (f *Fabric) release(key string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	op := f.ops[key]
	op.remaining--
	if op.remaining == 0 {
		delete(f.ops, key)
	}
}

// A Communicator is one worker's Collective on a Fabric.
type Communicator struct {
	fabric *Fabric
	rank   int
	handle *simulator.Handle
	seq    map[string]int
}

// Size gets the number of workers.
func (c *Communicator) Size() int {
	return c.fabric.Size()
}

// Rank gets this worker's rank.
func (c *Communicator) Rank() int {
	return c.rank
}

// Handle gets the event loop handle of the worker.
func (c *Communicator) Handle() *simulator.Handle {
	return c.handle
}

// IssueReduce starts an allreduce.
func (c *Communicator) IssueReduce(name string, buf []float64, op ReduceOp) Handle {
	reducer := c.fabric.Allreducer
	data := append([]float64{}, buf...)
	return c.issue(name, func(comms *Comms) (any, error) {
		return reducer.Allreduce(comms, data, Sum)
	}, func(result any) {
		// Peers may share the reduced slice, so it is only
		// scaled once copied out.
		copy(buf, result.([]float64))
		if op == OpAverage {
			floats.Scale(1/float64(c.Size()), buf)
		}
	})
}

// IssueGatherInts starts an allgather of int vectors.
func (c *Communicator) IssueGatherInts(name string, buf []int64, out *[]int64) Handle {
	data := append([]int64{}, buf...)
	return c.issue(name, func(comms *Comms) (any, error) {
		return Concat(Allgather(comms, data)), nil
	}, func(result any) {
		*out = result.([]int64)
	})
}

// IssueGatherFloats starts an allgather of float vectors.
func (c *Communicator) IssueGatherFloats(name string, buf []float64, out *[]float64) Handle {
	data := append([]float64{}, buf...)
	return c.issue(name, func(comms *Comms) (any, error) {
		return Concat(Allgather(comms, data)), nil
	}, func(result any) {
		*out = result.([]float64)
	})
}

// Wait blocks the worker until the operation completes and
// installs its result.
func (c *Communicator) Wait(h Handle) error {
	op, ok := h.(*fabricHandle)
	if !ok || op.owner != c {
		return errors.Errorf("wait on foreign handle %q", h.Name())
	}
	if !op.finished {
		res := c.handle.Poll(op.done).Message.(fabricResult)
		op.finished = true
		op.err = res.err
		if res.err == nil {
			op.install(res.value)
		}
	}
	return op.err
}

func (c *Communicator) issue(name string, run func(comms *Comms) (any, error),
	install func(result any)) Handle {
	key := fmt.Sprintf("%s#%d", name, c.seq[name])
	c.seq[name]++

	ports := c.fabric.acquire(key)
	op := &fabricHandle{
		name:    name,
		owner:   c,
		done:    c.handle.Stream(),
		install: install,
	}
	rank := c.rank
	c.fabric.Loop.Go(func(h *simulator.Handle) {
		comms := &Comms{
			Handle:  h,
			Port:    ports[rank],
			Ports:   ports,
			Network: c.fabric.Network,
		}
		value, err := run(comms)
		c.fabric.release(key)
		if err != nil {
			err = essentials.AddCtx(key, err)
		}
		h.Schedule(op.done, fabricResult{value: value, err: err}, 0)
	})
	return op
}

type fabricHandle struct {
	name     string
	owner    *Communicator
	done     *simulator.EventStream
	install  func(result any)
	finished bool
	err      error
}

func (f *fabricHandle) Name() string {
	return f.name
}

type fabricResult struct {
	value any
	err   error
}
