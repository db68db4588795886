// Package collcomm implements collective communication
// between simulated nodes: reductions, gathers, and a
// non-blocking operation layer on top of them.
package collcomm

import (
	"fmt"

	"github.com/unixpickle/sparsegrad/simulator"
)

// Comms manages a set of connections between a bunch of
// nodes.
// During a collective operation, each node has a local
// Comms object that represents its view of the world.
// A new Comms object should be used for each operation,
// thus automatically handling multiplexing.
type Comms struct {
	// Handle is the Goroutine's handle on the event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node, in rank order.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Bcast sends a payload to every other node.
func (c *Comms) Bcast(payload any) {
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, &simulator.Message{
			Source:  c.Port,
			Dest:    port,
			Payload: payload,
			Size:    PayloadSize(payload),
		})
	}
	c.Network.Send(c.Handle, messages...)
}

// Send schedules a payload to be sent to the destination.
func (c *Comms) Send(dst *simulator.Port, payload any) {
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    dst,
		Payload: payload,
		Size:    PayloadSize(payload),
	})
}

// Recv receives the next payload.
func (c *Comms) Recv() (any, *simulator.Port) {
	res := c.Port.Recv(c.Handle)
	return res.Payload, res.Source
}

// RecvFloats receives the next payload, which must be a
// float vector.
func (c *Comms) RecvFloats() ([]float64, *simulator.Port) {
	payload, source := c.Recv()
	return payload.([]float64), source
}

// Index returns the current node's index in the list of
// nodes.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

// PayloadSize is the number of bytes a payload occupies on
// the wire. Every element of a supported vector type is 8
// bytes.
func PayloadSize(payload any) float64 {
	switch payload := payload.(type) {
	case []float64:
		return float64(len(payload) * 8)
	case []int64:
		return float64(len(payload) * 8)
	case nil:
		return 0
	case reduceFailure:
		return 1
	default:
		panic(fmt.Sprintf("unsupported payload type: %T", payload))
	}
}
