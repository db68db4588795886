package collcomm

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/sparsegrad/simulator"
)

// A StreamAllreducer splits a vector up into smaller
// messages and streams the messages through all the nodes
// at once.
//
// The reduction has two phases: Reduce and Broadcast.
// During Reduce, the fully reduced vector arrives at the
// first node.
// During Broadcast, the reduced vector is streamed from
// the first node to all the other nodes.
//
// The first node's vector determines the chunk layout.
// A node whose vector has a different length, or whose
// ReduceFn fails, passes chunks through unchanged and the
// failure is reported on every node once the broadcast
// completes.
// Empty vectors return immediately, so either every node
// or no node may pass one.
type StreamAllreducer struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of nodes.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Allreduce calls fn on chunks of data at a time and
// returns a vector resulting from the final reduction.
func (s StreamAllreducer) Allreduce(c *Comms, data []float64, fn ReduceFn) ([]float64, error) {
	if len(data) == 0 || len(c.Ports) == 1 {
		return data, nil
	}
	if c.Index() == 0 {
		return s.allreduceRoot(c, data)
	}
	return s.allreduceOther(c, data, fn)
}

func (s StreamAllreducer) allreduceRoot(c *Comms, data []float64) ([]float64, error) {
	total := len(data)
	chunksOut := s.chunkify(c, data)
	reduced := make([]float64, 0, total)
	var failed bool

	// Kick off the reduction cycle.
	(&streamPacket{packetType: streamPacketReduce, payload: chunksOut[0], total: total}).Send(c)
	chunksOut = chunksOut[1:]

	// Push the reduction through the ring.
	waitingReduceAck := true
	for len(reduced) < total {
		packet := recvStreamPacket(c)
		switch packet.packetType {
		case streamPacketReduce:
			failed = failed || packet.failed
			reduced = append(reduced, packet.payload...)
			(&streamPacket{packetType: streamPacketReduceAck}).Send(c)
		case streamPacketReduceAck:
			if !waitingReduceAck {
				panic("unexpected ACK")
			}
			if len(chunksOut) > 0 {
				(&streamPacket{
					packetType: streamPacketReduce,
					payload:    chunksOut[0],
					total:      total,
				}).Send(c)
				chunksOut = chunksOut[1:]
			} else {
				waitingReduceAck = false
			}
		default:
			panic("unexpected packet type")
		}
	}

	if len(chunksOut) > 0 {
		panic("unexpected reduction completion")
	} else if len(reduced) != total {
		panic("excess data")
	}

	// Push the data through the bcast cycle.
	for _, chunk := range s.chunkify(c, reduced) {
		(&streamPacket{packetType: streamPacketBcast, payload: chunk, failed: failed}).Send(c)
		for {
			packet := recvStreamPacket(c)
			if packet.packetType == streamPacketReduceAck {
				if !waitingReduceAck {
					panic("unexpected ACK")
				}
				waitingReduceAck = false
			} else if packet.packetType == streamPacketBcastAck {
				break
			} else {
				panic("unexpected packet type")
			}
		}
	}

	if failed {
		return nil, errRemoteReduce
	}
	return reduced, nil
}

func (s StreamAllreducer) allreduceOther(c *Comms, data []float64, fn ReduceFn) ([]float64, error) {
	var reduced []float64
	var localErr error
	var remoteFailed bool
	total := -1

	isLastNode := c.Index()+1 == len(c.Ports)

	// Reduce our data into the stream.
	var reduceBlocked bool
	var reduceBuf []*streamPacket
	remainingData := data
	for len(reduced) == 0 {
		packet := recvStreamPacket(c)
		switch packet.packetType {
		case streamPacketReduce:
			(&streamPacket{packetType: streamPacketReduceAck}).Send(c)
			if total < 0 {
				total = packet.total
				if total != len(data) {
					localErr = errors.Errorf("mismatching lengths: local vector has %d elements, "+
						"expected %d", len(data), total)
				}
			}
			chunk := packet.payload
			if localErr == nil {
				chunk, localErr = fn(c.Handle, packet.payload, remainingData[:len(packet.payload)])
				remainingData = remainingData[len(packet.payload):]
				if localErr != nil {
					chunk = packet.payload
				}
			}
			outPacket := &streamPacket{
				packetType: streamPacketReduce,
				payload:    chunk,
				total:      packet.total,
				failed:     packet.failed || localErr != nil,
			}
			reduceBuf = append(reduceBuf, outPacket)
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			if len(reduceBuf) > 0 {
				panic("got bcast before reduce finished")
			}
			remoteFailed = remoteFailed || packet.failed
			reduced = append(reduced, packet.payload...)
			(&streamPacket{packetType: streamPacketBcastAck}).Send(c)
			if !isLastNode {
				// Otherwise, the packet will never reach
				// the next node in the ring.
				packet.Send(c)
			}
		default:
			panic("unexpected packet type")
		}
		if !reduceBlocked && len(reduceBuf) > 0 {
			reduceBuf[0].Send(c)
			essentials.OrderedDelete(&reduceBuf, 0)
			reduceBlocked = true
		}
	}

	// Read the broadcasted reduction.
	bcastBlocked := true
	var bcastBuf []*streamPacket
	for len(reduced) < total || len(bcastBuf) > 0 {
		packet := recvStreamPacket(c)
		switch packet.packetType {
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			remoteFailed = remoteFailed || packet.failed
			reduced = append(reduced, packet.payload...)
			(&streamPacket{packetType: streamPacketBcastAck}).Send(c)
			if !isLastNode {
				outPacket := &streamPacket{
					packetType: streamPacketBcast,
					payload:    packet.payload,
					failed:     packet.failed,
				}
				bcastBuf = append(bcastBuf, outPacket)
			}
		case streamPacketBcastAck:
			if !bcastBlocked {
				panic("unexpected ACK")
			}
			bcastBlocked = false
		default:
			panic("unexpected packet type")
		}
		if !bcastBlocked && len(bcastBuf) > 0 {
			bcastBuf[0].Send(c)
			essentials.OrderedDelete(&bcastBuf, 0)
			bcastBlocked = true
		}
	}

	if reduceBlocked {
		panic("missed expected ACK")
	}

	if localErr != nil {
		return nil, localErr
	} else if remoteFailed {
		return nil, errRemoteReduce
	}
	return reduced, nil
}

func (s StreamAllreducer) chunkify(c *Comms, data []float64) [][]float64 {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := len(data) / (len(c.Ports) * granularity)
	if chunkSize < 1 {
		chunkSize = 1
	}
	var res [][]float64
	for i := 0; i < len(data); i += chunkSize {
		if i+chunkSize > len(data) {
			res = append(res, data[i:])
		} else {
			res = append(res, data[i:i+chunkSize])
		}
	}
	return res
}

type streamPacketType int

const (
	streamPacketReduce streamPacketType = iota
	streamPacketReduceAck
	streamPacketBcast
	streamPacketBcastAck
)

type streamPacket struct {
	packetType streamPacketType
	payload    []float64

	// total is the length of the first node's vector.
	total int

	// failed is set once any node failed to reduce.
	failed bool
}

func recvStreamPacket(c *Comms) *streamPacket {
	msg := c.Port.Recv(c.Handle)
	return msg.Payload.(*streamPacket)
}

func (s *streamPacket) Size() float64 {
	return float64(len(s.payload)*8) + 1.0
}

// Send sends the packet to the appropriate host.
// For ACKs, this is the previous host.
// For other messages, this is the next host.
func (s *streamPacket) Send(c *Comms) {
	idx := c.Index()
	var dstIdx int
	if s.packetType == streamPacketReduceAck || s.packetType == streamPacketBcastAck {
		dstIdx = idx - 1
		if dstIdx < 0 {
			dstIdx = len(c.Ports) - 1
		}
	} else {
		dstIdx = (idx + 1) % len(c.Ports)
	}
	c.Network.Send(c.Handle, &simulator.Message{
		Source:  c.Port,
		Dest:    c.Ports[dstIdx],
		Payload: s,
		Size:    s.Size(),
	})
}
