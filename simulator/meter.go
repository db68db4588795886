package simulator

import "sync"

// A MeteredNetwork wraps a Network and records how much
// data every Node puts on the wire.
type MeteredNetwork struct {
	Network Network

	lock     sync.Mutex
	bytes    map[*Node]float64
	messages map[*Node]int
}

// NewMeteredNetwork wraps n.
func NewMeteredNetwork(n Network) *MeteredNetwork {
	return &MeteredNetwork{
		Network:  n,
		bytes:    map[*Node]float64{},
		messages: map[*Node]int{},
	}
}

// Send records the messages and forwards them.
func (m *MeteredNetwork) Send(h *Handle, msgs ...*Message) {
	m.lock.Lock()
	for _, msg := range msgs {
		m.bytes[msg.Source.Node] += msg.Size
		m.messages[msg.Source.Node]++
	}
	m.lock.Unlock()
	m.Network.Send(h, msgs...)
}

// SentBytes gets the total size of the messages sent by a
// Node since the last Reset.
func (m *MeteredNetwork) SentBytes(n *Node) float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.bytes[n]
}

// SentMessages gets the number of messages sent by a Node
// since the last Reset.
func (m *MeteredNetwork) SentMessages(n *Node) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.messages[n]
}

// TotalBytes sums SentBytes over every Node.
func (m *MeteredNetwork) TotalBytes() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	var total float64
	for _, b := range m.bytes {
		total += b
	}
	return total
}

// Reset clears all counters.
func (m *MeteredNetwork) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.bytes = map[*Node]float64{}
	m.messages = map[*Node]int{}
}
