package collcomm

// A Vector is an element type that Comms can carry.
type Vector interface {
	float64 | int64
}

// Allgather sends every node's vector to every other node
// and returns all of the vectors in rank order.
//
// Vectors may have different lengths on different nodes.
func Allgather[T Vector](c *Comms, data []T) [][]T {
	gathered := make([][]T, len(c.Ports))

	c.Bcast(data)

	for i := 0; i < len(gathered)-1; i++ {
		incoming, source := c.Recv()
		gathered[c.IndexOf(source)] = incoming.([]T)
	}

	gathered[c.Index()] = data

	return gathered
}

// Concat joins gathered vectors into one vector, in order.
func Concat[T Vector](vecs [][]T) []T {
	var total int
	for _, v := range vecs {
		total += len(v)
	}
	res := make([]T, 0, total)
	for _, v := range vecs {
		res = append(res, v...)
	}
	return res
}
