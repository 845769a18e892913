package graph

// NewStar returns the star topology over n vertices: UID 0 is adjacent to
// every other UID, and every other UID is adjacent only to UID 0. It is used
// exclusively as the evaluation overlay, on a distinct address space from
// the main graph.
func NewStar(n int) *Graph {
	g := New(n)
	for i := 1; i < n; i++ {
		g.AddEdge(0, i)
	}
	return g
}

// NewRing returns the cycle topology over n vertices.
func NewRing(n int) *Graph {
	g := New(n)
	if n < 2 {
		return g
	}
	for i := 0; i < n; i++ {
		g.AddEdge(i, (i+1)%n)
	}
	return g
}

// NewFullyConnected returns the complete graph over n vertices.
func NewFullyConnected(n int) *Graph {
	g := New(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g.AddEdge(i, j)
		}
	}
	return g
}
