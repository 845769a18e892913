// Package graph defines the static communication topologies over which nodes
// exchange parameter vectors: the main application graph and the star overlay
// used for centralized evaluation. Graphs are built once, before any process
// is spawned, and are never mutated afterwards; every process must end up
// with an identical view without a distributed negotiation step.
package graph

import (
	"sort"
)

// Graph is an adjacency structure over UIDs 0..n-1.
type Graph struct {
	n   int
	adj []map[int]struct{}
}

// New returns an empty graph over n vertices.
func New(n int) *Graph {
	adj := make([]map[int]struct{}, n)
	for i := range adj {
		adj[i] = map[int]struct{}{}
	}
	return &Graph{n: n, adj: adj}
}

// NProcs returns the number of vertices.
func (g *Graph) NProcs() int {
	return g.n
}

// AddEdge adds an undirected edge between uids i and j.
func (g *Graph) AddEdge(i, j int) {
	g.adj[i][j] = struct{}{}
	g.adj[j][i] = struct{}{}
}

// Neighbors returns the sorted neighbor set of uid.
func (g *Graph) Neighbors(uid int) []int {
	res := make([]int, 0, len(g.adj[uid]))
	for n := range g.adj[uid] {
		res = append(res, n)
	}
	sort.Ints(res)
	return res
}

// Degree returns the number of neighbors of uid.
func (g *Graph) Degree(uid int) int {
	return len(g.adj[uid])
}

// HasEdge reports whether uid j is a neighbor of uid i.
func (g *Graph) HasEdge(i, j int) bool {
	_, ok := g.adj[i][j]
	return ok
}
