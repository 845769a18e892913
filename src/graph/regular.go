package graph

import (
	"math/rand"

	"github.com/pkg/errors"
)

// maxPairingAttempts bounds the rejection-sampling loop of NewRegular. The
// pairing model rarely needs more than a handful of attempts for the graph
// sizes this system targets.
const maxPairingAttempts = 1000

// NewRegular returns a random d-regular graph over n vertices built with the
// pairing model, seeded deterministically. Every process constructing the
// graph with the same (n, degree, seed) obtains an identical adjacency
// structure, which is what lets all nodes agree on the topology without
// exchanging a single message.
func NewRegular(n, degree int, seed int64) (*Graph, error) {
	if degree >= n {
		return nil, errors.Errorf("degree %d must be smaller than graph size %d", degree, n)
	}
	if n*degree%2 != 0 {
		return nil, errors.Errorf("n*degree must be even, got %d*%d", n, degree)
	}

	rng := rand.New(rand.NewSource(seed))

	for attempt := 0; attempt < maxPairingAttempts; attempt++ {
		g, ok := tryPairing(n, degree, rng)
		if ok {
			return g, nil
		}
	}

	return nil, errors.Errorf("failed to build a %d-regular graph over %d vertices", degree, n)
}

// tryPairing runs one round of the pairing model: each vertex gets degree
// stubs, the stubs are shuffled, and consecutive pairs become edges. The
// attempt fails on self-loops or duplicate edges.
func tryPairing(n, degree int, rng *rand.Rand) (*Graph, bool) {
	stubs := make([]int, 0, n*degree)
	for v := 0; v < n; v++ {
		for d := 0; d < degree; d++ {
			stubs = append(stubs, v)
		}
	}

	rng.Shuffle(len(stubs), func(i, j int) {
		stubs[i], stubs[j] = stubs[j], stubs[i]
	})

	g := New(n)
	for i := 0; i < len(stubs); i += 2 {
		a, b := stubs[i], stubs[i+1]
		if a == b || g.HasEdge(a, b) {
			return nil, false
		}
		g.AddEdge(a, b)
	}

	return g, true
}
