package sharing

import (
	"sync"

	"github.com/pkg/errors"
)

// Aggregator combines the local parameter vector with the vectors received
// from neighbors. The sharing step is agnostic to the policy.
type Aggregator interface {
	Combine(local []float64, received map[int][]float64) []float64
}

// Average is uniform averaging over the local vector and all received ones.
type Average struct{}

// Combine implements the Aggregator interface.
func (a *Average) Combine(local []float64, received map[int][]float64) []float64 {
	out := make([]float64, len(local))
	copy(out, local)

	for _, v := range received {
		for i := range out {
			out[i] += v[i]
		}
	}

	n := float64(len(received) + 1)
	for i := range out {
		out[i] /= n
	}

	return out
}

var (
	registryMu sync.Mutex
	registry   = map[string]func() Aggregator{}
)

// Register makes an aggregation policy available under name.
func Register(name string, f func() Aggregator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewAggregator builds the policy registered under name.
func NewAggregator(name string) (Aggregator, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()

	if !ok {
		return nil, errors.Errorf("no aggregator registered under %q", name)
	}
	return f(), nil
}

func init() {
	Register("average", func() Aggregator { return &Average{} })
}
