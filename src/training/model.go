// Package training holds the pluggable numeric collaborators of a node: the
// model, dataset, optimizer, and trainer. The protocol layer only ever sees
// flat parameter vectors; everything here is replaceable through the
// registry without touching the node or the sharing protocol. The shipped
// implementations are a small synthetic least-squares problem, enough to run
// the system end to end.
package training

import (
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Model is a flat parameter vector with optional per-parameter exchange
// counters.
type Model struct {
	params []float64

	// sharedCounter counts, per parameter, how many times it was exchanged
	// with neighbors. Nil when tracking is disabled.
	sharedCounter []int64
}

// NewModel returns a zero-initialised model of the given dimension.
func NewModel(dim int, trackShared bool) *Model {
	m := &Model{
		params: make([]float64, dim),
	}
	if trackShared {
		m.sharedCounter = make([]int64, dim)
	}
	return m
}

// Dim returns the number of parameters.
func (m *Model) Dim() int {
	return len(m.params)
}

// Weights returns a copy of the parameter vector.
func (m *Model) Weights() []float64 {
	w := make([]float64, len(m.params))
	copy(w, m.params)
	return w
}

// SetWeights replaces the parameter vector.
func (m *Model) SetWeights(w []float64) error {
	if len(w) != len(m.params) {
		return errors.Errorf("weight vector has dimension %d, model has %d", len(w), len(m.params))
	}
	copy(m.params, w)
	return nil
}

// Params exposes the underlying vector for in-place updates by optimizers.
func (m *Model) Params() []float64 {
	return m.params
}

// RecordShared increments every parameter's exchange counter by one.
func (m *Model) RecordShared() {
	for i := range m.sharedCounter {
		atomic.AddInt64(&m.sharedCounter[i], 1)
	}
}

// SharedParametersCounter returns the per-parameter exchange counts, or nil
// when tracking is disabled.
func (m *Model) SharedParametersCounter() []int64 {
	if m.sharedCounter == nil {
		return nil
	}
	out := make([]int64, len(m.sharedCounter))
	for i := range m.sharedCounter {
		out[i] = atomic.LoadInt64(&m.sharedCounter[i])
	}
	return out
}

// Norm returns the L2 norm of the parameter vector.
func (m *Model) Norm() float64 {
	var s float64
	for _, p := range m.params {
		s += p * p
	}
	return math.Sqrt(s)
}
