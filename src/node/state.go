package node

import (
	"sync/atomic"
)

// State captures the phase of a node's round loop.
type State uint32

const (
	// Init is the initial state, before channels are connected.
	Init State = iota
	// Connected means both overlays are up.
	Connected
	// Training is the local-computation phase of a round.
	Training
	// Exchanging is the neighbor-exchange phase of a round.
	Exchanging
	// Evaluating is a periodic local or centralized evaluation.
	Evaluating
	// Finalizing disconnects channels and persists final state.
	Finalizing
	// Terminated is terminal.
	Terminated
)

// String ...
func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Connected:
		return "Connected"
	case Training:
		return "Training"
	case Exchanging:
		return "Exchanging"
	case Evaluating:
		return "Evaluating"
	case Finalizing:
		return "Finalizing"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}
