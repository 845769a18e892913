// Package comm implements the per-node communication channel. A channel owns
// a listening endpoint and one outbound connection per neighbor; it exposes
// connect, send, blocking receive, disconnect, and running traffic counters.
// Each node runs two independent channel instances: one for the main graph
// and one, on a disjoint address space, for the evaluation star overlay.
package comm

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownNeighbor is returned by Send when the target uid was never
	// connected.
	ErrUnknownNeighbor = errors.New("unknown neighbor")

	// ErrChannelClosed is returned when operating on a disconnected channel.
	ErrChannelClosed = errors.New("channel closed")
)

// State captures the lifecycle of a channel: Created, Connected, or
// Disconnected. Disconnected is terminal.
type State uint32

const (
	// Created is the initial state, before ConnectNeighbors.
	Created State = iota
	// Connected means every declared neighbor link is established.
	Connected
	// Disconnected is terminal; no further sends or receives.
	Disconnected
)

// String ...
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
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

// Message is a received payload tagged with its sender's uid.
type Message struct {
	Sender  int
	Payload []byte
}

// Channel is the neighbor-to-neighbor messaging surface used by the sharing
// protocol and the evaluation overlay.
type Channel interface {
	// ConnectNeighbors establishes outbound and inbound links for the given
	// neighbor set. It is idempotent per uid, tolerates neighbors connecting
	// in any order, and blocks until every declared link exists.
	ConnectNeighbors(uids []int) error

	// Send serializes payload and delivers it to the named neighbor.
	Send(uid int, payload []byte) error

	// Receive blocks until any connected neighbor delivers a message.
	// Messages from distinct senders arrive first-come-first-served with no
	// ordering guarantee between them.
	Receive() (sender int, payload []byte, err error)

	// DisconnectNeighbors closes all links. It is idempotent; subsequent
	// Send and Receive calls fail with ErrChannelClosed.
	DisconnectNeighbors() error

	// UID returns the channel owner's uid.
	UID() int

	// TotalBytes returns the number of bytes written to the wire so far.
	TotalBytes() uint64

	// TotalMessages returns the number of Send calls completed so far.
	TotalMessages() uint64

	// TotalMeta returns the framing overhead: bytes on the wire that were
	// not application payload.
	TotalMeta() uint64

	// TotalData returns the number of application payload bytes sent.
	TotalData() uint64
}
