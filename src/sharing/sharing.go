// Package sharing implements the once-per-round exchange of the current
// parameter vector with all main-graph neighbors. A step sends the local
// vector to every neighbor, collects exactly one vector from each, and
// combines the lot through a pluggable aggregation policy.
package sharing

import (
	"bytes"
	"math"

	"github.com/meshlearn/meshlearn/src/comm"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/training"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// ErrRoundMismatch is returned when a neighbor delivers a vector tagged with
// an earlier round than the one in progress, or a second vector for the
// current round. Exchanges are strictly once per round, so either case means
// the protocol is broken. It is fatal to the node.
var ErrRoundMismatch = errors.New("vector from the wrong round")

// wireMessage is the per-round payload exchanged between neighbors.
type wireMessage struct {
	Iteration int
	Params    []float64
}

// Sharing drives the exchange for one node.
type Sharing struct {
	uid       int
	channel   comm.Channel
	neighbors []int
	model     *training.Model
	agg       Aggregator
	logger    *logrus.Entry

	// vectors that arrived ahead of their round, queued per sender
	pending map[int][]wireMessage

	mean float64
	std  float64
}

// NewSharing builds the sharing protocol for the process with the given rank
// and machine ID, bound to the given channel and graph.
func NewSharing(
	rank int,
	machineID int,
	m mapping.Mapping,
	ch comm.Channel,
	g *graph.Graph,
	model *training.Model,
	agg Aggregator,
	logger *logrus.Entry,
) (*Sharing, error) {
	uid, err := m.GetUID(rank, machineID)
	if err != nil {
		return nil, err
	}

	if agg == nil {
		agg = &Average{}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Sharing{
		uid:       uid,
		channel:   ch,
		neighbors: g.Neighbors(uid),
		model:     model,
		agg:       agg,
		logger:    logger.WithField("uid", uid),
		pending:   map[int][]wireMessage{},
	}, nil
}

// Step performs one full exchange: send to every neighbor, receive exactly
// one vector from each, aggregate, and install the result in the model. A
// neighbor that races ahead may deliver its next-round vector early; such
// vectors are queued and consumed by the following step, preserving the
// one-message-per-neighbor-per-round invariant.
func (s *Sharing) Step(iteration int) error {
	local := s.model.Weights()

	payload, err := encodeWire(wireMessage{Iteration: iteration, Params: local})
	if err != nil {
		return err
	}

	for _, n := range s.neighbors {
		if err := s.channel.Send(n, payload); err != nil {
			return errors.Wrapf(err, "sharing step %d", iteration)
		}
	}

	received := make(map[int][]float64, len(s.neighbors))

	for _, n := range s.neighbors {
		if q := s.pending[n]; len(q) > 0 {
			msg := q[0]
			if msg.Iteration != iteration {
				return errors.Wrapf(ErrRoundMismatch,
					"queued round-%d vector from uid %d during round %d",
					msg.Iteration, n, iteration)
			}
			received[n] = msg.Params
			s.pending[n] = q[1:]
		}
	}

	for len(received) < len(s.neighbors) {
		sender, data, err := s.channel.Receive()
		if err != nil {
			return errors.Wrapf(err, "sharing step %d", iteration)
		}

		var msg wireMessage
		if err := decodeWire(data, &msg); err != nil {
			return errors.Wrapf(err, "decoding vector from uid %d", sender)
		}

		switch {
		case msg.Iteration > iteration:
			// the sender raced ahead; hold its vector for the round it
			// belongs to
			s.pending[sender] = append(s.pending[sender], msg)
		case msg.Iteration < iteration:
			return errors.Wrapf(ErrRoundMismatch,
				"round-%d vector from uid %d during round %d",
				msg.Iteration, sender, iteration)
		default:
			if _, dup := received[sender]; dup {
				return errors.Wrapf(ErrRoundMismatch,
					"second round-%d vector from uid %d", iteration, sender)
			}
			received[sender] = msg.Params
		}
	}

	combined := s.agg.Combine(local, received)
	if err := s.model.SetWeights(combined); err != nil {
		return err
	}
	s.model.RecordShared()

	s.mean, s.std = vectorStats(combined)

	s.logger.WithFields(logrus.Fields{
		"iteration": iteration,
		"neighbors": len(s.neighbors),
		"mean":      s.mean,
		"std":       s.std,
	}).Debug("Sharing step complete")

	return nil
}

// Mean returns the mean of the last shared vector.
func (s *Sharing) Mean() float64 {
	return s.mean
}

// Std returns the standard deviation of the last shared vector.
func (s *Sharing) Std() float64 {
	return s.std
}

func vectorStats(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}

	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))

	var sq float64
	for _, x := range v {
		d := x - mean
		sq += d * d
	}

	return mean, math.Sqrt(sq / float64(len(v)))
}

func encodeWire(msg wireMessage) ([]byte, error) {
	var mh codec.MsgpackHandle
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWire(data []byte, msg *wireMessage) error {
	var mh codec.MsgpackHandle
	dec := codec.NewDecoder(bytes.NewReader(data), &mh)
	return dec.Decode(msg)
}
