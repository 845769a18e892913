package node

import (
	"bytes"

	"github.com/meshlearn/meshlearn/src/comm"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/training"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

// ErrProtocolViolation is returned when the evaluation handshake sees a
// message it cannot have been sent under the protocol: a weight vector from
// an unexpected sender, or an acknowledgment from anyone but UID 0. It is
// fatal to the offending node.
var ErrProtocolViolation = errors.New("evaluation protocol violation")

// finishedAck is the acknowledgment UID 0 returns to every sender once an
// evaluation round is complete.
var finishedAck = []byte("finished")

// TrainTestHelper serializes evaluation through UID 0. On every scheduled
// evaluation round it collects one weight vector from each of the other
// N-1 nodes over the star overlay, evaluates the aggregate, and releases
// the senders with one acknowledgment each.
type TrainTestHelper struct {
	channel   comm.Channel
	star      *graph.Graph
	model     *training.Model
	dataset   training.Dataset
	evalTrain bool
	logger    *logrus.Entry
}

// NewTrainTestHelper builds the helper for UID 0. dataset is the evaluation
// dataset: the node's own shard for test evaluation, or the whole dataset
// when train evaluation is centralized too.
func NewTrainTestHelper(
	ch comm.Channel,
	star *graph.Graph,
	model *training.Model,
	dataset training.Dataset,
	evalTrain bool,
	logger *logrus.Entry,
) *TrainTestHelper {
	return &TrainTestHelper{
		channel:   ch,
		star:      star,
		model:     model,
		dataset:   dataset,
		evalTrain: evalTrain,
		logger:    logger,
	}
}

// Run executes one centralized evaluation round. It returns test accuracy,
// test loss, and — when train evaluation is centralized — the train loss.
// With a single-node star there is nothing to collect and the evaluation is
// purely local; the star channel is never touched, so a lone node cannot
// deadlock on itself.
func (h *TrainTestHelper) Run(iteration int) (float64, float64, *float64, error) {
	expected := h.star.NProcs() - 1

	weights := map[int][]float64{
		0: h.model.Weights(),
	}

	for i := 0; i < expected; i++ {
		sender, data, err := h.channel.Receive()
		if err != nil {
			return 0, 0, nil, err
		}

		if sender <= 0 || sender >= h.star.NProcs() {
			return 0, 0, nil, errors.Wrapf(ErrProtocolViolation, "weights from uid %d", sender)
		}
		if _, dup := weights[sender]; dup {
			return 0, 0, nil, errors.Wrapf(ErrProtocolViolation, "second weight vector from uid %d", sender)
		}

		w, err := decodeWeights(data)
		if err != nil {
			return 0, 0, nil, err
		}
		weights[sender] = w
	}

	scratch := training.NewModel(h.model.Dim(), false)
	if err := scratch.SetWeights(averageWeights(weights)); err != nil {
		return 0, 0, nil, err
	}

	testAcc, testLoss := h.dataset.Test(scratch)

	var trainLoss *float64
	if h.evalTrain {
		v := training.MeanSquaredLoss(scratch, h.dataset)
		trainLoss = &v
	}

	h.logger.WithFields(logrus.Fields{
		"iteration": iteration,
		"collected": expected,
		"test_acc":  testAcc,
		"test_loss": testLoss,
	}).Info("Centralized evaluation complete")

	for uid := range weights {
		if uid == 0 {
			continue
		}
		if err := h.channel.Send(uid, finishedAck); err != nil {
			return 0, 0, nil, err
		}
	}

	return testAcc, testLoss, trainLoss, nil
}

// submitWeights is the sender side of the centralized-evaluation handshake:
// it ships the model's weights to UID 0 over the star channel and blocks
// until the finished acknowledgment arrives. An ack from anyone but UID 0,
// or with any other payload, is an ErrProtocolViolation.
func submitWeights(ch comm.Channel, model *training.Model, iteration int) error {
	payload, err := encodeWeights(model.Weights())
	if err != nil {
		return err
	}
	if err := ch.Send(0, payload); err != nil {
		return errors.Wrapf(err, "sending weights for evaluation round %d", iteration)
	}

	sender, data, err := ch.Receive()
	if err != nil {
		return errors.Wrapf(err, "awaiting evaluation ack for round %d", iteration)
	}
	if sender != 0 || !bytes.Equal(data, finishedAck) {
		return errors.Wrapf(ErrProtocolViolation, "ack from uid %d with payload %q", sender, data)
	}

	return nil
}

func averageWeights(weights map[int][]float64) []float64 {
	var out []float64
	for _, w := range weights {
		if out == nil {
			out = make([]float64, len(w))
		}
		for i := range w {
			out[i] += w[i]
		}
	}
	for i := range out {
		out[i] /= float64(len(weights))
	}
	return out
}

func encodeWeights(w []float64) ([]byte, error) {
	var mh codec.MsgpackHandle
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &mh)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWeights(data []byte) ([]float64, error) {
	var mh codec.MsgpackHandle
	var w []float64
	dec := codec.NewDecoder(bytes.NewReader(data), &mh)
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	return w, nil
}
