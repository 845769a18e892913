package node

import (
	"io/ioutil"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meshlearn/meshlearn/src/comm"
	"github.com/meshlearn/meshlearn/src/common"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/meshlearn/meshlearn/src/training"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func testConfig(t *testing.T, rank, basePort int, dir string) *Config {
	conf := DefaultConfig()
	conf.Rank = rank
	conf.BasePort = basePort
	conf.LogDir = dir
	conf.WeightsDir = dir
	conf.Logger = common.NewTestEntry(t, logrus.DebugLevel)
	return conf
}

func testDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "node_test")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

// runNodes builds one node per rank and runs them all to completion.
func runNodes(t *testing.T, confs []*Config, m mapping.Mapping, g *graph.Graph) []*Node {
	nodes := make([]*Node, len(confs))
	for i, conf := range confs {
		n, err := NewNode(conf, m, g)
		if err != nil {
			t.Fatal(err)
		}
		nodes[i] = n
	}

	errCh := make(chan error, len(nodes))
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			errCh <- n.Run()
		}(n)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatal("nodes did not terminate in time")
	}

	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatal(err)
		}
	}

	for _, n := range nodes {
		if s := n.getState(); s != Terminated {
			t.Fatalf("node %d finished in state %v", n.UID(), s)
		}
	}

	return nodes
}

func TestRingRoundLoop(t *testing.T) {
	nProcs := 4
	dir := testDir(t)
	defer os.RemoveAll(dir)

	m := mapping.NewLinear(1, nProcs)
	g := graph.NewRing(nProcs)

	confs := make([]*Config, nProcs)
	for rank := 0; rank < nProcs; rank++ {
		conf := testConfig(t, rank, 23000, dir)
		conf.Iterations = 3
		conf.TestAfter = 1
		conf.CentralizedTestEval = false
		confs[rank] = conf
	}

	runNodes(t, confs, m, g)

	for rank := 0; rank < nProcs; rank++ {
		res, err := LoadResults(dir, rank)
		if err != nil {
			t.Fatal(err)
		}

		if len(res.TotalBytes) != 3 {
			t.Fatalf("rank %d: expected 3 total_bytes entries, got %d", rank, len(res.TotalBytes))
		}

		var prev uint64
		for it := 1; it <= 3; it++ {
			tb, ok := res.TotalBytes[it]
			if !ok {
				t.Fatalf("rank %d: no total_bytes for iteration %d", rank, it)
			}
			if tb <= prev {
				t.Fatalf("rank %d: total_bytes not increasing at iteration %d: %d <= %d",
					rank, it, tb, prev)
			}
			prev = tb

			if res.TotalMeta[it]+res.TotalDataPerN[it] != tb {
				t.Fatalf("rank %d: meta %d + data %d != bytes %d at iteration %d",
					rank, res.TotalMeta[it], res.TotalDataPerN[it], tb, it)
			}

			if _, ok := res.TestAcc[it]; !ok {
				t.Fatalf("rank %d: no test_acc for iteration %d", rank, it)
			}
		}
	}
}

func TestCentralizedEvaluation(t *testing.T) {
	nProcs := 3
	dir := testDir(t)
	defer os.RemoveAll(dir)

	m := mapping.NewLinear(1, nProcs)
	g := graph.NewFullyConnected(nProcs)

	confs := make([]*Config, nProcs)
	for rank := 0; rank < nProcs; rank++ {
		conf := testConfig(t, rank, 23100, dir)
		conf.Iterations = 3
		conf.TestAfter = 2
		confs[rank] = conf
	}

	nodes := runNodes(t, confs, m, g)

	// one evaluation round fires, at iteration 2; UID 0 collects one weight
	// vector from each of the other two nodes and releases them with one
	// ack each
	for _, n := range nodes {
		sent := n.EvalChannel().TotalMessages()
		if n.UID() == 0 {
			if sent != 2 {
				t.Fatalf("uid 0: expected 2 acks on the star overlay, got %d", sent)
			}
		} else if sent != 1 {
			t.Fatalf("uid %d: expected 1 weight message on the star overlay, got %d",
				n.UID(), sent)
		}
	}

	res0, err := LoadResults(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res0.TestAcc[2]; !ok {
		t.Fatal("uid 0: no test_acc for iteration 2")
	}
	if len(res0.TestAcc) != 1 {
		t.Fatalf("uid 0: expected exactly 1 test_acc entry, got %d", len(res0.TestAcc))
	}

	// the other ranks never evaluate locally in centralized mode
	for rank := 1; rank < nProcs; rank++ {
		res, err := LoadResults(dir, rank)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.TestAcc) != 0 {
			t.Fatalf("rank %d: unexpected test_acc entries in centralized mode", rank)
		}
	}
}

// scriptedChannel replays canned messages and records sends, for driving
// handshake edge cases without sockets.
type scriptedChannel struct {
	uid  int
	msgs []comm.Message
	sent []comm.Message
}

func (c *scriptedChannel) ConnectNeighbors([]int) error { return nil }

func (c *scriptedChannel) Send(uid int, payload []byte) error {
	c.sent = append(c.sent, comm.Message{Sender: uid, Payload: payload})
	return nil
}

func (c *scriptedChannel) Receive() (int, []byte, error) {
	if len(c.msgs) == 0 {
		return 0, nil, comm.ErrChannelClosed
	}
	m := c.msgs[0]
	c.msgs = c.msgs[1:]
	return m.Sender, m.Payload, nil
}

func (c *scriptedChannel) DisconnectNeighbors() error { return nil }
func (c *scriptedChannel) UID() int                   { return c.uid }
func (c *scriptedChannel) TotalBytes() uint64         { return 0 }
func (c *scriptedChannel) TotalMessages() uint64      { return uint64(len(c.sent)) }
func (c *scriptedChannel) TotalMeta() uint64          { return 0 }
func (c *scriptedChannel) TotalData() uint64          { return 0 }

func testHelper(t *testing.T, ch comm.Channel, nProcs int) *TrainTestHelper {
	m := mapping.NewLinear(1, nProcs)

	ds, err := training.NewSynthetic(training.DatasetConfig{
		Mapping: m,
		Seed:    DefaultSeed,
		Dim:     2,
		Samples: 8,
	})
	if err != nil {
		t.Fatal(err)
	}

	model := training.NewModel(2, false)

	return NewTrainTestHelper(ch, graph.NewStar(nProcs), model, ds, false,
		common.NewTestEntry(t, logrus.ErrorLevel))
}

func TestHelperRejectsUnknownSender(t *testing.T) {
	ch := &scriptedChannel{
		msgs: []comm.Message{{Sender: 7}},
	}

	helper := testHelper(t, ch, 3)

	_, _, _, err := helper.Run(1)
	if errors.Cause(err) != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for out-of-range sender, got %v", err)
	}
}

func TestHelperRejectsDuplicateSender(t *testing.T) {
	payload, err := encodeWeights([]float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	ch := &scriptedChannel{
		msgs: []comm.Message{
			{Sender: 1, Payload: payload},
			{Sender: 1, Payload: payload},
		},
	}

	helper := testHelper(t, ch, 3)

	_, _, _, err = helper.Run(1)
	if errors.Cause(err) != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for duplicate sender, got %v", err)
	}
}

func TestSubmitWeightsAckValidation(t *testing.T) {
	model := training.NewModel(2, false)

	// ack from the wrong uid
	ch := &scriptedChannel{
		msgs: []comm.Message{{Sender: 1, Payload: finishedAck}},
	}
	err := submitWeights(ch, model, 1)
	if errors.Cause(err) != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for ack from uid 1, got %v", err)
	}

	// ack with the wrong payload
	ch = &scriptedChannel{
		msgs: []comm.Message{{Sender: 0, Payload: []byte("almost")}},
	}
	err = submitWeights(ch, model, 1)
	if errors.Cause(err) != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for bad ack payload, got %v", err)
	}

	// the real ack passes
	ch = &scriptedChannel{
		msgs: []comm.Message{{Sender: 0, Payload: finishedAck}},
	}
	if err := submitWeights(ch, model, 1); err != nil {
		t.Fatal(err)
	}
	if len(ch.sent) != 1 || ch.sent[0].Sender != 0 {
		t.Fatalf("expected exactly one weight message to uid 0, got %v", ch.sent)
	}
}

func TestConstructionFailureReleasesPorts(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	nProcs := 2
	m := mapping.NewLinear(1, nProcs)
	g := graph.NewRing(nProcs)

	conf := testConfig(t, 0, 23400, dir)
	conf.Dataset = "no-such-dataset"

	if _, err := NewNode(conf, m, g); err == nil {
		t.Fatal("expected construction to fail for an unregistered dataset")
	}

	// both listeners must be released: main overlay at base+uid, star
	// overlay at base+NProcs+uid
	for _, port := range []string{"127.0.0.1:23400", "127.0.0.1:23402"} {
		l, err := net.Listen("tcp", port)
		if err != nil {
			t.Fatalf("port %s still bound after failed construction: %v", port, err)
		}
		l.Close()
	}
}

func TestConfigurationConflict(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	m := mapping.NewLinear(1, 2)
	g := graph.NewRing(2)

	conf := testConfig(t, 0, 23200, dir)
	conf.CentralizedTestEval = false
	conf.CentralizedTrainEval = true

	_, err := NewNode(conf, m, g)
	if errors.Cause(err) != ErrConfigurationConflict {
		t.Fatalf("expected ErrConfigurationConflict, got %v", err)
	}
}
