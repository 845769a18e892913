package comm

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/meshlearn/meshlearn/src/common"
	"github.com/meshlearn/meshlearn/src/graph"
	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// testBasePort is chosen away from the package default so that parallel test
// runs of other packages cannot collide. Each test uses its own slice of the
// range.
func testChannels(t *testing.T, n int, basePort int) []*TCPChannel {
	t.Helper()

	m := mapping.NewLinear(1, n)
	logger := common.NewTestEntry(t, logrus.ErrorLevel)

	resolver, err := NewAddressResolver(m, "", basePort)
	if err != nil {
		t.Fatal(err)
	}

	channels := make([]*TCPChannel, n)
	for rank := 0; rank < n; rank++ {
		ch, err := NewTCPChannel(rank, 0, m, resolver, 0, logger)
		if err != nil {
			t.Fatalf("channel %d: %v", rank, err)
		}
		channels[rank] = ch
		t.Cleanup(func() { ch.DisconnectNeighbors() })
	}

	return channels
}

// connectAll connects every channel to its neighbors in the given graph,
// concurrently, so the test also exercises arbitrary connection order.
func connectAll(t *testing.T, channels []*TCPChannel, g *graph.Graph) {
	t.Helper()

	var wg sync.WaitGroup
	errCh := make(chan error, len(channels))

	for _, ch := range channels {
		wg.Add(1)
		go func(ch *TCPChannel) {
			defer wg.Done()
			if err := ch.ConnectNeighbors(g.Neighbors(ch.UID())); err != nil {
				errCh <- fmt.Errorf("uid %d: %v", ch.UID(), err)
			}
		}(ch)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestSendReceive(t *testing.T) {
	channels := testChannels(t, 2, 21000)
	connectAll(t, channels, graph.NewRing(2))

	payload := []byte("round 1 parameters")
	if err := channels[0].Send(1, payload); err != nil {
		t.Fatal(err)
	}

	sender, got, err := channels[1].Receive()
	if err != nil {
		t.Fatal(err)
	}
	if sender != 0 {
		t.Fatalf("sender: got %d, want 0", sender)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload: got %q, want %q", got, payload)
	}
}

func TestCounters(t *testing.T) {
	channels := testChannels(t, 2, 21010)
	connectAll(t, channels, graph.NewRing(2))

	if channels[0].TotalMessages() != 0 {
		t.Fatalf("fresh channel has %d messages", channels[0].TotalMessages())
	}

	var lastBytes uint64
	for i := 1; i <= 5; i++ {
		if err := channels[0].Send(1, []byte("payload")); err != nil {
			t.Fatal(err)
		}

		if got := channels[0].TotalMessages(); got != uint64(i) {
			t.Fatalf("after %d sends: TotalMessages = %d", i, got)
		}

		b := channels[0].TotalBytes()
		if b <= lastBytes {
			t.Fatalf("TotalBytes not strictly increasing: %d -> %d", lastBytes, b)
		}
		lastBytes = b

		if channels[0].TotalData() != uint64(i*len("payload")) {
			t.Fatalf("TotalData = %d after %d sends", channels[0].TotalData(), i)
		}
		if channels[0].TotalMeta()+channels[0].TotalData() != b {
			t.Fatal("meta + data != bytes")
		}
	}
}

func TestUnknownNeighbor(t *testing.T) {
	channels := testChannels(t, 3, 21020)

	// 0 and 1 are connected to each other only; 2 stays out of 0's set
	connectAll(t, channels, graph.NewRing(3))

	err := channels[0].Send(42, []byte("x"))
	if errors.Cause(err) != ErrUnknownNeighbor {
		t.Fatalf("expected ErrUnknownNeighbor, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	channels := testChannels(t, 2, 21030)
	connectAll(t, channels, graph.NewRing(2))

	// leave a stale message in flight before disconnecting
	if err := channels[0].Send(1, []byte("stale")); err != nil {
		t.Fatal(err)
	}

	if err := channels[1].DisconnectNeighbors(); err != nil {
		t.Fatal(err)
	}
	if err := channels[1].DisconnectNeighbors(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}

	if _, _, err := channels[1].Receive(); errors.Cause(err) != ErrChannelClosed {
		t.Fatalf("Receive after disconnect: got %v, want ErrChannelClosed", err)
	}
	if err := channels[1].Send(0, []byte("x")); errors.Cause(err) != ErrChannelClosed {
		t.Fatalf("Send after disconnect: got %v, want ErrChannelClosed", err)
	}
}

func TestDisjointOverlays(t *testing.T) {
	m := mapping.NewLinear(1, 2)
	logger := common.NewTestEntry(t, logrus.ErrorLevel)

	resolver, err := NewAddressResolver(m, "", 21040)
	if err != nil {
		t.Fatal(err)
	}

	// main overlay at offset 0, star overlay at offset NProcs
	for rank := 0; rank < 2; rank++ {
		main, err := NewTCPChannel(rank, 0, m, resolver, 0, logger)
		if err != nil {
			t.Fatal(err)
		}
		star, err := NewTCPChannel(rank, 0, m, resolver, m.NProcs(), logger)
		if err != nil {
			t.Fatalf("star channel should bind a disjoint port: %v", err)
		}
		t.Cleanup(func() { main.DisconnectNeighbors(); star.DisconnectNeighbors() })
	}
}

func TestRegistry(t *testing.T) {
	m := mapping.NewLinear(1, 1)

	ch, err := New("tcp", Config{
		Rank:      0,
		MachineID: 0,
		Mapping:   m,
		BasePort:  21050,
		Logger:    common.NewTestEntry(t, logrus.ErrorLevel),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.DisconnectNeighbors()

	if _, err := New("carrier-pigeon", Config{}); err == nil {
		t.Fatal("expected error for unregistered channel name")
	}
}
