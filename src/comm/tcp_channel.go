package comm

import (
	"bufio"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	bufSize = math.MaxUint16

	dialTimeout   = time.Second
	dialRetryWait = 100 * time.Millisecond

	recvBuffer = 1024
)

// envelope is the wire frame. The first envelope on a connection carries no
// data and identifies the dialer; every subsequent envelope is a message.
type envelope struct {
	From int
	Data []byte
}

// countingWriter counts every byte that reaches the wire, for the channel's
// traffic counters.
type countingWriter struct {
	w io.Writer
	n *uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	atomic.AddUint64(cw.n, uint64(n))
	return n, err
}

// neighborConn is an established outbound link to one neighbor.
type neighborConn struct {
	uid  int
	conn net.Conn
	w    *bufio.Writer
	enc  *codec.Encoder
	mu   sync.Mutex
}

func (nc *neighborConn) release() error {
	return nc.conn.Close()
}

// TCPChannel is the TCP implementation of Channel. Each edge of the graph is
// backed by two connections, one per direction: a node sends on the
// connections it dialed and receives on the connections it accepted, so
// neighbors can come up in any order without a global barrier.
type TCPChannel struct {
	state

	uid      int
	offset   int
	resolver *AddressResolver
	logger   *logrus.Entry

	listener net.Listener

	outMu    sync.Mutex
	outbound map[int]*neighborConn

	inMu        sync.Mutex
	inbound     map[int]net.Conn
	expected    map[int]struct{}
	inboundDone chan struct{}
	doneOnce    sync.Once

	recvCh chan Message

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	totalBytes    uint64
	totalMessages uint64
	totalData     uint64
}

// NewTCPChannel creates a channel for the process with the given rank and
// machine ID. The listener is bound immediately so that address conflicts
// surface at construction. offset selects the overlay's address space; the
// main graph uses 0 and the evaluation star uses the star's process count.
func NewTCPChannel(
	rank int,
	machineID int,
	m mapping.Mapping,
	resolver *AddressResolver,
	offset int,
	logger *logrus.Entry,
) (*TCPChannel, error) {
	uid, err := m.GetUID(rank, machineID)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	list, err := net.Listen("tcp", resolver.ListenAddr(uid, offset))
	if err != nil {
		return nil, errors.Wrapf(err, "binding listener for uid %d", uid)
	}

	c := &TCPChannel{
		uid:         uid,
		offset:      offset,
		resolver:    resolver,
		logger:      logger.WithField("uid", uid).WithField("offset", offset),
		listener:    list,
		outbound:    make(map[int]*neighborConn),
		inbound:     make(map[int]net.Conn),
		inboundDone: make(chan struct{}),
		recvCh:      make(chan Message, recvBuffer),
		shutdownCh:  make(chan struct{}),
	}

	return c, nil
}

// UID implements the Channel interface.
func (c *TCPChannel) UID() int {
	return c.uid
}

// ConnectNeighbors implements the Channel interface.
func (c *TCPChannel) ConnectNeighbors(uids []int) error {
	switch c.getState() {
	case Disconnected:
		return ErrChannelClosed
	case Connected:
		return nil
	}

	c.inMu.Lock()
	c.expected = make(map[int]struct{}, len(uids))
	for _, uid := range uids {
		c.expected[uid] = struct{}{}
	}
	c.inMu.Unlock()

	go c.listen()

	c.maybeInboundDone()

	var wg sync.WaitGroup
	errCh := make(chan error, len(uids))

	for _, uid := range uids {
		c.outMu.Lock()
		_, dup := c.outbound[uid]
		c.outMu.Unlock()
		if dup {
			continue
		}

		wg.Add(1)
		go func(uid int) {
			defer wg.Done()
			if err := c.dial(uid); err != nil {
				errCh <- err
			}
		}(uid)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}

	select {
	case <-c.inboundDone:
	case <-c.shutdownCh:
		return ErrChannelClosed
	}

	c.setState(Connected)
	c.logger.WithField("neighbors", len(uids)).Debug("All neighbors connected")

	return nil
}

// dial establishes the outbound link to one neighbor, retrying until the
// neighbor's listener is up.
func (c *TCPChannel) dial(uid int) error {
	addr, err := c.resolver.DialAddr(uid, c.offset)
	if err != nil {
		return err
	}

	var conn net.Conn
	for {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			break
		}

		select {
		case <-c.shutdownCh:
			return ErrChannelClosed
		case <-time.After(dialRetryWait):
		}
	}

	cw := &countingWriter{w: conn, n: &c.totalBytes}
	w := bufio.NewWriterSize(cw, bufSize)

	var mh codec.MsgpackHandle
	nc := &neighborConn{
		uid:  uid,
		conn: conn,
		w:    w,
		enc:  codec.NewEncoder(w, &mh),
	}

	// identify ourselves so the acceptor can tag our messages
	nc.mu.Lock()
	err = nc.enc.Encode(envelope{From: c.uid})
	if err == nil {
		err = nc.w.Flush()
	}
	nc.mu.Unlock()
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "hello to uid %d", uid)
	}

	c.outMu.Lock()
	c.outbound[uid] = nc
	c.outMu.Unlock()

	c.logger.WithField("neighbor", uid).Debug("Outbound link established")

	return nil
}

// listen accepts inbound connections until the channel shuts down.
func (c *TCPChannel) listen() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if c.isShutdown() {
				return
			}
			c.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}

		go c.handleConn(conn)
	}
}

// handleConn reads the identifying hello, registers the link, then relays
// messages to the receive channel for its lifespan.
func (c *TCPChannel) handleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReaderSize(conn, bufSize)
	var mh codec.MsgpackHandle
	dec := codec.NewDecoder(r, &mh)

	var hello envelope
	if err := dec.Decode(&hello); err != nil {
		c.logger.WithField("error", err).Error("Failed to decode hello")
		return
	}

	c.inMu.Lock()
	_, ok := c.expected[hello.From]
	if !ok {
		c.inMu.Unlock()
		c.logger.WithField("from", hello.From).Warn("Connection from undeclared neighbor")
		return
	}
	if _, dup := c.inbound[hello.From]; dup {
		c.inMu.Unlock()
		c.logger.WithField("from", hello.From).Warn("Duplicate inbound connection")
		return
	}
	c.inbound[hello.From] = conn
	c.inMu.Unlock()

	c.logger.WithField("neighbor", hello.From).Debug("Inbound link established")
	c.maybeInboundDone()

	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			if err != io.EOF && !c.isShutdown() {
				c.logger.WithFields(logrus.Fields{
					"from":  hello.From,
					"error": err,
				}).Error("Failed to decode message")
			}
			return
		}

		select {
		case c.recvCh <- Message{Sender: hello.From, Payload: env.Data}:
		case <-c.shutdownCh:
			return
		}
	}
}

// maybeInboundDone signals ConnectNeighbors once every declared neighbor has
// completed its inbound handshake.
func (c *TCPChannel) maybeInboundDone() {
	c.inMu.Lock()
	done := len(c.inbound) == len(c.expected)
	c.inMu.Unlock()

	if done {
		c.doneOnce.Do(func() { close(c.inboundDone) })
	}
}

// Send implements the Channel interface.
func (c *TCPChannel) Send(uid int, payload []byte) error {
	if c.getState() == Disconnected {
		return ErrChannelClosed
	}

	c.outMu.Lock()
	nc, ok := c.outbound[uid]
	c.outMu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownNeighbor, "uid %d", uid)
	}

	nc.mu.Lock()
	err := nc.enc.Encode(envelope{From: c.uid, Data: payload})
	if err == nil {
		err = nc.w.Flush()
	}
	nc.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "sending to uid %d", uid)
	}

	atomic.AddUint64(&c.totalMessages, 1)
	atomic.AddUint64(&c.totalData, uint64(len(payload)))

	return nil
}

// Receive implements the Channel interface.
func (c *TCPChannel) Receive() (int, []byte, error) {
	// a closed channel never delivers, not even buffered stragglers
	select {
	case <-c.shutdownCh:
		return 0, nil, ErrChannelClosed
	default:
	}

	select {
	case <-c.shutdownCh:
		return 0, nil, ErrChannelClosed
	case m := <-c.recvCh:
		return m.Sender, m.Payload, nil
	}
}

// DisconnectNeighbors implements the Channel interface.
func (c *TCPChannel) DisconnectNeighbors() error {
	if c.getState() == Disconnected {
		return nil
	}
	c.setState(Disconnected)

	c.shutdownOnce.Do(func() { close(c.shutdownCh) })

	c.listener.Close()

	c.outMu.Lock()
	for _, nc := range c.outbound {
		nc.release()
	}
	c.outMu.Unlock()

	c.inMu.Lock()
	for _, conn := range c.inbound {
		conn.Close()
	}
	c.inMu.Unlock()

	c.logger.Debug("Disconnected")

	return nil
}

func (c *TCPChannel) isShutdown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// TotalBytes implements the Channel interface.
func (c *TCPChannel) TotalBytes() uint64 {
	return atomic.LoadUint64(&c.totalBytes)
}

// TotalMessages implements the Channel interface.
func (c *TCPChannel) TotalMessages() uint64 {
	return atomic.LoadUint64(&c.totalMessages)
}

// TotalData implements the Channel interface.
func (c *TCPChannel) TotalData() uint64 {
	return atomic.LoadUint64(&c.totalData)
}

// TotalMeta implements the Channel interface.
func (c *TCPChannel) TotalMeta() uint64 {
	b := c.TotalBytes()
	d := c.TotalData()
	if b < d {
		return 0
	}
	return b - d
}
