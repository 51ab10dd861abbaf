// Package protocol implements the SoupBinTCP connection engine shared by
// clients and servers: packet send/receive over a byte stream, idle
// heartbeats, heartbeat timeout detection and sequence bookkeeping.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
)

// Conn is a SoupBinTCP connection over a live transport.
// Send is safe for concurrent use; Receive expects a single reader.
type Conn struct {
	conn   net.Conn
	role   Role
	cfg    *Config
	log    *slog.Logger
	stream *packet.Stream // owned by readLoop

	writeMu sync.Mutex

	// Unix nanoseconds; written by one goroutine, read by the heartbeat loop.
	lastSend atomic.Int64
	lastRecv atomic.Int64
	received atomic.Uint64

	sessionMu      sync.RWMutex
	session        string
	sequenceNumber uint64

	// Packets read but not yet returned by Receive.
	queueMu     sync.Mutex
	queue       []*packet.Packet
	queuedBytes int
	discarded   bool
	ready       chan struct{}

	done   chan struct{}
	closed atomic.Bool

	errMu sync.Mutex
	err   error

	hbMu     sync.Mutex
	hbCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps conn and starts reading from it.
func New(conn net.Conn, role Role, cfg *Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid protocol config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:           conn,
		role:           role,
		cfg:            cfg,
		log:            cfg.Logger.With("role", role.Name, "remote_addr", remoteAddr(conn)),
		stream:         packet.NewStream(role.DataType),
		sequenceNumber: 1,
		ready:          make(chan struct{}, 1),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	now := time.Now().UnixNano()
	c.lastSend.Store(now)
	c.lastRecv.Store(now)

	go c.readLoop()
	return c, nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Role returns the role this connection was created with.
func (c *Conn) Role() Role {
	return c.role
}

// Config returns the effective configuration.
func (c *Conn) Config() Config {
	return *c.cfg
}

// Logger returns the connection logger.
func (c *Conn) Logger() *slog.Logger {
	return c.log
}

// Context is canceled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// LocalAddr returns the local transport address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote transport address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetSession records the session and base sequence number agreed at login.
func (c *Conn) SetSession(session string, sequenceNumber uint64) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.session = session
	c.sequenceNumber = sequenceNumber
}

// Session returns the session agreed at login.
func (c *Conn) Session() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()

	return c.session
}

// SequenceNumber returns the base sequence number agreed at login.
func (c *Conn) SequenceNumber() uint64 {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()

	return c.sequenceNumber
}

// Received returns the number of data packets received so far.
func (c *Conn) Received() uint64 {
	return c.received.Load()
}

// NextSequenceNumber returns the sequence number of the next expected data packet.
func (c *Conn) NextSequenceNumber() uint64 {
	return c.SequenceNumber() + c.Received()
}

// LastSend returns when a packet was last written.
func (c *Conn) LastSend() time.Time {
	return time.Unix(0, c.lastSend.Load())
}

// LastReceive returns when bytes were last read.
func (c *Conn) LastReceive() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// Send encodes and writes a packet. It resets the heartbeat interval clock.
func (c *Conn) Send(t packet.Type, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(payload) > packet.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", packet.ErrPacketTooLarge, len(payload))
	}

	pkt := packet.New(t, payload)

	buf := packet.GetBuffer()
	defer packet.PutBuffer(buf)

	size := pkt.EncodedSize()
	if size > len(buf) {
		buf = make([]byte, size)
	}
	n := pkt.Encode(buf)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	c.lastSend.Store(time.Now().UnixNano())
	if _, err := c.conn.Write(buf[:n]); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		err = fmt.Errorf("write %s: %w", t, err)
		c.CloseWithError(err)
		return err
	}
	c.log.Debug(">>", "type", t, "len", pkt.Length)
	return nil
}

// Receive blocks until a complete packet is available and returns it.
// It returns io.EOF once the stream ended cleanly (peer close, EndOfSession,
// local Close) and the recorded error when the connection failed.
// Packets that arrived before the peer ended the stream are returned first.
func (c *Conn) Receive(ctx context.Context) (*packet.Packet, error) {
	for {
		if pkt := c.dequeue(); pkt != nil {
			return pkt, nil
		}
		select {
		case <-c.ready:
		case <-c.done:
			if pkt := c.dequeue(); pkt != nil {
				return pkt, nil
			}
			return nil, c.termination()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) enqueue(pkt *packet.Packet) {
	c.queueMu.Lock()
	if c.discarded {
		c.queueMu.Unlock()
		return
	}
	c.queue = append(c.queue, pkt)
	c.queuedBytes += pkt.EncodedSize()
	c.queueMu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Conn) dequeue() *packet.Packet {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	pkt := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.queuedBytes -= pkt.EncodedSize()
	return pkt
}

// Pending returns the number of received packets not yet returned by Receive.
func (c *Conn) Pending() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	return len(c.queue)
}

func (c *Conn) pendingBytes() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	return c.queuedBytes
}

func (c *Conn) discardQueue() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	c.queue = nil
	c.queuedBytes = 0
	c.discarded = true
}

func (c *Conn) termination() error {
	if err := c.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection is closed.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Err returns the error that closed the connection, or nil.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.err
}

// Close stops the heartbeat task and closes the transport.
// Packets not yet returned by Receive are discarded.
func (c *Conn) Close() error {
	c.discardQueue()
	return c.shutdown()
}

// CloseWithError records err, unless an error is already recorded, and closes.
func (c *Conn) CloseWithError(err error) error {
	c.setErr(err)
	return c.Close()
}

// terminate ends the connection from the read side. Queued packets stay
// available to Receive ahead of the termination error.
func (c *Conn) terminate(err error) {
	c.setErr(err)
	_ = c.shutdown()
}

func (c *Conn) setErr(err error) {
	if err == nil || c.closed.Load() {
		return
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Conn) shutdown() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.cancel()
	close(c.done)
	return c.conn.Close()
}

// StartHeartbeat starts the background heartbeat task. Only the first call has an effect.
func (c *Conn) StartHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	if c.hbCancel != nil || c.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.hbCancel = cancel
	go c.heartbeatLoop(ctx)
}

// StopHeartbeat stops the background heartbeat task.
func (c *Conn) StopHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	if c.hbCancel != nil {
		c.hbCancel()
	}
}

func (c *Conn) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !c.keepAlive(now) {
				return
			}
		}
	}
}

// keepAlive runs one heartbeat tick. Returns false once the connection is done.
func (c *Conn) keepAlive(now time.Time) bool {
	if elapsed := now.Sub(c.LastReceive()); elapsed > c.cfg.HeartbeatTimeout {
		c.log.Warn("heartbeat timeout", "elapsed", elapsed)
		c.CloseWithError(&HeartbeatTimeoutError{Elapsed: elapsed, Timeout: c.cfg.HeartbeatTimeout})
		return false
	}
	if now.Sub(c.LastSend()) > c.cfg.HeartbeatInterval {
		if err := c.Send(c.role.HeartbeatType, nil); err != nil {
			return false
		}
	}
	return true
}

// readLoop feeds transport bytes into the stream and queues complete packets.
// It never waits for Receive, so the receive clock keeps moving while the
// owner is busy.
func (c *Conn) readLoop() {
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastRecv.Store(time.Now().UnixNano())
			c.stream.Feed(buf[:n])
			if !c.dispatch() {
				return
			}
			if c.cfg.MaxBufferSize > 0 {
				if pending := c.stream.Buffered() + c.pendingBytes(); pending > c.cfg.MaxBufferSize {
					c.log.Warn("receive buffer overflow", "pending", pending, "limit", c.cfg.MaxBufferSize)
					c.terminate(fmt.Errorf("%w: %w: %d bytes pending", ErrProtocolViolation, ErrBufferOverflow, pending))
					return
				}
			}
		}
		if err != nil {
			if c.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				c.terminate(nil)
			} else {
				c.terminate(fmt.Errorf("read: %w", err))
			}
			return
		}
	}
}

// dispatch queues buffered packets in order. Returns false once the connection is done.
func (c *Conn) dispatch() bool {
	for pkt := range c.stream.All() {
		if c.closed.Load() {
			return false
		}
		c.received.Store(c.stream.Processed())

		if err := pkt.Validate(); err != nil {
			c.log.Warn("invalid packet", "error", err)
			c.terminate(fmt.Errorf("%w: %w", ErrProtocolViolation, err))
			return false
		}
		c.log.Debug("<<", "type", pkt.Type, "len", pkt.Length)

		switch {
		case pkt.Type == packet.TypeEndOfSession:
			c.terminate(nil)
			return false
		case pkt.Type == c.role.PeerHeartbeatType && !c.role.DeliverPeerHeartbeats:
			continue
		}
		c.enqueue(pkt)
	}
	return true
}
