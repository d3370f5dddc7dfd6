package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds the time from socket establishment to
// a completed handshake.
const DefaultHandshakeTimeout = 3 * time.Second

// Role determines which side of the handshake this connection drives.
type Role int

const (
	// RoleResponder waits for the peer's request and answers it. Used
	// by the tunnel transport, where the device initiates.
	RoleResponder Role = iota

	// RoleInitiator sends the request and waits for the response. Used
	// by the LAN transport, where this side dials the discovered peer.
	RoleInitiator
)

// ConnConfig configures one connection instance.
type ConnConfig struct {
	// Transport names the carrying transport ("tunnel" or "lan").
	Transport string

	// Role selects the handshake side.
	Role Role

	// LocalName is this side's display name, sent during the handshake
	// when initiating.
	LocalName string

	// Auth is the declared auth scheme for initiated handshakes.
	Auth string

	// HandshakeTimeout bounds handshake completion (default 3s).
	HandshakeTimeout time.Duration

	// Liveness configures staleness detection and heartbeat emission.
	Liveness LivenessConfig

	// Batch configures outgoing message batching.
	Batch BatchConfig

	// Logger receives protocol trace events. Nil disables tracing.
	Logger log.Logger
}

// Stats are per-connection counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	Flushes          uint64
	EstablishedAt    time.Time
}

// Conn is one established socket to the peer, shared by both transport
// adapters. It owns the framer, the outgoing batcher and the liveness
// monitor for exactly this socket; none of them outlive it, so a timer
// from a dead connection can never act on a newer one.
type Conn struct {
	id      string
	config  ConnConfig
	handler Handler

	conn    net.Conn
	framer  *Framer
	batcher *Batcher
	live    *Liveness

	state     atomic.Int32
	closeOnce sync.Once
	closeCh   chan struct{}

	msgsSent uint64
	msgsRecv uint64

	mu            sync.Mutex
	peerName      string
	reason        Reason
	establishedAt time.Time
}

// NewConn wraps an established socket. The connection is not usable
// until Start completes the handshake.
func NewConn(config ConnConfig, netConn net.Conn, handler Handler) *Conn {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	c := &Conn{
		id:      uuid.NewString(),
		config:  config,
		handler: handler,
		conn:    netConn,
		closeCh: make(chan struct{}),
	}
	c.framer = NewFramer(netConn)
	if config.Logger != nil {
		c.framer.SetLogger(config.Logger, config.Transport, c.id)
	}
	c.batcher = NewBatcher(config.Batch, c.framer.WriteFrame)
	c.live = NewLiveness(config.Liveness, c.sendHeartbeat, c.onStale)
	c.state.Store(int32(StateAwaitingHandshake))

	return c
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// State returns the connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// PeerName returns the peer's display name learned from the handshake,
// with any ".local" suffix stripped.
func (c *Conn) PeerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// DisconnectReason returns why the connection ended, ReasonNone while
// it is still up.
func (c *Conn) DisconnectReason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Stats returns the connection's counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	established := c.establishedAt
	c.mu.Unlock()
	return Stats{
		MessagesSent:     atomic.LoadUint64(&c.msgsSent),
		MessagesReceived: atomic.LoadUint64(&c.msgsRecv),
		Flushes:          c.batcher.FlushCount(),
		EstablishedAt:    established,
	}
}

// Start runs the handshake and, on success, starts the read loop and
// liveness monitoring. On failure the socket is closed.
func (c *Conn) Start() error {
	deadline := time.Now().Add(c.config.HandshakeTimeout)
	_ = c.conn.SetDeadline(deadline)

	var err error
	switch c.config.Role {
	case RoleResponder:
		err = c.respondHandshake()
	case RoleInitiator:
		err = c.initiateHandshake()
	}
	if err != nil {
		c.close(ReasonError)
		return err
	}

	_ = c.conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.establishedAt = time.Now()
	c.mu.Unlock()

	c.setState(StateActive, ReasonNone)
	c.live.Start()
	go c.readLoop()

	return nil
}

// Send queues one message for delivery. Heartbeats skip the batcher so
// liveness traffic is never delayed behind a batch window.
func (c *Conn) Send(msg wire.Message) error {
	if c.State() != StateActive {
		return ErrNotActive
	}

	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	if msg.Type() == wire.TypeHeartbeat {
		if err := c.framer.WriteFrame(frame); err != nil {
			return err
		}
	} else {
		if err := c.batcher.Enqueue(frame); err != nil {
			return err
		}
	}

	atomic.AddUint64(&c.msgsSent, 1)
	c.live.Touch()
	return nil
}

// Flush forces any pending batched messages onto the wire.
func (c *Conn) Flush() {
	c.batcher.Flush()
}

// Close tears the connection down as a user-initiated stop.
func (c *Conn) Close() {
	c.close(ReasonUser)
}

// respondHandshake reads lines until a valid handshake request arrives,
// then answers it. Lines that are not handshake requests are dropped;
// only a malformed or unsupported request is fatal.
func (c *Conn) respondHandshake() error {
	for {
		line, err := c.framer.ReadFrame()
		if err != nil {
			if err == ErrFrameEmpty {
				continue
			}
			return fmt.Errorf("handshake read: %w", err)
		}

		// A line that is not a valid request is dropped, not fatal; the
		// peer gets until the handshake deadline to produce one.
		req, err := handshake.ParseRequest(string(line))
		if err != nil {
			c.logDrop("awaiting-handshake", "")
			continue
		}
		if !handshake.Supported(req.Major) {
			return fmt.Errorf("%w: CB/%d", handshake.ErrUnsupportedVersion, req.Major)
		}

		if err := c.framer.WriteFrame([]byte(handshake.BuildResponse(req))); err != nil {
			return fmt.Errorf("handshake write: %w", err)
		}

		c.mu.Lock()
		c.peerName = req.DisplayName()
		c.mu.Unlock()
		c.logHandshake(log.DirectionIn)
		return nil
	}
}

// initiateHandshake sends the request and waits for the response.
func (c *Conn) initiateHandshake() error {
	req := &handshake.Request{
		Major:     handshake.CurrentMajor,
		Auth:      c.config.Auth,
		Timestamp: time.Now().Unix(),
		Name:      c.config.LocalName,
	}
	if err := c.framer.WriteFrame([]byte(handshake.BuildRequest(req))); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}

	for {
		line, err := c.framer.ReadFrame()
		if err != nil {
			if err == ErrFrameEmpty {
				continue
			}
			return fmt.Errorf("handshake read: %w", err)
		}

		resp, err := handshake.ParseResponse(string(line))
		if err != nil {
			c.logDrop("awaiting-handshake", "")
			continue
		}
		if !handshake.Supported(resp.Major) {
			return fmt.Errorf("%w: OK/%d", handshake.ErrUnsupportedVersion, resp.Major)
		}

		c.logHandshake(log.DirectionOut)
		return nil
	}
}

// readLoop reads frames until the connection dies. Heartbeats are
// consumed here; everything else goes up to the handler unparsed.
func (c *Conn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if err == ErrFrameEmpty {
				continue
			}
			select {
			case <-c.closeCh:
				return
			default:
			}
			if c.handler != nil {
				c.handler.OnError(c.config.Transport, fmt.Errorf("read: %w", err))
			}
			c.close(ReasonError)
			return
		}

		c.live.Touch()
		atomic.AddUint64(&c.msgsRecv, 1)

		if t, err := wire.PeekType(data); err == nil && t == wire.TypeHeartbeat {
			continue
		}

		if c.handler != nil {
			c.handler.OnFrame(c.config.Transport, c.id, data)
		}
	}
}

func (c *Conn) sendHeartbeat() error {
	frame, err := wire.Encode(wire.NewHeartbeat())
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(frame)
}

// onStale fires when the liveness threshold elapses with no traffic.
func (c *Conn) onStale() {
	c.close(ReasonStale)
}

// close tears the connection down exactly once.
func (c *Conn) close(reason Reason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()

		close(c.closeCh)
		c.live.Stop()
		c.batcher.Close()
		_ = c.conn.Close()

		c.setState(StateDisconnected, reason)
	})
}

// setState transitions the state, logging and notifying the handler.
func (c *Conn) setState(newState State, reason Reason) {
	oldState := State(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	if c.config.Logger != nil {
		reasonStr := ""
		if reason != ReasonNone {
			reasonStr = reason.String()
		}
		c.config.Logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Transport:    c.config.Transport,
			Layer:        log.LayerProtocol,
			Category:     log.CategoryState,
			RemoteAddr:   c.conn.RemoteAddr().String(),
			StateChange: &log.StateChangeEvent{
				OldState: oldState.String(),
				NewState: newState.String(),
				Reason:   reasonStr,
			},
		})
	}

	if c.handler != nil {
		c.handler.OnStateChange(c.config.Transport, oldState, newState, reason)
	}
}

func (c *Conn) logHandshake(direction log.Direction) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Transport:    c.config.Transport,
		Direction:    direction,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryHandshake,
		RemoteAddr:   c.conn.RemoteAddr().String(),
	})
}

func (c *Conn) logDrop(reason, msgType string) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Transport:    c.config.Transport,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryDrop,
		Drop:         &log.DropEvent{Reason: reason, MessageType: msgType},
	})
}
