package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/connection"
	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// LANName identifies the LAN transport.
const LANName = "lan"

// DefaultDialTimeout bounds one TCP dial to a resolved peer.
const DefaultDialTimeout = 5 * time.Second

// Resolver finds a peer endpoint on the local network. The production
// implementation browses mDNS; tests substitute a fixed address.
type Resolver interface {
	// Resolve blocks until a peer is found or ctx is done. It returns
	// the peer's dialable address and display name.
	Resolve(ctx context.Context) (addr string, name string, err error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) (string, string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) (string, string, error) {
	return f(ctx)
}

// LANConfig configures the LAN transport.
type LANConfig struct {
	// Resolver locates the peer. Required.
	Resolver Resolver

	// LocalName is this side's display name, sent in the handshake.
	LocalName string

	// Auth is the declared auth scheme for the handshake.
	Auth string

	// DialTimeout bounds one TCP dial (default 5s).
	DialTimeout time.Duration

	// Liveness configures staleness detection. The default threshold is
	// generous: LAN peers health-check on a slow cadence.
	Liveness LivenessConfig

	// Batch configures outgoing message batching.
	Batch BatchConfig

	// Backoff overrides the retry schedule, used by tests.
	Backoff *connection.Backoff

	// Logger receives protocol trace events.
	Logger log.Logger
}

// LAN is the discovery-plus-dial transport: it browses for the peer's
// advertised service, dials it and initiates the handshake. It shares
// the connection core with the tunnel transport; only establishment
// differs.
type LAN struct {
	config  LANConfig
	handler Handler
	recon   *connection.Reconnector

	mu          sync.Mutex
	conn        *Conn
	discovering bool
	started     bool
	stopped     bool
}

var _ Transport = (*LAN)(nil)

// NewLAN creates the LAN transport.
func NewLAN(config LANConfig, handler Handler) *LAN {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Liveness.Threshold <= 0 {
		config.Liveness.Threshold = LANLivenessThreshold
	}
	if config.LocalName == "" {
		config.LocalName = "cbridge-host"
	}

	l := &LAN{config: config, handler: handler}
	if config.Backoff != nil {
		l.recon = connection.NewReconnectorWithBackoff(l.connect, config.Backoff)
	} else {
		l.recon = connection.NewReconnector(l.connect)
	}
	return l
}

// Name returns "lan".
func (l *LAN) Name() string { return LANName }

// Start begins discovery and connection attempts.
func (l *LAN) Start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.stopped = false
	l.mu.Unlock()

	l.recon.Resume()
	if err := l.recon.Start(); err != nil && err != connection.ErrAlreadyRunning {
		return err
	}
	l.recon.Kick()
	return nil
}

// Stop tears down the connection with ReasonUser and suppresses
// reconnection until the next Start.
func (l *LAN) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	l.stopped = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	l.recon.Suspend()
	if conn != nil {
		conn.Close()
	}
	return nil
}

// Kick signals peer availability (a service appeared): any pending
// backoff is cancelled and the next attempt runs immediately.
func (l *LAN) Kick() {
	l.recon.Kick()
}

// State returns the transport's current state.
func (l *LAN) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.State()
	}
	if l.discovering {
		return StateDiscovering
	}
	if l.started {
		return StateConnecting
	}
	return StateIdle
}

// Send queues a message on the active connection.
func (l *LAN) Send(msg wire.Message) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotActive
	}
	return conn.Send(msg)
}

// ConnectionID returns the active connection's identifier.
func (l *LAN) ConnectionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ""
	}
	return l.conn.ID()
}

// PeerName returns the connected host's display name, "" when none.
func (l *LAN) PeerName() string {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.PeerName()
}

// PeerAddr returns the connected host's remote address, "" when none.
func (l *LAN) PeerAddr() string {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// Stats returns the active connection's counters, zero when none.
func (l *LAN) Stats() Stats {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return Stats{}
	}
	return conn.Stats()
}

// connect is the reconnector's connect function: resolve, dial,
// handshake. Any stage failing counts as one failed attempt.
func (l *LAN) connect(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped || l.conn != nil {
		l.mu.Unlock()
		return nil
	}
	l.discovering = true
	l.mu.Unlock()

	if l.handler != nil {
		l.handler.OnStateChange(LANName, StateIdle, StateDiscovering, ReasonNone)
	}

	addr, _, err := l.config.Resolver.Resolve(ctx)

	l.mu.Lock()
	l.discovering = false
	stopped := l.stopped
	l.mu.Unlock()

	if stopped {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	if l.handler != nil {
		l.handler.OnStateChange(LANName, StateDiscovering, StateConnecting, ReasonNone)
	}

	dialer := &net.Dialer{Timeout: l.config.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if l.handler != nil {
			l.handler.OnError(LANName, fmt.Errorf("dial %s: %w", addr, err))
		}
		return err
	}

	conn := NewConn(ConnConfig{
		Transport: LANName,
		Role:      RoleInitiator,
		LocalName: l.config.LocalName,
		Auth:      l.config.Auth,
		Liveness:  l.config.Liveness,
		Batch:     l.config.Batch,
		Logger:    l.config.Logger,
	}, netConn, &lanConnHandler{l: l})

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		conn.Close()
		return nil
	}
	l.conn = conn
	l.mu.Unlock()

	if err := conn.Start(); err != nil {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// lanConnHandler forwards connection events to the transport's handler,
// clears the slot and re-engages the scheduler when the connection dies.
type lanConnHandler struct {
	l *LAN
}

func (h *lanConnHandler) OnFrame(transport, connID string, data []byte) {
	if h.l.handler != nil {
		h.l.handler.OnFrame(transport, connID, data)
	}
}

func (h *lanConnHandler) OnStateChange(transport string, oldState, newState State, reason Reason) {
	if newState == StateDisconnected {
		h.l.mu.Lock()
		if h.l.conn != nil && h.l.conn.State() == StateDisconnected {
			h.l.conn = nil
		}
		stopped := h.l.stopped
		h.l.mu.Unlock()

		// A non-user drop re-engages the scheduler immediately; the
		// backoff tiers pace any follow-up failures.
		if !stopped && reason != ReasonUser {
			h.l.recon.Kick()
		}
	}
	if h.l.handler != nil {
		h.l.handler.OnStateChange(transport, oldState, newState, reason)
	}
}

func (h *lanConnHandler) OnError(transport string, err error) {
	if h.l.handler != nil {
		h.l.handler.OnError(transport, err)
	}
}
