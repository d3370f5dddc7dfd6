package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cbridge-protocol/cbridge-go/pkg/connection"
	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// TunnelName identifies the tunnel transport.
const TunnelName = "tunnel"

// DefaultTunnelPort is the fixed loopback port the USB forwarder
// targets on the host side.
const DefaultTunnelPort = 9621

// TunnelConfig configures the tunnel transport.
type TunnelConfig struct {
	// Host is the bind address (default 127.0.0.1; the port is only
	// ever reached through the USB forwarder).
	Host string

	// Port is the fixed listen port the forwarder targets. Zero picks
	// an ephemeral port, which only makes sense in tests; production
	// wiring passes DefaultTunnelPort.
	Port int

	// LocalName is this side's display name.
	LocalName string

	// Liveness configures staleness detection. The default threshold is
	// short: the forwarded link is expected to be chatty.
	Liveness LivenessConfig

	// Batch configures outgoing message batching.
	Batch BatchConfig

	// AcceptGate, when set, is consulted with the remote address of
	// every accepted socket before the handshake runs. Returning false
	// closes the socket immediately.
	AcceptGate func(remoteAddr string) bool

	// Backoff overrides the bind-retry schedule, used by tests.
	Backoff *connection.Backoff

	// Logger receives protocol trace events.
	Logger log.Logger
}

// Tunnel is the listener-based transport: it binds a fixed loopback TCP
// port and waits for the device to connect through the USB forwarder.
// This side is always the handshake responder. A newly accepted socket
// replaces the current connection; the forwarder reconnects on the same
// port after a cable bounce, and the freshest socket wins.
type Tunnel struct {
	config  TunnelConfig
	handler Handler
	recon   *connection.Reconnector

	mu       sync.Mutex
	listener net.Listener
	conn     *Conn
	started  bool
	stopped  bool

	wg sync.WaitGroup
}

var _ Transport = (*Tunnel)(nil)

// NewTunnel creates the tunnel transport.
func NewTunnel(config TunnelConfig, handler Handler) *Tunnel {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Liveness.Threshold <= 0 {
		config.Liveness.Threshold = TunnelLivenessThreshold
	}

	t := &Tunnel{config: config, handler: handler}
	if config.Backoff != nil {
		t.recon = connection.NewReconnectorWithBackoff(t.bind, config.Backoff)
	} else {
		t.recon = connection.NewReconnector(t.bind)
	}
	return t
}

// Name returns "tunnel".
func (t *Tunnel) Name() string { return TunnelName }

// Start binds the listener, retrying with backoff if the port is taken.
func (t *Tunnel) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.stopped = false
	t.mu.Unlock()

	t.recon.Resume()
	if err := t.recon.Start(); err != nil && err != connection.ErrAlreadyRunning {
		return err
	}
	t.recon.Kick()
	return nil
}

// Stop tears down the listener and any connection with ReasonUser.
// Reconnection is suppressed until the next Start.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	t.stopped = true
	listener := t.listener
	conn := t.conn
	t.listener = nil
	t.conn = nil
	t.mu.Unlock()

	t.recon.Suspend()
	if listener != nil {
		_ = listener.Close()
	}
	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

// Kick signals peer availability (cable attached): any pending bind
// backoff is cancelled and the next attempt runs immediately.
func (t *Tunnel) Kick() {
	t.recon.Kick()
}

// State returns the transport's current state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.State()
	}
	if t.listener != nil {
		return StateListening
	}
	if t.started {
		return StateConnecting
	}
	return StateIdle
}

// Send queues a message on the active connection.
func (t *Tunnel) Send(msg wire.Message) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotActive
	}
	return conn.Send(msg)
}

// ConnectionID returns the active connection's identifier.
func (t *Tunnel) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.ID()
}

// PeerName returns the connected device's display name, "" when none.
func (t *Tunnel) PeerName() string {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.PeerName()
}

// PeerAddr returns the connected device's remote address, "" when none.
func (t *Tunnel) PeerAddr() string {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// Stats returns the active connection's counters, zero when none.
func (t *Tunnel) Stats() Stats {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return Stats{}
	}
	return conn.Stats()
}

// Addr returns the bound listen address, nil before the bind succeeds.
func (t *Tunnel) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// bind is the reconnector's connect function: it binds the fixed port
// and launches the accept loop.
func (t *Tunnel) bind(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped || t.listener != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if t.handler != nil {
			t.handler.OnError(TunnelName, fmt.Errorf("bind %s: %w", addr, err))
		}
		return err
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	if t.handler != nil {
		t.handler.OnStateChange(TunnelName, StateIdle, StateListening, ReasonNone)
	}

	t.wg.Add(1)
	go t.acceptLoop(listener)
	return nil
}

// acceptLoop accepts device connections until the listener closes. An
// accept while a connection is active replaces it: after a cable bounce
// the forwarder reconnects on the same port, and only the freshest
// socket carries traffic.
func (t *Tunnel) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			t.mu.Lock()
			stopped := t.stopped
			if t.listener == listener {
				t.listener = nil
			}
			t.mu.Unlock()

			if !stopped {
				if t.handler != nil {
					t.handler.OnError(TunnelName, fmt.Errorf("accept: %w", err))
				}
				// The listener died underneath us; rebind.
				t.recon.Kick()
			}
			return
		}

		t.handleAccept(netConn)
	}
}

// handleAccept runs the handshake on a freshly accepted socket.
func (t *Tunnel) handleAccept(netConn net.Conn) {
	if t.config.AcceptGate != nil && !t.config.AcceptGate(netConn.RemoteAddr().String()) {
		_ = netConn.Close()
		return
	}

	conn := NewConn(ConnConfig{
		Transport: TunnelName,
		Role:      RoleResponder,
		LocalName: t.config.LocalName,
		Liveness:  t.config.Liveness,
		Batch:     t.config.Batch,
		Logger:    t.config.Logger,
	}, netConn, &tunnelConnHandler{t: t})

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := conn.Start(); err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			if t.handler != nil {
				t.handler.OnError(TunnelName, err)
			}
			return
		}
		t.recon.NoteSuccess()
	}()
}

// tunnelConnHandler forwards connection events to the transport's
// handler and clears the slot when the connection dies.
type tunnelConnHandler struct {
	t *Tunnel
}

func (h *tunnelConnHandler) OnFrame(transport, connID string, data []byte) {
	if h.t.handler != nil {
		h.t.handler.OnFrame(transport, connID, data)
	}
}

func (h *tunnelConnHandler) OnStateChange(transport string, oldState, newState State, reason Reason) {
	if newState == StateDisconnected {
		h.t.mu.Lock()
		if h.t.conn != nil && h.t.conn.State() == StateDisconnected {
			h.t.conn = nil
		}
		h.t.mu.Unlock()
	}
	if h.t.handler != nil {
		h.t.handler.OnStateChange(transport, oldState, newState, reason)
	}
}

func (h *tunnelConnHandler) OnError(transport string, err error) {
	if h.t.handler != nil {
		h.t.handler.OnError(transport, err)
	}
}
