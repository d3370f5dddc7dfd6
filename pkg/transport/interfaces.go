package transport

import (
	"errors"

	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// Transport errors.
var (
	ErrNotActive      = errors.New("transport not active")
	ErrAlreadyStarted = errors.New("transport already started")
	ErrStopped        = errors.New("transport stopped")
)

// Handler receives events from a transport. Frames delivered through
// OnFrame have passed the handshake but no other checks; validation and
// rate limiting happen above the transport layer.
type Handler interface {
	// OnFrame is called with one raw frame from an active connection.
	OnFrame(transport string, connID string, data []byte)

	// OnStateChange is called on every transport state transition.
	// reason is ReasonNone except on transitions to StateDisconnected.
	OnStateChange(transport string, oldState, newState State, reason Reason)

	// OnError is called with non-fatal errors worth surfacing.
	OnError(transport string, err error)
}

// Transport is one path to the peer device. The tunnel and LAN
// transports both implement it; the coordinator arbitrates between them.
type Transport interface {
	// Name identifies the transport ("tunnel" or "lan").
	Name() string

	// Start brings the transport up. For the tunnel this binds the
	// listener; for LAN it begins discovery. Start returns once the
	// machinery is running, not once a connection exists.
	Start() error

	// Stop tears the transport down with ReasonUser and suppresses
	// reconnection until the next Start.
	Stop() error

	// State returns the current transport state.
	State() State

	// Send queues a message for delivery on the active connection.
	// Returns ErrNotActive when no connection is established.
	Send(msg wire.Message) error

	// ConnectionID returns the active connection's identifier, or ""
	// when no connection is established.
	ConnectionID() string

	// PeerAddr returns the active connection's remote address, or ""
	// when no connection is established.
	PeerAddr() string
}
