package transport

// State is a connection or transport lifecycle state.
type State int

const (
	// StateIdle indicates the transport has not been started.
	StateIdle State = iota

	// StateListening indicates the tunnel transport is waiting for an
	// inbound connection.
	StateListening

	// StateDiscovering indicates the LAN transport is browsing for a peer.
	StateDiscovering

	// StateConnecting indicates socket establishment is in progress.
	StateConnecting

	// StateAwaitingHandshake indicates the socket is up but the handshake
	// has not completed. Data messages are not accepted in this state.
	StateAwaitingHandshake

	// StateActive indicates a fully established connection.
	StateActive

	// StateDisconnected is the terminal state for a connection instance.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case StateActive:
		return "ACTIVE"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Reason qualifies a transition to StateDisconnected.
type Reason int

const (
	// ReasonNone indicates no disconnect has occurred.
	ReasonNone Reason = iota

	// ReasonStale indicates the liveness threshold elapsed with no
	// inbound traffic.
	ReasonStale

	// ReasonError indicates a socket or protocol failure, including a
	// handshake timeout.
	ReasonError

	// ReasonUser indicates an explicit stop. Reconnection is suppressed.
	ReasonUser
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonStale:
		return "STALE"
	case ReasonError:
		return "ERROR"
	case ReasonUser:
		return "USER"
	default:
		return "UNKNOWN"
	}
}
