package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Transport names the carrying transport ("tunnel" or "lan").
	Transport string `cbor:"3,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Fingerprint is the peer's stable endpoint fingerprint, when known.
	Fingerprint string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"9,keyasint,omitempty"`  // Raw line frames
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"` // Decoded wire messages
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Connection state
	Drop        *DropEvent        `cbor:"12,keyasint,omitempty"` // Security drops
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw lines).
	LayerTransport Layer = 0
	// LayerProtocol is the handshake and message decoding layer.
	LayerProtocol Layer = 1
	// LayerSecurity is the ingress gate.
	LayerSecurity Layer = 2
	// LayerCoordinator is the transport arbitration layer.
	LayerCoordinator Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSecurity:
		return "SECURITY"
	case LayerCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a data message.
	CategoryMessage Category = 0
	// CategoryHandshake indicates a handshake line.
	CategoryHandshake Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryDrop indicates a silently dropped message or attempt.
	CategoryDrop Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryState:
		return "STATE"
	case CategoryDrop:
		return "DROP"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw line frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes including the newline terminator.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded wire message.
type MessageEvent struct {
	// Type is the message's "type" tag (midi_cc, heartbeat, batch, ...).
	Type string `cbor:"1,keyasint"`

	// BatchCount is the inner entry count for batch messages.
	BatchCount int `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (stale, error, user, handshake, ...).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// DropEvent captures a message or connection attempt the security gate
// silently discarded. Drops never produce a wire-level error response.
type DropEvent struct {
	// Reason classifies the drop (rate-limited, validation-failed,
	// batch-too-large, unknown-type).
	Reason string `cbor:"1,keyasint"`

	// MessageType is the offending message's type tag, when parseable.
	MessageType string `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
