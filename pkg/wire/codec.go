package wire

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a message to its JSON wire form without the trailing
// newline; the transport framer owns the line terminator.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type(), err)
	}
	return data, nil
}

// Decode parses a single JSON wire message, dispatching on its "type"
// field, and validates it. Unknown types return ErrUnknownType.
func Decode(data []byte) (Message, error) {
	kind, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var m Message
	switch kind {
	case TypeCC:
		m = &CC{}
	case TypeNote:
		m = &Note{}
	case TypeTransport:
		m = &Transport{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeHandshake:
		m = &Handshake{}
	case TypeBatch:
		m = &Batch{}
	case TypeMIDIInput:
		m = &MIDIInput{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("malformed %s message: %w", kind, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
