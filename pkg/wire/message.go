package wire

import (
	"errors"
	"fmt"
	"time"
)

// Message type tags carried in the "type" field.
const (
	TypeCC        = "midi_cc"
	TypeNote      = "midi_note"
	TypeTransport = "transport"
	TypeHeartbeat = "heartbeat"
	TypeHandshake = "handshake"
	TypeBatch     = "batch"
	TypeMIDIInput = "midi_input"
)

// MIDI field ranges.
const (
	MinChannel = 1
	MaxChannel = 16
	MinData    = 0
	MaxData    = 127
)

// Wire format errors.
var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrOutOfRange   = errors.New("field out of range")
	ErrEmptyMessage = errors.New("message is empty")
)

// Message is implemented by every wire message variant.
type Message interface {
	// Type returns the message's type tag.
	Type() string

	// Validate range-checks all fields. Out-of-range values are an error,
	// never silently clamped.
	Validate() error
}

// CC is a MIDI Control Change message.
type CC struct {
	Kind     string `json:"type"`
	Channel  int    `json:"channel"`
	Number   int    `json:"cc"`
	Value    int    `json:"value"`
	Label    string `json:"label,omitempty"`
	ButtonID string `json:"button_id,omitempty"`
}

// NewCC constructs a range-checked CC message.
func NewCC(channel, number, value int) (*CC, error) {
	m := &CC{Kind: TypeCC, Channel: channel, Number: number, Value: value}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the message type tag.
func (m *CC) Type() string { return TypeCC }

// Validate range-checks channel, controller number and value.
func (m *CC) Validate() error {
	if m.Kind != TypeCC {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if m.Channel < MinChannel || m.Channel > MaxChannel {
		return fmt.Errorf("%w: channel %d", ErrOutOfRange, m.Channel)
	}
	if m.Number < MinData || m.Number > MaxData {
		return fmt.Errorf("%w: cc %d", ErrOutOfRange, m.Number)
	}
	if m.Value < MinData || m.Value > MaxData {
		return fmt.Errorf("%w: value %d", ErrOutOfRange, m.Value)
	}
	return nil
}

// Note is a MIDI Note On/Off message. Velocity 0 is a note-off by MIDI
// convention and is valid here.
type Note struct {
	Kind     string `json:"type"`
	Channel  int    `json:"channel"`
	Number   int    `json:"note"`
	Velocity int    `json:"velocity"`
	Label    string `json:"label,omitempty"`
	ButtonID string `json:"button_id,omitempty"`
}

// NewNote constructs a range-checked Note message.
func NewNote(channel, number, velocity int) (*Note, error) {
	m := &Note{Kind: TypeNote, Channel: channel, Number: number, Velocity: velocity}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the message type tag.
func (m *Note) Type() string { return TypeNote }

// Validate range-checks channel, note number and velocity.
func (m *Note) Validate() error {
	if m.Kind != TypeNote {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if m.Channel < MinChannel || m.Channel > MaxChannel {
		return fmt.Errorf("%w: channel %d", ErrOutOfRange, m.Channel)
	}
	if m.Number < MinData || m.Number > MaxData {
		return fmt.Errorf("%w: note %d", ErrOutOfRange, m.Number)
	}
	if m.Velocity < MinData || m.Velocity > MaxData {
		return fmt.Errorf("%w: velocity %d", ErrOutOfRange, m.Velocity)
	}
	return nil
}

// Transport is a transport-control action (play, stop, record, ...).
type Transport struct {
	Kind      string `json:"type"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// NewTransport constructs a Transport message stamped with the current time.
func NewTransport(action string) (*Transport, error) {
	m := &Transport{Kind: TypeTransport, Action: action, Timestamp: time.Now().Unix()}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the message type tag.
func (m *Transport) Type() string { return TypeTransport }

// Validate checks the action is present.
func (m *Transport) Validate() error {
	if m.Kind != TypeTransport {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if m.Action == "" {
		return fmt.Errorf("%w: transport action", ErrEmptyMessage)
	}
	return nil
}

// Heartbeat is a liveness probe. Either side may emit one; any inbound
// traffic counts toward liveness, heartbeats merely guarantee a minimum.
type Heartbeat struct {
	Kind      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NewHeartbeat constructs a Heartbeat stamped with the current time.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{Kind: TypeHeartbeat, Timestamp: time.Now().Unix()}
}

// Type returns the message type tag.
func (m *Heartbeat) Type() string { return TypeHeartbeat }

// Validate always succeeds; a heartbeat carries no constrained fields.
func (m *Heartbeat) Validate() error {
	if m.Kind != TypeHeartbeat {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	return nil
}

// Handshake is the JSON mirror of the line-based handshake. The Auth field
// is an opaque scheme identifier; no cryptographic verification is
// performed. It exists as an extension point only.
type Handshake struct {
	Kind    string `json:"type"`
	Version int    `json:"version"`
	Auth    string `json:"auth,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Type returns the message type tag.
func (m *Handshake) Type() string { return TypeHandshake }

// Validate checks the protocol major version is positive.
func (m *Handshake) Validate() error {
	if m.Kind != TypeHandshake {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if m.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrOutOfRange, m.Version)
	}
	return nil
}

// MIDIInput is a host-to-device raw MIDI event (status, data1, data2),
// used for DAW feedback such as fader positions.
type MIDIInput struct {
	Kind string `json:"type"`
	MIDI []int  `json:"midi"`
}

// NewMIDIInput constructs a range-checked raw MIDI event.
func NewMIDIInput(status, data1, data2 int) (*MIDIInput, error) {
	m := &MIDIInput{Kind: TypeMIDIInput, MIDI: []int{status, data1, data2}}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the message type tag.
func (m *MIDIInput) Type() string { return TypeMIDIInput }

// Validate checks the payload is exactly three bytes with a valid status.
func (m *MIDIInput) Validate() error {
	if m.Kind != TypeMIDIInput {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Kind)
	}
	if len(m.MIDI) != 3 {
		return fmt.Errorf("%w: midi payload length %d", ErrOutOfRange, len(m.MIDI))
	}
	if m.MIDI[0] < 0x80 || m.MIDI[0] > 0xFF {
		return fmt.Errorf("%w: status byte %d", ErrOutOfRange, m.MIDI[0])
	}
	for _, b := range m.MIDI[1:] {
		if b < MinData || b > MaxData {
			return fmt.Errorf("%w: data byte %d", ErrOutOfRange, b)
		}
	}
	return nil
}
