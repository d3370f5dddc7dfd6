// Package wire defines the JSON wire format for CBridge data messages.
//
// After the line-based handshake completes, all traffic is UTF-8 JSON with
// exactly one object per physical send, terminated by a single '\n'. Each
// object carries a "type" field that selects the message variant:
//
//   - midi_cc:    control change (channel 1-16, cc 0-127, value 0-127)
//   - midi_note:  note on/off (channel 1-16, note 0-127, velocity 0-127)
//   - transport:  transport action (play, stop, record, ...)
//   - heartbeat:  liveness probe with sender timestamp
//   - handshake:  JSON mirror of the line handshake (version, auth, name)
//   - batch:      container of pre-serialized inner messages
//   - midi_input: host-to-device raw 3-byte MIDI event (DAW feedback)
//
// # Validation
//
// All numeric fields are range-checked at construction and again at ingress.
// Out-of-range values are rejected, never clamped. A batch is not trusted as
// a unit: receivers must explode it and re-validate every inner entry.
package wire
