// Package midi defines the boundary to the physical MIDI engine.
//
// The coordination layer never touches MIDI hardware: validated control
// messages flow out through a Sink, and DAW-originated events flow back
// in through a Source. Both are implemented elsewhere; this package
// carries the contracts and a channel-backed double for tests.
package midi

import (
	"context"

	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// Sink consumes validated control messages destined for the DAW. All
// messages handed to a Sink have already passed ingress screening;
// implementations may trust their ranges.
type Sink interface {
	// HandleCC delivers a control-change message.
	HandleCC(msg *wire.CC)

	// HandleNote delivers a note on/off message.
	HandleNote(msg *wire.Note)

	// HandleTransport delivers a transport action (play, stop, record).
	HandleTransport(msg *wire.Transport)
}

// Source produces DAW-originated events (fader moves, meter feedback)
// as raw 3-byte MIDI, to be forwarded to the device.
type Source interface {
	// Events returns the stream of outbound raw MIDI events. The
	// channel closes when the source shuts down.
	Events(ctx context.Context) <-chan *wire.MIDIInput
}

// NullSink discards everything. Useful when no MIDI engine is attached.
type NullSink struct{}

func (NullSink) HandleCC(*wire.CC)               {}
func (NullSink) HandleNote(*wire.Note)           {}
func (NullSink) HandleTransport(*wire.Transport) {}

var _ Sink = NullSink{}
