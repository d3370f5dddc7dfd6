package midi

import (
	"context"

	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// ChanSink is a channel-backed Sink for tests and tooling. Deliveries
// block when the buffer is full, so size it for the traffic under test.
type ChanSink struct {
	CC        chan *wire.CC
	Notes     chan *wire.Note
	Transport chan *wire.Transport
}

// NewChanSink creates a ChanSink with the given buffer size per kind.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{
		CC:        make(chan *wire.CC, buffer),
		Notes:     make(chan *wire.Note, buffer),
		Transport: make(chan *wire.Transport, buffer),
	}
}

func (s *ChanSink) HandleCC(msg *wire.CC)               { s.CC <- msg }
func (s *ChanSink) HandleNote(msg *wire.Note)           { s.Notes <- msg }
func (s *ChanSink) HandleTransport(msg *wire.Transport) { s.Transport <- msg }

var _ Sink = (*ChanSink)(nil)

// ChanSource is a channel-backed Source for tests and tooling.
type ChanSource struct {
	ch chan *wire.MIDIInput
}

// NewChanSource creates a ChanSource with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan *wire.MIDIInput, buffer)}
}

// Emit queues one event for delivery.
func (s *ChanSource) Emit(msg *wire.MIDIInput) {
	s.ch <- msg
}

// Close ends the stream.
func (s *ChanSource) Close() {
	close(s.ch)
}

// Events returns the event stream. The context is ignored; callers stop
// consuming by closing the source.
func (s *ChanSource) Events(ctx context.Context) <-chan *wire.MIDIInput {
	return s.ch
}

var _ Source = (*ChanSource)(nil)
