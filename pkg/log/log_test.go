package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(connID string, category Category) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Transport:    "tunnel",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     category,
		Frame:        &FrameEvent{Size: 42},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := sampleEvent("conn-1", CategoryMessage)

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if out.ConnectionID != in.ConnectionID {
		t.Errorf("ConnectionID = %q, want %q", out.ConnectionID, in.ConnectionID)
	}
	if out.Transport != in.Transport {
		t.Errorf("Transport = %q, want %q", out.Transport, in.Transport)
	}
	if out.Frame == nil || out.Frame.Size != 42 {
		t.Errorf("Frame = %+v, want size 42", out.Frame)
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ctrace")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	fl.Log(sampleEvent("conn-1", CategoryMessage))
	fl.Log(sampleEvent("conn-2", CategoryDrop))
	fl.Log(sampleEvent("conn-1", CategoryState))

	if err := fl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Log after close is a no-op, not a panic.
	fl.Log(sampleEvent("conn-3", CategoryError))

	r, err := NewFilteredReader(path, Filter{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events for conn-1, want 2", len(events))
	}
	for _, ev := range events {
		if ev.ConnectionID != "conn-1" {
			t.Errorf("filter leaked event for %q", ev.ConnectionID)
		}
	}
}

func TestReaderEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ctrace")

	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	fl.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestMultiLogger(t *testing.T) {
	var got []Event
	capture := loggerFunc(func(e Event) { got = append(got, e) })

	ml := NewMultiLogger(NoopLogger{}, capture, capture)
	ml.Log(sampleEvent("conn-1", CategoryMessage))

	if len(got) != 2 {
		t.Errorf("captured %d events, want 2", len(got))
	}
}

// loggerFunc adapts a function to the Logger interface for tests.
type loggerFunc func(Event)

func (f loggerFunc) Log(e Event) { f(e) }
