package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/log"
)

// Framing constants.
const (
	// DefaultMaxLineSize is the default maximum frame size (64 KB),
	// including the newline terminator.
	DefaultMaxLineSize = 65536

	// MaxLogFrameDataSize is the maximum frame data size to include in
	// trace events (4 KB). Larger frames are truncated in the trace.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrLineTooLong indicates a frame exceeding the maximum size.
	ErrLineTooLong = errors.New("frame too long")

	// ErrFrameEmpty indicates an empty frame.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrFrameTruncated indicates the stream ended mid-frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// LineWriter writes newline-terminated frames to an underlying writer.
// The payload must not itself contain a newline.
type LineWriter struct {
	w           io.Writer
	maxLineSize int
	mu          sync.Mutex

	// Trace support (optional)
	logger    log.Logger
	connID    string
	transport string
}

// NewLineWriter creates a line writer with the default maximum size.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w, maxLineSize: DefaultMaxLineSize}
}

// SetLogger configures protocol tracing for this writer.
// Pass nil to disable tracing.
func (lw *LineWriter) SetLogger(logger log.Logger, transport, connID string) {
	lw.logger = logger
	lw.transport = transport
	lw.connID = connID
}

// WriteFrame writes one payload followed by a newline terminator.
// Thread-safe: can be called from multiple goroutines.
func (lw *LineWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data)+1 > lw.maxLineSize {
		return fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(data)+1, lw.maxLineSize)
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("%w: payload contains newline", ErrLineTooLong)
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, '\n')

	if _, err := lw.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if lw.logger != nil {
		lw.logger.Log(makeFrameEvent(lw.transport, lw.connID, data, log.DirectionOut))
	}
	return nil
}

// LineReader reads newline-terminated frames from an underlying reader.
type LineReader struct {
	r           *bufio.Reader
	maxLineSize int

	// Trace support (optional)
	logger    log.Logger
	connID    string
	transport string
}

// NewLineReader creates a line reader with the default maximum size.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:           bufio.NewReaderSize(r, 4096),
		maxLineSize: DefaultMaxLineSize,
	}
}

// SetLogger configures protocol tracing for this reader.
// Pass nil to disable tracing.
func (lr *LineReader) SetLogger(logger log.Logger, transport, connID string) {
	lr.logger = logger
	lr.transport = transport
	lr.connID = connID
}

// ReadFrame reads one frame, without its newline terminator. A stream
// ending mid-frame returns ErrFrameTruncated; an oversized frame returns
// ErrLineTooLong and the connection should be torn down, since framing
// can no longer be trusted.
func (lr *LineReader) ReadFrame() ([]byte, error) {
	var line []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > lr.maxLineSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrLineTooLong, len(line), lr.maxLineSize)
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if len(line) > 0 {
				return nil, ErrFrameTruncated
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	// Strip the terminator and an optional carriage return.
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, ErrFrameEmpty
	}

	if lr.logger != nil {
		lr.logger.Log(makeFrameEvent(lr.transport, lr.connID, line, log.DirectionIn))
	}
	return line, nil
}

// Framer combines frame reading and writing over one stream.
type Framer struct {
	*LineReader
	*LineWriter
}

// NewFramer creates a framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		LineReader: NewLineReader(rw),
		LineWriter: NewLineWriter(rw),
	}
}

// SetLogger configures protocol tracing for both directions.
func (f *Framer) SetLogger(logger log.Logger, transport, connID string) {
	f.LineReader.SetLogger(logger, transport, connID)
	f.LineWriter.SetLogger(logger, transport, connID)
}

// makeFrameEvent creates a trace event for a frame.
func makeFrameEvent(transport, connID string, data []byte, direction log.Direction) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Transport:    transport,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      len(data) + 1,
			Data:      frameData,
			Truncated: truncated,
		},
	}
}
