package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// Batching constants.
const (
	// DefaultBatchSize is the queue length that triggers a flush.
	DefaultBatchSize = 5

	// DefaultBatchTimeout is the longest a queued message waits before
	// a flush, measured from the first enqueue.
	DefaultBatchTimeout = 10 * time.Millisecond

	// DefaultMaxBatchSize is the hard cap on accumulated messages. When
	// reached, a flush is forced regardless of the timer, bounding
	// memory under burst send rates.
	DefaultMaxBatchSize = 100
)

// ErrBatcherClosed indicates an enqueue after Close.
var ErrBatcherClosed = errors.New("batcher closed")

// BatchConfig configures the outgoing batch accumulator.
type BatchConfig struct {
	// BatchSize is the queue length that triggers a flush.
	BatchSize int

	// BatchTimeout is the flush deadline from the first enqueue.
	BatchTimeout time.Duration

	// MaxBatchSize is the hard accumulation cap.
	MaxBatchSize int
}

// DefaultBatchConfig returns the production batching parameters.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// FlushFunc writes one wire frame. For a single pending message it
// receives that message's serialized form; for several it receives a
// serialized batch container.
type FlushFunc func(frame []byte) error

// Batcher accumulates serialized outgoing messages and flushes them as
// batch frames. It is owned by one connection's send path and never
// shared across transports.
//
// Flush triggers on whichever comes first: queue length reaching
// BatchSize, or BatchTimeout elapsing since the first enqueue. Reaching
// MaxBatchSize forces a flush regardless of the timer. Exactly one flush
// is in flight at a time; a flush requested while one is outstanding is
// deferred, never dropped.
//
// JSON serialization and socket writes happen on the flush goroutine,
// never on the caller's goroutine, so Enqueue is safe to call from
// latency-sensitive input paths.
type Batcher struct {
	config BatchConfig
	flush  FlushFunc

	mu       sync.Mutex
	pending  []string
	timer    *time.Timer
	inFlight bool
	deferred bool
	closed   bool

	// flushCount is the number of completed flushes, for stats.
	flushCount uint64

	wg sync.WaitGroup
}

// NewBatcher creates a batcher that writes frames through flush.
func NewBatcher(config BatchConfig, flush FlushFunc) *Batcher {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}
	if config.MaxBatchSize < config.BatchSize {
		config.MaxBatchSize = DefaultMaxBatchSize
	}
	return &Batcher{config: config, flush: flush}
}

// Enqueue adds one serialized message to the accumulator. The message
// must already be a complete JSON object without a trailing newline.
func (b *Batcher) Enqueue(serialized []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}

	b.pending = append(b.pending, string(serialized))

	switch {
	case len(b.pending) >= b.config.MaxBatchSize:
		// Hard cap: flush now regardless of the timer.
		b.startFlushLocked()
	case len(b.pending) >= b.config.BatchSize:
		b.startFlushLocked()
	case len(b.pending) == 1:
		// First enqueue arms the deadline timer.
		b.timer = time.AfterFunc(b.config.BatchTimeout, b.timerFired)
	}
	b.mu.Unlock()
	return nil
}

// Flush forces a flush of any pending messages.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if !b.closed && len(b.pending) > 0 {
		b.startFlushLocked()
	}
	b.mu.Unlock()
}

// FlushCount returns the number of completed flushes.
func (b *Batcher) FlushCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushCount
}

// PendingCount returns the number of messages awaiting a flush.
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the batcher, cancels its timer and waits for an in-flight
// flush to finish. Pending messages that never flushed are discarded;
// delivery is best-effort, at-most-once per connection.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
	b.mu.Unlock()

	b.wg.Wait()
}

// timerFired handles the batch deadline. The batcher owns exactly one
// timer at a time, re-armed on the first enqueue after each flush, so a
// fire observed after Close or after a size-triggered flush finds no
// pending messages and does nothing.
func (b *Batcher) timerFired() {
	b.mu.Lock()
	if !b.closed && len(b.pending) > 0 && !b.inFlight {
		b.startFlushLocked()
	} else if b.inFlight {
		b.deferred = true
	}
	b.mu.Unlock()
}

// startFlushLocked begins a flush, or defers it if one is in flight.
// Caller holds b.mu.
func (b *Batcher) startFlushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.inFlight {
		b.deferred = true
		return
	}
	b.inFlight = true

	// Take at most MaxBatchSize messages per flush.
	n := len(b.pending)
	if n > b.config.MaxBatchSize {
		n = b.config.MaxBatchSize
	}
	take := b.pending[:n]
	b.pending = append([]string(nil), b.pending[n:]...)
	if len(b.pending) > 0 {
		b.deferred = true
	}

	b.wg.Add(1)
	go b.runFlush(take)
}

// runFlush serializes and writes one flush worth of messages, then
// starts any deferred flush.
func (b *Batcher) runFlush(msgs []string) {
	defer b.wg.Done()

	frame := b.encode(msgs)
	if frame != nil {
		// Write errors are the read loop's problem to surface; a failed
		// socket will error there and tear the connection down.
		_ = b.flush(frame)
	}

	b.mu.Lock()
	b.flushCount++
	b.inFlight = false
	if b.deferred && !b.closed {
		b.deferred = false
		if len(b.pending) > 0 {
			b.startFlushLocked()
		}
	}
	b.mu.Unlock()
}

// encode builds the wire frame for one flush: the message itself when
// only one is pending, a batch container otherwise.
func (b *Batcher) encode(msgs []string) []byte {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) == 1 {
		return []byte(msgs[0])
	}
	frame, err := wire.Encode(wire.NewBatch(msgs))
	if err != nil {
		return nil
	}
	return frame
}
