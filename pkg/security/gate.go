package security

import (
	"sync"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// Rate limiting defaults.
const (
	// DefaultConnectionBudget is the connection-attempt cap per window
	// per endpoint.
	DefaultConnectionBudget = 10

	// DefaultConnectionWindow is the sliding window for connection
	// attempts.
	DefaultConnectionWindow = 60 * time.Second

	// DefaultMessageBudget is the message cap per window per endpoint.
	DefaultMessageBudget = 200

	// DefaultMessageWindow is the sliding window for messages.
	DefaultMessageWindow = time.Second

	// DefaultLedgerTTL is how long an idle endpoint's ledger survives
	// before garbage collection reclaims it.
	DefaultLedgerTTL = 10 * time.Minute

	// DefaultGCInterval is how often idle ledgers are collected.
	DefaultGCInterval = time.Minute
)

// Drop reason strings, recorded in trace events.
const (
	DropRateLimited      = "rate-limited"
	DropConnRateLimited  = "connection-rate-limited"
	DropUnknownType      = "unknown-type"
	DropValidationFailed = "validation-failed"
	DropBatchTooLarge    = "batch-too-large"
	DropMalformed        = "malformed"
)

// GateConfig configures the ingress gate.
type GateConfig struct {
	// ConnectionBudget is the max connection attempts per endpoint per
	// ConnectionWindow.
	ConnectionBudget int

	// ConnectionWindow is the connection-attempt sliding window.
	ConnectionWindow time.Duration

	// MessageBudget is the max messages per endpoint per MessageWindow.
	MessageBudget int

	// MessageWindow is the message sliding window.
	MessageWindow time.Duration

	// LedgerTTL is the idle lifetime of an endpoint's ledger.
	LedgerTTL time.Duration

	// Now is the clock, injectable for deterministic tests.
	Now func() time.Time

	// Logger receives drop events. Nil disables logging; drops stay
	// silent on the wire either way.
	Logger log.Logger
}

// DefaultGateConfig returns the production gate parameters.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ConnectionBudget: DefaultConnectionBudget,
		ConnectionWindow: DefaultConnectionWindow,
		MessageBudget:    DefaultMessageBudget,
		MessageWindow:    DefaultMessageWindow,
		LedgerTTL:        DefaultLedgerTTL,
	}
}

// ledger tracks one endpoint's recent activity. Timestamps are pruned
// lazily on each check.
type ledger struct {
	connTimes []time.Time
	msgTimes  []time.Time
	lastSeen  time.Time
}

// Gate enforces the ingress policy: per-endpoint rate limits, message
// type whitelisting and field-range validation. Everything it rejects
// is dropped silently; the sender never receives a wire-level error,
// only the local trace records the drop.
type Gate struct {
	config GateConfig

	mu      sync.Mutex
	ledgers map[string]*ledger
	drops   uint64
}

// NewGate creates an ingress gate.
func NewGate(config GateConfig) *Gate {
	if config.ConnectionBudget <= 0 {
		config.ConnectionBudget = DefaultConnectionBudget
	}
	if config.ConnectionWindow <= 0 {
		config.ConnectionWindow = DefaultConnectionWindow
	}
	if config.MessageBudget <= 0 {
		config.MessageBudget = DefaultMessageBudget
	}
	if config.MessageWindow <= 0 {
		config.MessageWindow = DefaultMessageWindow
	}
	if config.LedgerTTL <= 0 {
		config.LedgerTTL = DefaultLedgerTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Gate{
		config:  config,
		ledgers: make(map[string]*ledger),
	}
}

// AllowConnection reports whether a connection attempt from the
// fingerprinted endpoint is within budget, and charges it if so.
func (g *Gate) AllowConnection(fingerprint string) bool {
	now := g.config.Now()

	g.mu.Lock()
	led := g.ledgerFor(fingerprint, now)
	led.connTimes = pruneWindow(led.connTimes, now.Add(-g.config.ConnectionWindow))
	if len(led.connTimes) >= g.config.ConnectionBudget {
		g.drops++
		g.mu.Unlock()
		g.logDrop(fingerprint, DropConnRateLimited, "")
		return false
	}
	led.connTimes = append(led.connTimes, now)
	g.mu.Unlock()
	return true
}

// Screen validates one inbound frame from the fingerprinted endpoint
// and returns the messages it yields. A batch frame is exploded and
// each entry validated independently; a batch over the entry cap is
// rejected wholesale. Invalid or over-budget messages are dropped
// silently; whatever survives comes back in order.
func (g *Gate) Screen(fingerprint string, frame []byte) []wire.Message {
	typ, err := wire.PeekType(frame)
	if err != nil {
		g.countDrop()
		g.logDrop(fingerprint, DropMalformed, "")
		return nil
	}

	msg, err := wire.Decode(frame)
	switch {
	case err == nil:
	case typ == wire.TypeBatch:
		g.countDrop()
		g.logDrop(fingerprint, DropMalformed, typ)
		return nil
	default:
		reason := DropValidationFailed
		if !whitelisted(typ) {
			reason = DropUnknownType
		}
		g.countDrop()
		g.logDrop(fingerprint, reason, typ)
		return nil
	}

	if batch, ok := msg.(*wire.Batch); ok {
		return g.screenBatch(fingerprint, batch)
	}

	if !whitelisted(typ) {
		g.countDrop()
		g.logDrop(fingerprint, DropUnknownType, typ)
		return nil
	}
	if !g.chargeMessage(fingerprint, 1) {
		g.logDrop(fingerprint, DropRateLimited, typ)
		return nil
	}
	return []wire.Message{msg}
}

// screenBatch explodes a batch and validates each entry.
func (g *Gate) screenBatch(fingerprint string, batch *wire.Batch) []wire.Message {
	if len(batch.Messages) > wire.MaxBatchEntries {
		// Wholesale rejection: an oversized batch is hostile or broken,
		// none of its entries are trusted.
		g.countDrop()
		g.logDrop(fingerprint, DropBatchTooLarge, wire.TypeBatch)
		return nil
	}

	inner, errs, err := batch.Explode()
	if err != nil {
		g.countDrop()
		g.logDrop(fingerprint, DropMalformed, wire.TypeBatch)
		return nil
	}
	for range errs {
		g.countDrop()
		g.logDrop(fingerprint, DropValidationFailed, wire.TypeBatch)
	}

	accepted := make([]wire.Message, 0, len(inner))
	for _, msg := range inner {
		if !whitelisted(msg.Type()) {
			g.countDrop()
			g.logDrop(fingerprint, DropUnknownType, msg.Type())
			continue
		}
		if !g.chargeMessage(fingerprint, 1) {
			g.logDrop(fingerprint, DropRateLimited, msg.Type())
			continue
		}
		accepted = append(accepted, msg)
	}
	return accepted
}

// DropCount returns the number of messages and attempts dropped.
func (g *Gate) DropCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drops
}

// GC reclaims ledgers idle longer than the TTL. Called periodically by
// the owner; the gate runs no goroutines of its own.
func (g *Gate) GC() int {
	cutoff := g.config.Now().Add(-g.config.LedgerTTL)

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for fp, led := range g.ledgers {
		if led.lastSeen.Before(cutoff) {
			delete(g.ledgers, fp)
			removed++
		}
	}
	return removed
}

// LedgerCount returns the number of tracked endpoints.
func (g *Gate) LedgerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ledgers)
}

// chargeMessage consumes n message slots, returning false when the
// budget is exhausted.
func (g *Gate) chargeMessage(fingerprint string, n int) bool {
	now := g.config.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	led := g.ledgerFor(fingerprint, now)
	led.msgTimes = pruneWindow(led.msgTimes, now.Add(-g.config.MessageWindow))
	if len(led.msgTimes)+n > g.config.MessageBudget {
		g.drops++
		return false
	}
	for i := 0; i < n; i++ {
		led.msgTimes = append(led.msgTimes, now)
	}
	return true
}

// ledgerFor returns the endpoint's ledger, creating it if needed.
// Caller holds g.mu.
func (g *Gate) ledgerFor(fingerprint string, now time.Time) *ledger {
	led, ok := g.ledgers[fingerprint]
	if !ok {
		led = &ledger{}
		g.ledgers[fingerprint] = led
	}
	led.lastSeen = now
	return led
}

func (g *Gate) countDrop() {
	g.mu.Lock()
	g.drops++
	g.mu.Unlock()
}

func (g *Gate) logDrop(fingerprint, reason, msgType string) {
	if g.config.Logger == nil {
		return
	}
	g.config.Logger.Log(log.Event{
		Timestamp:   g.config.Now(),
		Direction:   log.DirectionIn,
		Layer:       log.LayerSecurity,
		Category:    log.CategoryDrop,
		Fingerprint: fingerprint,
		Drop:        &log.DropEvent{Reason: reason, MessageType: msgType},
	})
}

// whitelisted reports whether the message type is one the gate admits.
// Batch is handled separately: its entries pass through here, the
// container itself does not. Host-to-device kinds (midi_input) are not
// valid ingress and fail here.
func whitelisted(typ string) bool {
	switch typ {
	case wire.TypeCC, wire.TypeNote, wire.TypeTransport,
		wire.TypeHeartbeat, wire.TypeHandshake:
		return true
	}
	return false
}

// pruneWindow drops timestamps at or before the cutoff. Timestamps are
// appended in order, so the slice stays sorted.
func pruneWindow(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}
