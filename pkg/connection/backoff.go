package connection

import (
	"sync"
	"time"
)

// Backoff tier boundaries and delays.
const (
	// ShortTierLimit is the last attempt that gets the short delay.
	ShortTierLimit = 5

	// MediumTierLimit is the last attempt that gets the medium delay.
	MediumTierLimit = 15

	// ShortDelay applies to attempts 1-5.
	ShortDelay = 1 * time.Second

	// MediumDelay applies to attempts 6-15.
	MediumDelay = 3 * time.Second

	// LongDelay applies to attempts 16 and beyond, forever.
	LongDelay = 10 * time.Second
)

// BackoffConfig customizes the tier delays, mainly for tests.
type BackoffConfig struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultBackoffConfig returns the production tier delays.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Short:  ShortDelay,
		Medium: MediumDelay,
		Long:   LongDelay,
	}
}

// Backoff tracks consecutive connection failures and maps the count onto
// a tiered delay schedule. Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	config   BackoffConfig
	failures int
}

// NewBackoff creates a backoff tracker with the default schedule.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig creates a backoff tracker with custom tier delays.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Short <= 0 {
		cfg.Short = ShortDelay
	}
	if cfg.Medium <= 0 {
		cfg.Medium = MediumDelay
	}
	if cfg.Long <= 0 {
		cfg.Long = LongDelay
	}
	return &Backoff{config: cfg}
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.delayLocked(b.failures)
}

// Peek returns the delay the next failure would produce, without
// recording one.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayLocked(b.failures + 1)
}

// Reset clears the failure counter. Call after a successful handshake.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Attempts returns the consecutive failure count since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// delayLocked maps an attempt number onto its tier delay.
func (b *Backoff) delayLocked(attempt int) time.Duration {
	switch {
	case attempt <= ShortTierLimit:
		return b.config.Short
	case attempt <= MediumTierLimit:
		return b.config.Medium
	default:
		return b.config.Long
	}
}

// DelayFor returns the production-schedule delay for a given attempt
// number. Exposed for diagnostics and tests.
func DelayFor(attempt int) time.Duration {
	switch {
	case attempt <= ShortTierLimit:
		return ShortDelay
	case attempt <= MediumTierLimit:
		return MediumDelay
	default:
		return LongDelay
	}
}
