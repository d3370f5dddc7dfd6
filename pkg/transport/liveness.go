package transport

import (
	"sync"
	"time"
)

// Liveness constants.
const (
	// TunnelLivenessThreshold suits the chatty USB tunnel link.
	TunnelLivenessThreshold = 3 * time.Second

	// LANLivenessThreshold tolerates periodic LAN health checks.
	LANLivenessThreshold = 20 * time.Second

	// HeartbeatInterval is how often an Active connection emits a
	// heartbeat message.
	HeartbeatInterval = 1500 * time.Millisecond
)

// LivenessConfig configures activity monitoring for one connection.
type LivenessConfig struct {
	// Threshold is how long the connection may go without inbound
	// traffic before it is declared stale.
	Threshold time.Duration

	// HeartbeatInterval is the emission period while Active.
	HeartbeatInterval time.Duration

	// Now is the clock, injectable for deterministic tests.
	// Defaults to time.Now.
	Now func() time.Time
}

// Liveness tracks last-activity on one connection, emits heartbeats and
// declares staleness. It belongs to exactly one connection instance; its
// timers die with it, so a stale timer can never fire into a newer
// connection's state.
type Liveness struct {
	config LivenessConfig

	sendHeartbeat func() error
	onStale       func()

	mu           sync.Mutex
	lastActivity time.Time
	running      bool
	stopCh       chan struct{}
}

// NewLiveness creates a liveness monitor.
// sendHeartbeat emits one heartbeat message; onStale is called at most
// once, when the threshold elapses with no traffic.
func NewLiveness(config LivenessConfig, sendHeartbeat func() error, onStale func()) *Liveness {
	if config.Threshold <= 0 {
		config.Threshold = TunnelLivenessThreshold
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = HeartbeatInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Liveness{
		config:        config,
		sendHeartbeat: sendHeartbeat,
		onStale:       onStale,
		stopCh:        make(chan struct{}),
	}
}

// Touch records activity. Called on any successful send or receive.
func (l *Liveness) Touch() {
	l.mu.Lock()
	l.lastActivity = l.config.Now()
	l.mu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (l *Liveness) LastActivity() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastActivity
}

// Start begins heartbeat emission and staleness checking.
func (l *Liveness) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.lastActivity = l.config.Now()
	l.mu.Unlock()

	go l.loop()
}

// Stop cancels the monitor. Safe to call more than once.
func (l *Liveness) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stopCh)
}

// loop drives heartbeat emission and staleness checks from one ticker.
// The check period is the smaller of the heartbeat interval and half
// the threshold, so a stale connection is detected promptly.
func (l *Liveness) loop() {
	period := l.config.HeartbeatInterval
	if half := l.config.Threshold / 2; half < period {
		period = half
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastBeat := l.config.Now()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			now := l.config.Now()

			l.mu.Lock()
			idle := now.Sub(l.lastActivity)
			l.mu.Unlock()

			if idle > l.config.Threshold {
				l.Stop()
				if l.onStale != nil {
					l.onStale()
				}
				return
			}

			if now.Sub(lastBeat) >= l.config.HeartbeatInterval {
				lastBeat = now
				if l.sendHeartbeat != nil {
					// A failed heartbeat send is not fatal here; the
					// socket error surfaces in the read loop.
					_ = l.sendHeartbeat()
				}
			}
		}
	}
}
