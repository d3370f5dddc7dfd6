package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/discovery"
	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/midi"
	"github.com/cbridge-protocol/cbridge-go/pkg/security"
	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// Errors returned by the coordinator.
var (
	ErrNoRoute        = errors.New("bridge: no active transport")
	ErrAlreadyStarted = errors.New("bridge: already started")
)

// Quality is the coarse link state surfaced to the UI layer.
type Quality int

const (
	// QualityDisconnected means no transport is up or trying.
	QualityDisconnected Quality = iota

	// QualityConnecting means at least one transport is establishing.
	QualityConnecting

	// QualityConnected means the tunnel carries traffic.
	QualityConnected

	// QualityDegraded means only the LAN path carries traffic.
	QualityDegraded
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityDisconnected:
		return "disconnected"
	case QualityConnecting:
		return "connecting"
	case QualityConnected:
		return "connected"
	case QualityDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config configures the coordinator.
type Config struct {
	// Gate screens every inbound frame. Nil installs a gate with
	// default budgets.
	Gate *security.Gate

	// Sink receives validated control messages. Nil discards them.
	Sink midi.Sink

	// Source, when set, produces DAW events to forward to the device.
	Source midi.Source

	// Logger receives coordination trace events.
	Logger log.Logger

	// GCInterval paces gate ledger collection (default one minute).
	GCInterval time.Duration

	// OnQuality, when set, is invoked on every quality change.
	OnQuality func(Quality)

	// OnMessage, when set, observes every accepted inbound message
	// after the sink dispatch.
	OnMessage func(transportName string, msg wire.Message)
}

// kicker is satisfied by transports that accept a peer-availability
// signal.
type kicker interface {
	Kick()
}

// statser is satisfied by transports that expose connection counters.
type statser interface {
	Stats() transport.Stats
}

type eventKind int

const (
	evState eventKind = iota
	evFrame
	evError
)

type coordEvent struct {
	kind      eventKind
	transport string
	connID    string
	oldState  transport.State
	newState  transport.State
	reason    transport.Reason
	frame     []byte
	err       error
}

// Coordinator owns both transports and arbitrates between them. The
// tunnel strictly preempts the LAN path: when the tunnel goes Active
// any LAN connection is torn down, and while the LAN path is Active
// the tunnel is not restarted until the LAN drops. All arbitration
// runs on a single event loop, so transport callbacks never race each
// other.
type Coordinator struct {
	tunnel transport.Transport
	lan    transport.Transport
	config Config
	gate   *security.Gate
	sink   midi.Sink

	events   chan coordEvent
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sourceCancel context.CancelFunc

	mu      sync.Mutex
	active  string
	quality Quality
	started bool
}

var _ transport.Handler = (*Coordinator)(nil)

// New creates a coordinator over the two transports. Both must have
// been constructed with the coordinator as their handler; the cmd
// wiring does this in two steps.
func New(tunnel, lan transport.Transport, config Config) *Coordinator {
	if config.Gate == nil {
		config.Gate = security.NewGate(security.DefaultGateConfig())
	}
	if config.Sink == nil {
		config.Sink = midi.NullSink{}
	}
	if config.GCInterval <= 0 {
		config.GCInterval = security.DefaultGCInterval
	}

	return &Coordinator{
		tunnel:  tunnel,
		lan:     lan,
		config:  config,
		gate:    config.Gate,
		sink:    config.Sink,
		events:  make(chan coordEvent, 1024),
		stopCh:  make(chan struct{}),
		quality: QualityDisconnected,
	}
}

// Gate returns the ingress gate, for wiring the tunnel's accept check.
func (c *Coordinator) Gate() *security.Gate { return c.gate }

// Start brings up both transports and the arbitration loop.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.tunnel.Start(); err != nil && err != transport.ErrAlreadyStarted {
		return err
	}
	if err := c.lan.Start(); err != nil && err != transport.ErrAlreadyStarted {
		return err
	}

	c.setQuality()

	c.wg.Add(1)
	go c.run()

	if c.config.Source != nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.sourceCancel = cancel
		c.wg.Add(1)
		go c.pumpSource(ctx)
	}
	return nil
}

// Stop tears down both transports and the loop. Safe to call more
// than once.
func (c *Coordinator) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()

		if c.sourceCancel != nil {
			c.sourceCancel()
		}
		close(c.stopCh)
		_ = c.tunnel.Stop()
		_ = c.lan.Stop()
		c.wg.Wait()

		c.mu.Lock()
		c.active = ""
		c.quality = QualityDisconnected
		c.mu.Unlock()
	})
	return nil
}

// Send delivers one message to the device. The active transport
// carries it; with no arbitration winner, any transport that happens
// to be Active is probed tunnel-first. With no route at all the
// message is dropped and the caller told.
func (c *Coordinator) Send(msg wire.Message) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if t := c.byName(active); t != nil && t.State() == transport.StateActive {
		if err := t.Send(msg); err == nil {
			return nil
		}
	}

	for _, t := range []transport.Transport{c.tunnel, c.lan} {
		if t.State() != transport.StateActive {
			continue
		}
		if err := t.Send(msg); err == nil {
			return nil
		}
	}

	c.logDrop("no-route", msg.Type())
	return ErrNoRoute
}

// Quality returns the current coarse link state.
func (c *Coordinator) Quality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// ActiveTransport returns the arbitration winner's name, "" when none.
func (c *Coordinator) ActiveTransport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stats returns per-transport connection counters for transports that
// expose them.
func (c *Coordinator) Stats() map[string]transport.Stats {
	out := make(map[string]transport.Stats)
	for _, t := range []transport.Transport{c.tunnel, c.lan} {
		if s, ok := t.(statser); ok {
			out[t.Name()] = s.Stats()
		}
	}
	return out
}

// DeviceAttached signals that the cable came up. The tunnel is started
// if it was parked and its backoff is cancelled so the next attempt
// runs immediately.
func (c *Coordinator) DeviceAttached() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	if err := c.tunnel.Start(); err != nil && err != transport.ErrAlreadyStarted {
		c.logError(err)
	}
	if k, ok := c.tunnel.(kicker); ok {
		k.Kick()
	}
}

// DeviceDetached signals that the cable went away. Nothing is torn
// down eagerly; liveness notices a dead link soon enough and the
// listener survives a bounce.
func (c *Coordinator) DeviceDetached() {}

// ServiceFound signals that the peer appeared on the network. Any
// pending LAN backoff is cancelled.
func (c *Coordinator) ServiceFound() {
	if k, ok := c.lan.(kicker); ok {
		k.Kick()
	}
}

// OnFrame implements transport.Handler: frames are queued onto the
// coordination loop for screening and dispatch.
func (c *Coordinator) OnFrame(transportName, connID string, data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)
	c.enqueue(coordEvent{kind: evFrame, transport: transportName, connID: connID, frame: frame})
}

// OnStateChange implements transport.Handler.
func (c *Coordinator) OnStateChange(transportName string, oldState, newState transport.State, reason transport.Reason) {
	c.enqueue(coordEvent{
		kind:      evState,
		transport: transportName,
		oldState:  oldState,
		newState:  newState,
		reason:    reason,
	})
}

// OnError implements transport.Handler.
func (c *Coordinator) OnError(transportName string, err error) {
	c.enqueue(coordEvent{kind: evError, transport: transportName, err: err})
}

// enqueue never blocks: a wedged loop must not stall a transport's
// read goroutine. Overflow is dropped and counted locally.
func (c *Coordinator) enqueue(ev coordEvent) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
	default:
		c.logDrop("event-overflow", "")
	}
}

// run is the arbitration loop. It is the only goroutine that mutates
// the active-transport choice.
func (c *Coordinator) run() {
	defer c.wg.Done()

	gc := time.NewTicker(c.config.GCInterval)
	defer gc.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-gc.C:
			c.gate.GC()
		case ev := <-c.events:
			switch ev.kind {
			case evState:
				c.handleStateChange(ev)
			case evFrame:
				c.handleFrame(ev)
			case evError:
				c.logError(ev.err)
			}
		}
	}
}

// handleStateChange applies the preemption rules.
func (c *Coordinator) handleStateChange(ev coordEvent) {
	switch {
	case ev.newState == transport.StateActive:
		c.handleActivation(ev.transport)
	case ev.newState == transport.StateDisconnected:
		c.handleDrop(ev.transport, ev.reason)
	}
	c.setQuality()
}

func (c *Coordinator) handleActivation(name string) {
	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()

	if name == c.tunnel.Name() {
		// Tunnel preempts: tear the LAN path down and park its
		// scheduler until the tunnel drops.
		if prev == c.lan.Name() || c.lan.State() != transport.StateIdle {
			_ = c.lan.Stop()
		}
		c.setActive(name)
		return
	}

	// A LAN activation only wins while the tunnel is not Active.
	if c.tunnel.State() == transport.StateActive {
		_ = c.lan.Stop()
		return
	}

	// Park the tunnel listener: it stays down until the LAN drops, so
	// the two paths cannot oscillate.
	_ = c.tunnel.Stop()
	c.setActive(name)
}

func (c *Coordinator) handleDrop(name string, reason transport.Reason) {
	c.mu.Lock()
	wasActive := c.active == name
	started := c.started
	c.mu.Unlock()

	if !wasActive {
		return
	}
	c.setActive("")

	if !started || reason == transport.ReasonUser {
		return
	}

	// The surviving path resumes establishment. Restart tolerates a
	// transport that never stopped.
	var other transport.Transport
	if name == c.tunnel.Name() {
		other = c.lan
	} else {
		other = c.tunnel
	}
	if err := other.Start(); err != nil && err != transport.ErrAlreadyStarted {
		c.logError(err)
	}
	if k, ok := other.(kicker); ok {
		k.Kick()
	}
}

// handleFrame screens one inbound frame and dispatches the survivors.
func (c *Coordinator) handleFrame(ev coordEvent) {
	fingerprint := c.fingerprintFor(ev.transport)
	for _, msg := range c.gate.Screen(fingerprint, ev.frame) {
		c.dispatch(ev.transport, msg)
	}
}

// dispatch routes one accepted message to the MIDI sink.
func (c *Coordinator) dispatch(transportName string, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.CC:
		c.sink.HandleCC(m)
	case *wire.Note:
		c.sink.HandleNote(m)
	case *wire.Transport:
		c.sink.HandleTransport(m)
	}
	if c.config.OnMessage != nil {
		c.config.OnMessage(transportName, msg)
	}
}

// fingerprintFor derives the gate key from the carrying transport's
// remote address. The fingerprint is stable across reconnects from
// the same endpoint, so budgets survive connection churn.
func (c *Coordinator) fingerprintFor(name string) string {
	t := c.byName(name)
	if t == nil {
		return ""
	}
	return discovery.EndpointFingerprint(t.PeerAddr())
}

// pumpSource forwards DAW events to the device. Undeliverable events
// are dropped; there is no outbound queue.
func (c *Coordinator) pumpSource(ctx context.Context) {
	defer c.wg.Done()

	events := c.config.Source.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			_ = c.Send(msg)
		}
	}
}

func (c *Coordinator) byName(name string) transport.Transport {
	switch name {
	case c.tunnel.Name():
		return c.tunnel
	case c.lan.Name():
		return c.lan
	default:
		return nil
	}
}

func (c *Coordinator) setActive(name string) {
	c.mu.Lock()
	c.active = name
	c.mu.Unlock()
}

// setQuality recomputes the coarse link state and notifies on change.
func (c *Coordinator) setQuality() {
	q := c.computeQuality()

	c.mu.Lock()
	old := c.quality
	c.quality = q
	c.mu.Unlock()

	if q == old {
		return
	}

	if c.config.Logger != nil {
		c.config.Logger.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerCoordinator,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				OldState: old.String(),
				NewState: q.String(),
			},
		})
	}
	if c.config.OnQuality != nil {
		c.config.OnQuality(q)
	}
}

func (c *Coordinator) computeQuality() Quality {
	tunnelState := c.tunnel.State()
	lanState := c.lan.State()

	switch {
	case tunnelState == transport.StateActive:
		return QualityConnected
	case lanState == transport.StateActive:
		return QualityDegraded
	case tunnelState != transport.StateIdle && tunnelState != transport.StateDisconnected:
		return QualityConnecting
	case lanState != transport.StateIdle && lanState != transport.StateDisconnected:
		return QualityConnecting
	default:
		return QualityDisconnected
	}
}

func (c *Coordinator) logDrop(reason, msgType string) {
	if c.config.Logger == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerCoordinator,
		Category:  log.CategoryDrop,
		Drop:      &log.DropEvent{Reason: reason, MessageType: msgType},
	})
}

func (c *Coordinator) logError(err error) {
	if c.config.Logger == nil || err == nil {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerCoordinator,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerCoordinator,
			Message: err.Error(),
		},
	})
}
