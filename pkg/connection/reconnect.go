package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Reconnector errors.
var (
	ErrClosed         = errors.New("reconnector closed")
	ErrAlreadyRunning = errors.New("reconnect loop already running")
)

// ConnectFunc attempts to establish a connection. It returns nil once the
// connection has completed its handshake, or an error on failure.
type ConnectFunc func(ctx context.Context) error

// Reconnector drives repeated connection attempts with tiered backoff.
// One Reconnector belongs to exactly one transport.
type Reconnector struct {
	mu sync.Mutex

	backoff   *Backoff
	connectFn ConnectFunc

	// attemptTimeout bounds a single connection attempt.
	attemptTimeout time.Duration

	running   bool
	suspended bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// retryCh wakes a pending backoff wait for an immediate attempt.
	retryCh chan struct{}

	// onAttempt is called before each attempt with the attempt number
	// and the delay that preceded it.
	onAttempt func(attempt int, delay time.Duration)

	// onConnected is called after connectFn succeeds.
	onConnected func()
}

// NewReconnector creates a reconnector for the given connect function.
func NewReconnector(connectFn ConnectFunc) *Reconnector {
	return NewReconnectorWithBackoff(connectFn, NewBackoff())
}

// NewReconnectorWithBackoff creates a reconnector with a custom backoff,
// used by tests to shrink the tier delays.
func NewReconnectorWithBackoff(connectFn ConnectFunc, backoff *Backoff) *Reconnector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		backoff:        backoff,
		connectFn:      connectFn,
		attemptTimeout: 30 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		retryCh:        make(chan struct{}, 1),
	}
}

// OnAttempt sets a callback invoked before each connection attempt.
func (r *Reconnector) OnAttempt(fn func(attempt int, delay time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAttempt = fn
}

// OnConnected sets a callback invoked after a successful attempt.
func (r *Reconnector) OnConnected(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnected = fn
}

// Attempts returns the consecutive failure count.
func (r *Reconnector) Attempts() int {
	return r.backoff.Attempts()
}

// NoteSuccess resets the failure counter. Call on handshake completion.
func (r *Reconnector) NoteSuccess() {
	r.backoff.Reset()
}

// Suspend stops scheduling new attempts without closing the reconnector.
// Used for user-initiated disconnects, where automatic recovery must not
// fight an explicit stop.
func (r *Reconnector) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended = true
}

// Resume re-enables scheduling after Suspend.
func (r *Reconnector) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended = false
}

// Kick cancels any pending backoff wait so the next attempt runs
// immediately. Call when a peer-availability signal arrives (cable
// attached, service discovered). A kick while no wait is pending is
// remembered for the next wait.
func (r *Reconnector) Kick() {
	select {
	case r.retryCh <- struct{}{}:
	default:
		// A retry is already pending.
	}
}

// Start launches the reconnect loop. The loop runs until Close; each
// cycle waits out the current backoff delay (or a Kick) and then calls
// the connect function. Returns ErrAlreadyRunning if started twice.
func (r *Reconnector) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return ErrClosed
	}
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Close stops the loop and releases resources. Pending waits are cancelled.
func (r *Reconnector) Close() {
	r.cancel()
	r.wg.Wait()
}

// loop is the reconnect cycle. It never halts on its own: the schedule has
// no maximum attempt count, so a peer that sleeps for hours still gets a
// connection when it wakes.
func (r *Reconnector) loop() {
	defer r.wg.Done()

	for {
		// Wait for the first failure signal or kick before attempting.
		select {
		case <-r.ctx.Done():
			return
		case <-r.retryCh:
		}

		r.attemptUntilConnected()
	}
}

// attemptUntilConnected retries with backoff until one attempt succeeds
// or the reconnector is closed or suspended.
func (r *Reconnector) attemptUntilConnected() {
	for {
		r.mu.Lock()
		suspended := r.suspended
		onAttempt := r.onAttempt
		onConnected := r.onConnected
		r.mu.Unlock()

		if suspended || r.ctx.Err() != nil {
			return
		}

		attempt := r.backoff.Attempts() + 1
		delay := r.backoff.Peek()
		if onAttempt != nil {
			onAttempt(attempt, delay)
		}

		ctx, cancel := context.WithTimeout(r.ctx, r.attemptTimeout)
		err := r.connectFn(ctx)
		cancel()

		if err == nil {
			r.backoff.Reset()
			if onConnected != nil {
				onConnected()
			}
			return
		}

		delay = r.backoff.Next()

		timer := time.NewTimer(delay)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-r.retryCh:
			// Peer became available; retry immediately.
			timer.Stop()
		case <-timer.C:
		}
	}
}
