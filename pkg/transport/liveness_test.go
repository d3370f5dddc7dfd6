package transport

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLivenessHeartbeatEmission(t *testing.T) {
	var beats atomic.Int32

	l := NewLiveness(LivenessConfig{
		Threshold:         time.Hour,
		HeartbeatInterval: 10 * time.Millisecond,
	}, func() error {
		beats.Add(1)
		return nil
	}, nil)

	l.Start()
	defer l.Stop()

	waitFor(t, time.Second, func() bool { return beats.Load() >= 3 })
}

func TestLivenessStaleAfterSilence(t *testing.T) {
	staleCh := make(chan struct{})

	l := NewLiveness(LivenessConfig{
		Threshold:         30 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}, nil, func() {
		close(staleCh)
	})

	l.Start()
	defer l.Stop()

	select {
	case <-staleCh:
	case <-time.After(time.Second):
		t.Fatal("stale callback never fired")
	}
}

func TestLivenessActivityDefersStale(t *testing.T) {
	staleCh := make(chan struct{})

	l := NewLiveness(LivenessConfig{
		Threshold:         60 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}, nil, func() {
		close(staleCh)
	})

	l.Start()
	defer l.Stop()

	// Keep touching for longer than the threshold; staleness must not
	// fire while traffic flows.
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		l.Touch()
		select {
		case <-staleCh:
			t.Fatal("declared stale despite activity")
		default:
		}
	}

	// Now go silent and it must fire.
	select {
	case <-staleCh:
	case <-time.After(time.Second):
		t.Fatal("stale callback never fired after silence")
	}
}

func TestLivenessStopSuppressesCallbacks(t *testing.T) {
	var beats atomic.Int32
	staleCh := make(chan struct{}, 1)

	l := NewLiveness(LivenessConfig{
		Threshold:         20 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	}, func() error {
		beats.Add(1)
		return nil
	}, func() {
		staleCh <- struct{}{}
	})

	l.Start()
	l.Stop()
	// Idempotent.
	l.Stop()

	// Let any in-progress tick drain before sampling.
	time.Sleep(10 * time.Millisecond)
	settled := beats.Load()
	time.Sleep(60 * time.Millisecond)

	if beats.Load() > settled {
		t.Error("heartbeats continued after Stop")
	}
	select {
	case <-staleCh:
		t.Error("stale fired after Stop")
	default:
	}
}
