package transport

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func testTunnelConfig() TunnelConfig {
	return TunnelConfig{
		Port:      0, // ephemeral
		LocalName: "StudioHost",
		Liveness: LivenessConfig{
			Threshold:         time.Hour,
			HeartbeatInterval: time.Hour,
		},
		Batch: DefaultBatchConfig(),
	}
}

// dialTunnel connects to the tunnel's bound port and completes the
// handshake, returning the raw socket and a reader positioned after the
// response line.
func dialTunnel(t *testing.T, tun *Tunnel) (net.Conn, *bufio.Reader) {
	t.Helper()

	var addr net.Addr
	waitFor(t, 2*time.Second, func() bool {
		addr = tun.Addr()
		return addr != nil
	})

	sock, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	if _, err := sock.Write([]byte("CB/2 name=Deck.local\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	reader := bufio.NewReader(sock)
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if !strings.HasPrefix(reply, "OK/2") {
		t.Fatalf("handshake response = %q", reply)
	}
	return sock, reader
}

func TestTunnelAcceptsAndHandshakes(t *testing.T) {
	handler := newChanHandler()
	tun := NewTunnel(testTunnelConfig(), handler)

	if err := tun.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tun.Stop()

	sock, _ := dialTunnel(t, tun)
	defer sock.Close()

	handler.waitState(t, StateActive)
	if tun.State() != StateActive {
		t.Errorf("state = %v, want ACTIVE", tun.State())
	}
	if got := tun.PeerName(); got != "Deck" {
		t.Errorf("peer name = %q, want %q", got, "Deck")
	}
	if tun.ConnectionID() == "" {
		t.Error("ConnectionID empty while active")
	}
}

func TestTunnelDeliversInboundFrames(t *testing.T) {
	handler := newChanHandler()
	tun := NewTunnel(testTunnelConfig(), handler)
	if err := tun.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tun.Stop()

	sock, _ := dialTunnel(t, tun)
	defer sock.Close()
	handler.waitState(t, StateActive)

	if _, err := sock.Write([]byte(`{"type":"transport","action":"play"}` + "\n")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case frame := <-handler.frames:
		if !strings.Contains(string(frame), `"play"`) {
			t.Errorf("frame = %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestTunnelNewAcceptReplacesConnection(t *testing.T) {
	handler := newChanHandler()
	tun := NewTunnel(testTunnelConfig(), handler)
	if err := tun.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tun.Stop()

	first, _ := dialTunnel(t, tun)
	defer first.Close()
	handler.waitState(t, StateActive)
	firstID := tun.ConnectionID()

	// A fresh socket on the same port models a cable bounce: the
	// forwarder reconnects and the new session wins.
	second, _ := dialTunnel(t, tun)
	defer second.Close()

	waitFor(t, 2*time.Second, func() bool {
		id := tun.ConnectionID()
		return id != "" && id != firstID && tun.State() == StateActive
	})
}

func TestTunnelStopSuppressesRestart(t *testing.T) {
	handler := newChanHandler()
	tun := NewTunnel(testTunnelConfig(), handler)
	if err := tun.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sock, _ := dialTunnel(t, tun)
	defer sock.Close()
	handler.waitState(t, StateActive)

	addr := tun.Addr()
	if err := tun.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if tun.State() != StateIdle {
		t.Errorf("state after Stop = %v, want IDLE", tun.State())
	}

	// The port must be released and stay released.
	time.Sleep(50 * time.Millisecond)
	if _, err := net.DialTimeout("tcp", addr.String(), 200*time.Millisecond); err == nil {
		t.Error("tunnel still accepting after Stop")
	}
}

func TestTunnelStartStopStart(t *testing.T) {
	handler := newChanHandler()
	tun := NewTunnel(testTunnelConfig(), handler)

	if err := tun.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := tun.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start: err = %v, want ErrAlreadyStarted", err)
	}
	if err := tun.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := tun.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer tun.Stop()

	sock, _ := dialTunnel(t, tun)
	sock.Close()
}
