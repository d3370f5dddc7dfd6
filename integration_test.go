package cbridge_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbridge-protocol/cbridge-go/pkg/bridge"
	"github.com/cbridge-protocol/cbridge-go/pkg/connection"
	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
	"github.com/cbridge-protocol/cbridge-go/pkg/midi"
	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// fastBackoff keeps retry pacing out of test runtimes.
func fastBackoff() *connection.Backoff {
	return connection.NewBackoffWithConfig(connection.BackoffConfig{
		Short:  time.Millisecond,
		Medium: time.Millisecond,
		Long:   time.Millisecond,
	})
}

// testStack wires a coordinator over a real ephemeral-port tunnel and a
// real LAN transport, the way cmd/cbridge-host does.
func testStack(t *testing.T, resolver transport.Resolver, sink midi.Sink) (*bridge.Coordinator, *transport.Tunnel, *transport.LAN) {
	t.Helper()

	proxy := &bridge.HandlerProxy{}
	tun := transport.NewTunnel(transport.TunnelConfig{
		LocalName: "StudioHost",
		Backoff:   fastBackoff(),
	}, proxy)
	lan := transport.NewLAN(transport.LANConfig{
		Resolver:  resolver,
		LocalName: "StudioHost",
		Backoff:   fastBackoff(),
	}, proxy)

	coord := bridge.New(tun, lan, bridge.Config{Sink: sink})
	proxy.Set(coord)
	require.NoError(t, coord.Start())
	t.Cleanup(func() { _ = coord.Stop() })
	return coord, tun, lan
}

// parkedResolver never finds a peer.
func parkedResolver() transport.Resolver {
	return transport.ResolverFunc(func(ctx context.Context) (string, string, error) {
		<-ctx.Done()
		return "", "", ctx.Err()
	})
}

// dialAsDevice connects to the tunnel port and completes the handshake
// the way the control surface does.
func dialAsDevice(t *testing.T, tun *transport.Tunnel) (net.Conn, *bufio.Reader) {
	t.Helper()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = tun.Addr()
		return addr != nil
	}, time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = fmt.Fprintf(conn, "CB/%d name=Deck\n", handshake.CurrentMajor)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "OK/"), "unexpected handshake reply %q", line)
	return conn, reader
}

// lanPeer is a minimal device-side LAN listener: it answers the
// handshake and swallows everything else.
type lanPeer struct {
	listener net.Listener

	mu     sync.Mutex
	closed bool
	drops  int
}

func newLANPeer(t *testing.T) *lanPeer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &lanPeer{listener: listener}
	go p.serve()
	t.Cleanup(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		_ = listener.Close()
	})
	return p
}

func (p *lanPeer) addr() string { return p.listener.Addr().String() }

func (p *lanPeer) dropCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drops
}

func (p *lanPeer) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		go p.serveConn(conn)
	}
}

func (p *lanPeer) serveConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		p.mu.Lock()
		if !p.closed {
			p.drops++
		}
		p.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		req, err := handshake.ParseRequest(scanner.Text())
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(conn, "%s\n", handshake.BuildResponse(req)); err != nil {
			return
		}
		break
	}
	for scanner.Scan() {
	}
}

func TestE2E_TunnelDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	sink := midi.NewChanSink(16)
	coord, tun, _ := testStack(t, parkedResolver(), sink)

	conn, _ := dialAsDevice(t, tun)

	require.Eventually(t, func() bool {
		return coord.Quality() == bridge.QualityConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, transport.TunnelName, coord.ActiveTransport())
	assert.Equal(t, "Deck", tun.PeerName())

	_, err := fmt.Fprintln(conn, `{"type":"midi_cc","channel":1,"cc":7,"value":64}`)
	require.NoError(t, err)

	select {
	case msg := <-sink.CC:
		assert.Equal(t, 64, msg.Value)
		assert.Equal(t, 7, msg.Number)
	case <-time.After(2 * time.Second):
		t.Fatal("CC never reached the sink")
	}
}

func TestE2E_HostToDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	coord, tun, _ := testStack(t, parkedResolver(), midi.NullSink{})
	_, reader := dialAsDevice(t, tun)

	require.Eventually(t, func() bool {
		return coord.Quality() == bridge.QualityConnected
	}, 2*time.Second, 5*time.Millisecond)

	event, err := wire.NewMIDIInput(0xB0, 7, 100)
	require.NoError(t, err)
	require.NoError(t, coord.Send(event))

	// The device sees the event on the wire, possibly preceded by
	// heartbeats or wrapped in a batch.
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "midi_input never arrived")
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, `"midi_input"`) {
			return
		}
	}
}

func TestE2E_TunnelPreemptsLAN(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	peer := newLANPeer(t)
	resolver := transport.ResolverFunc(func(ctx context.Context) (string, string, error) {
		return peer.addr(), "Deck", nil
	})

	coord, tun, lan := testStack(t, resolver, midi.NullSink{})

	// The LAN path comes up first.
	require.Eventually(t, func() bool {
		return coord.Quality() == bridge.QualityDegraded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, transport.LANName, coord.ActiveTransport())

	// Cable attach: the parked tunnel restarts, the device connects
	// through it and preempts the LAN connection.
	coord.DeviceAttached()
	dialAsDevice(t, tun)

	require.Eventually(t, func() bool {
		return coord.Quality() == bridge.QualityConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, transport.TunnelName, coord.ActiveTransport())

	require.Eventually(t, func() bool {
		return lan.State() == transport.StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return peer.dropCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)
}
