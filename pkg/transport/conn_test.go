package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// chanHandler exposes transport events as channels for tests.
type chanHandler struct {
	frames chan []byte
	states chan stateTransition
	errs   chan error
}

type stateTransition struct {
	old    State
	new    State
	reason Reason
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		frames: make(chan []byte, 64),
		states: make(chan stateTransition, 64),
		errs:   make(chan error, 64),
	}
}

func (h *chanHandler) OnFrame(_, _ string, data []byte) {
	h.frames <- append([]byte(nil), data...)
}

func (h *chanHandler) OnStateChange(_ string, oldState, newState State, reason Reason) {
	h.states <- stateTransition{old: oldState, new: newState, reason: reason}
}

func (h *chanHandler) OnError(_ string, err error) {
	h.errs <- err
}

// waitState blocks until the handler reports a transition to want.
func (h *chanHandler) waitState(t *testing.T, want State) stateTransition {
	t.Helper()
	for {
		select {
		case tr := <-h.states:
			if tr.new == want {
				return tr
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never reached state %v", want)
		}
	}
}

func testConnConfig(role Role) ConnConfig {
	return ConnConfig{
		Transport:        TunnelName,
		Role:             role,
		LocalName:        "StudioHost",
		HandshakeTimeout: time.Second,
		Liveness: LivenessConfig{
			Threshold:         time.Hour,
			HeartbeatInterval: time.Hour,
		},
		Batch: DefaultBatchConfig(),
	}
}

func TestConnResponderHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	handler := newChanHandler()
	conn := NewConn(testConnConfig(RoleResponder), server, handler)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	if _, err := client.Write([]byte("CB/2 auth=none name=Deck.local\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if strings.TrimRight(reply, "\n") != "OK/2 hmac=" {
		t.Errorf("response = %q, want %q", reply, "OK/2 hmac=")
	}

	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if conn.State() != StateActive {
		t.Errorf("state = %v, want ACTIVE", conn.State())
	}
	if got := conn.PeerName(); got != "Deck" {
		t.Errorf("peer name = %q, want %q (.local stripped)", got, "Deck")
	}
}

func TestConnResponderLegacyHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn := NewConn(testConnConfig(RoleResponder), server, newChanHandler())
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	if _, err := client.Write([]byte("CB/1 HELLO\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if strings.TrimRight(reply, "\n") != "CB/1 HELLO_ACK" {
		t.Errorf("response = %q, want %q", reply, "CB/1 HELLO_ACK")
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestConnResponderDropsNonHandshakeLines(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn := NewConn(testConnConfig(RoleResponder), server, newChanHandler())
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	// Noise before the real request must be ignored, not fatal.
	lines := []string{
		`{"type":"midi_cc","channel":1,"cc":7,"value":64}`,
		"GET / HTTP/1.1",
		"CB/2 name=Deck",
	}
	for _, line := range lines {
		if _, err := client.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !strings.HasPrefix(reply, "OK/2") {
		t.Errorf("response = %q, want OK/2 prefix", reply)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestConnInitiatorHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	config := testConnConfig(RoleInitiator)
	config.Auth = "none"
	conn := NewConn(config, client, newChanHandler())
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	reader := bufio.NewReader(server)
	request, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if !strings.HasPrefix(request, "CB/2 ") {
		t.Errorf("request = %q, want CB/2 prefix", request)
	}
	if !strings.Contains(request, "name=StudioHost") {
		t.Errorf("request %q carries no name", request)
	}

	if _, err := server.Write([]byte("OK/2 hmac=\n")); err != nil {
		t.Fatalf("write response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if conn.State() != StateActive {
		t.Errorf("state = %v, want ACTIVE", conn.State())
	}
}

func TestConnHandshakeTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	config := testConnConfig(RoleResponder)
	config.HandshakeTimeout = 50 * time.Millisecond
	conn := NewConn(config, server, newChanHandler())

	start := time.Now()
	err := conn.Start()
	if err == nil {
		t.Fatal("Start succeeded with a silent peer")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", conn.State())
	}
	if conn.DisconnectReason() != ReasonError {
		t.Errorf("reason = %v, want ERROR", conn.DisconnectReason())
	}
}

func TestConnDeliversFramesConsumesHeartbeats(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	handler := newChanHandler()
	conn := NewConn(testConnConfig(RoleResponder), server, handler)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	clientReader := bufio.NewReader(client)
	if _, err := client.Write([]byte("CB/2 name=Deck\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := clientReader.ReadString('\n'); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Heartbeats are transport plumbing; they never reach the handler.
	if _, err := client.Write([]byte(`{"type":"heartbeat","timestamp":1700000000}` + "\n")); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	if _, err := client.Write([]byte(`{"type":"midi_cc","channel":1,"cc":7,"value":64}` + "\n")); err != nil {
		t.Fatalf("write cc: %v", err)
	}

	select {
	case frame := <-handler.frames:
		typ, err := wire.PeekType(frame)
		if err != nil {
			t.Fatalf("PeekType failed: %v", err)
		}
		if typ != wire.TypeCC {
			t.Errorf("delivered frame type = %q, want %q (heartbeat leaked?)", typ, wire.TypeCC)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestConnSendBatchesMessages(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn := NewConn(testConnConfig(RoleResponder), server, newChanHandler())
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	clientReader := bufio.NewReader(client)
	if _, err := client.Write([]byte("CB/2 name=Deck\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := clientReader.ReadString('\n'); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < DefaultBatchSize; i++ {
		msg, err := wire.NewCC(1, 7, i)
		if err != nil {
			t.Fatalf("NewCC failed: %v", err)
		}
		if err := conn.Send(msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	// All five arrive, possibly split across frames if the 10ms timer
	// won the race with the size trigger.
	received := 0
	sawBatch := false
	for received < DefaultBatchSize {
		line, err := clientReader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		typ, err := wire.PeekType([]byte(line))
		if err != nil {
			t.Fatalf("PeekType failed: %v", err)
		}
		if typ == wire.TypeBatch {
			var batch wire.Batch
			if err := json.Unmarshal([]byte(line), &batch); err != nil {
				t.Fatalf("unmarshal batch: %v", err)
			}
			if batch.Count != len(batch.Messages) {
				t.Errorf("batch count = %d, messages = %d", batch.Count, len(batch.Messages))
			}
			received += len(batch.Messages)
			sawBatch = true
		} else {
			received++
		}
	}
	if !sawBatch {
		t.Error("no batch container seen for a multi-message burst")
	}

	stats := conn.Stats()
	if stats.MessagesSent != uint64(DefaultBatchSize) {
		t.Errorf("MessagesSent = %d, want %d", stats.MessagesSent, DefaultBatchSize)
	}
}

func TestConnSendBeforeActive(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewConn(testConnConfig(RoleResponder), server, newChanHandler())

	msg, err := wire.NewCC(1, 7, 64)
	if err != nil {
		t.Fatalf("NewCC failed: %v", err)
	}
	if err := conn.Send(msg); err != ErrNotActive {
		t.Errorf("Send before handshake: err = %v, want ErrNotActive", err)
	}
}

func TestConnStaleDisconnect(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	handler := newChanHandler()
	config := testConnConfig(RoleResponder)
	config.Liveness = LivenessConfig{
		Threshold:         50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}
	conn := NewConn(config, server, handler)

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	clientReader := bufio.NewReader(client)
	if _, err := client.Write([]byte("CB/2 name=Deck\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := clientReader.ReadString('\n'); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Go silent; the liveness threshold must force the disconnect.
	tr := handler.waitState(t, StateDisconnected)
	if tr.reason != ReasonStale {
		t.Errorf("disconnect reason = %v, want STALE", tr.reason)
	}
	if conn.DisconnectReason() != ReasonStale {
		t.Errorf("DisconnectReason = %v, want STALE", conn.DisconnectReason())
	}
}

func TestConnPeerCloseDisconnects(t *testing.T) {
	server, client := net.Pipe()

	handler := newChanHandler()
	conn := NewConn(testConnConfig(RoleResponder), server, handler)

	done := make(chan error, 1)
	go func() { done <- conn.Start() }()

	clientReader := bufio.NewReader(client)
	if _, err := client.Write([]byte("CB/2 name=Deck\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	if _, err := clientReader.ReadString('\n'); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client.Close()

	tr := handler.waitState(t, StateDisconnected)
	if tr.reason != ReasonError {
		t.Errorf("disconnect reason = %v, want ERROR", tr.reason)
	}
}
