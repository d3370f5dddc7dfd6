package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
	"github.com/cbridge-protocol/cbridge-go/pkg/wire"
)

// probe drives one connection to the host. It reuses the production
// connection core as the handshake initiator, so batching, liveness
// and heartbeats behave exactly as the real device's do.
type probe struct {
	conn *transport.Conn
	rl   *readline.Instance
}

func newProbe(netConn net.Conn) (*probe, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	p := &probe{rl: rl}
	p.conn = transport.NewConn(transport.ConnConfig{
		Transport: "probe",
		Role:      transport.RoleInitiator,
		LocalName: flags.name,
	}, netConn, p)

	if err := p.conn.Start(); err != nil {
		rl.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	fmt.Fprintf(rl.Stdout(), "Connected to %s as %q\n", netConn.RemoteAddr(), flags.name)
	return p, nil
}

// Close tears the connection and prompt down.
func (p *probe) Close() {
	p.conn.Close()
	p.rl.Close()
}

// Run is the interactive command loop.
func (p *probe) Run() {
	defer p.Close()

	p.printHelp()

	for {
		line, err := p.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(p.rl.Stdout(), "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			p.printHelp()

		case "cc":
			p.cmdCC(args)

		case "note":
			p.cmdNote(args)

		case "play", "stop", "record":
			p.cmdTransport(cmd)

		case "flood":
			p.cmdFlood(args)

		case "status":
			p.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(p.rl.Stdout(), "Exiting...")
			return

		default:
			fmt.Fprintf(p.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (p *probe) cmdCC(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(p.rl.Stdout(), "Usage: cc <channel> <number> <value>")
		return
	}
	channel, number, value, ok := p.threeInts(args)
	if !ok {
		return
	}
	msg, err := wire.NewCC(channel, number, value)
	if err != nil {
		fmt.Fprintf(p.rl.Stdout(), "Invalid CC: %v\n", err)
		return
	}
	p.send(msg)
}

func (p *probe) cmdNote(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(p.rl.Stdout(), "Usage: note <channel> <number> <velocity>")
		return
	}
	channel, number, velocity, ok := p.threeInts(args)
	if !ok {
		return
	}
	msg, err := wire.NewNote(channel, number, velocity)
	if err != nil {
		fmt.Fprintf(p.rl.Stdout(), "Invalid note: %v\n", err)
		return
	}
	p.send(msg)
}

func (p *probe) cmdTransport(action string) {
	msg, err := wire.NewTransport(action)
	if err != nil {
		fmt.Fprintf(p.rl.Stdout(), "Invalid transport action: %v\n", err)
		return
	}
	p.send(msg)
}

// cmdFlood hammers the host with CC messages. Useful for watching the
// ingress rate limiter engage.
func (p *probe) cmdFlood(args []string) {
	count := 300
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(p.rl.Stdout(), "Usage: flood [count]")
			return
		}
		count = n
	}

	for i := 0; i < count; i++ {
		msg, _ := wire.NewCC(1, 7, i%128)
		if err := p.conn.Send(msg); err != nil {
			fmt.Fprintf(p.rl.Stdout(), "Send failed after %d messages: %v\n", i, err)
			return
		}
	}
	p.conn.Flush()
	fmt.Fprintf(p.rl.Stdout(), "Sent %d CC messages\n", count)
}

func (p *probe) cmdStatus() {
	stats := p.conn.Stats()
	fmt.Fprintf(p.rl.Stdout(), "State:     %s\n", p.conn.State())
	fmt.Fprintf(p.rl.Stdout(), "Sent:      %d\n", stats.MessagesSent)
	fmt.Fprintf(p.rl.Stdout(), "Received:  %d\n", stats.MessagesReceived)
	fmt.Fprintf(p.rl.Stdout(), "Flushes:   %d\n", stats.Flushes)
	fmt.Fprintf(p.rl.Stdout(), "Up since:  %s\n", stats.EstablishedAt.Format("15:04:05"))
}

func (p *probe) send(msg wire.Message) {
	if err := p.conn.Send(msg); err != nil {
		fmt.Fprintf(p.rl.Stdout(), "Send failed: %v\n", err)
		return
	}
	p.conn.Flush()
}

func (p *probe) threeInts(args []string) (int, int, int, bool) {
	vals := make([]int, 3)
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			fmt.Fprintf(p.rl.Stdout(), "Not a number: %s\n", arg)
			return 0, 0, 0, false
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], true
}

func (p *probe) printHelp() {
	fmt.Fprintln(p.rl.Stdout(), `
cbridge-probe commands:
  cc <channel> <number> <value>     - Send a control change
  note <channel> <number> <velocity> - Send a note
  play | stop | record              - Send a transport action
  flood [count]                     - Burst CC messages (default 300)
  status                            - Show connection counters
  help, ?                           - This help
  quit, exit, q                     - Leave`)
}

// OnFrame prints inbound messages from the host.
func (p *probe) OnFrame(transportName, connID string, data []byte) {
	decoded, err := wire.Decode(data)
	if err != nil {
		fmt.Fprintf(p.rl.Stdout(), "<- undecodable frame: %v\n", err)
		return
	}

	messages := []wire.Message{decoded}
	if batch, ok := decoded.(*wire.Batch); ok {
		inner, _, err := batch.Explode()
		if err != nil {
			fmt.Fprintf(p.rl.Stdout(), "<- bad batch: %v\n", err)
			return
		}
		messages = inner
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case *wire.MIDIInput:
			fmt.Fprintf(p.rl.Stdout(), "<- midi %v\n", m.MIDI)
		default:
			fmt.Fprintf(p.rl.Stdout(), "<- %s\n", msg.Type())
		}
	}
}

// OnStateChange reports connection lifecycle changes.
func (p *probe) OnStateChange(transportName string, oldState, newState transport.State, reason transport.Reason) {
	if newState == transport.StateDisconnected {
		fmt.Fprintf(p.rl.Stdout(), "Disconnected (%s)\n", reason)
	}
}

// OnError reports read failures.
func (p *probe) OnError(transportName string, err error) {
	fmt.Fprintf(p.rl.Stdout(), "Connection error: %v\n", err)
}

var _ transport.Handler = (*probe)(nil)
