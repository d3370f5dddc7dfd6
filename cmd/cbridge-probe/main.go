// Command cbridge-probe impersonates the control surface for manual
// testing: it dials a running cbridge-host, completes the handshake
// and offers an interactive prompt for sending control messages.
//
// Usage:
//
//	cbridge-probe [flags]
//
// Flags:
//
//	-addr string  Host address to dial (default "127.0.0.1:9621")
//	-name string  Probe display name (default "cbridge-probe")
//
// Examples:
//
//	# Poke a locally running host through the tunnel port
//	cbridge-probe
//
//	# Target a host on the LAN
//	cbridge-probe -addr 192.168.1.10:9621 -name Deck
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
)

var flags struct {
	addr string
	name string
}

func init() {
	flag.StringVar(&flags.addr, "addr", fmt.Sprintf("127.0.0.1:%d", transport.DefaultTunnelPort), "Host address to dial")
	flag.StringVar(&flags.name, "name", "cbridge-probe", "Probe display name")
}

func main() {
	flag.Parse()

	netConn, err := net.DialTimeout("tcp", flags.addr, 5*time.Second)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", flags.addr, err)
	}

	probe, err := newProbe(netConn)
	if err != nil {
		log.Fatalf("Failed to start probe: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		probe.Close()
		os.Exit(0)
	}()

	probe.Run()
}
