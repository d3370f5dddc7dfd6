// Command cbridge-host is the DAW-side coordination daemon.
//
// It owns both paths to the control surface:
//   - USB tunnel: a fixed loopback TCP port the platform forwarder
//     targets; the device connects through it and the tunnel strictly
//     preempts the LAN path.
//   - LAN: mDNS discovery of the device's advertised service plus a
//     direct TCP connection, used when no cable is attached.
//
// Validated control messages are handed to the MIDI engine; DAW
// feedback flows back to the device over whichever path is active.
//
// Usage:
//
//	cbridge-host [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-name string       Host display name (overrides config)
//	-port int          Tunnel listen port (overrides config)
//	-log-level string  Console log level: debug, info, warn, error
//	-log-file string   CBOR trace log path (overrides config)
//	-no-lan            Disable discovery and the LAN path
//
// Examples:
//
//	# Defaults: tunnel on 127.0.0.1:9621, LAN discovery on
//	cbridge-host
//
//	# Custom config with a trace log
//	cbridge-host -config /etc/cbridge/host.yaml -log-file /var/log/cbridge/trace.cbor
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbridge-protocol/cbridge-go/pkg/bridge"
	"github.com/cbridge-protocol/cbridge-go/pkg/config"
	"github.com/cbridge-protocol/cbridge-go/pkg/discovery"
	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
	"github.com/cbridge-protocol/cbridge-go/pkg/log"
	"github.com/cbridge-protocol/cbridge-go/pkg/security"
	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
)

var flags struct {
	configFile string
	name       string
	port       int
	logLevel   string
	logFile    string
	noLAN      bool
}

func init() {
	flag.StringVar(&flags.configFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.name, "name", "", "Host display name (overrides config)")
	flag.IntVar(&flags.port, "port", 0, "Tunnel listen port (overrides config)")
	flag.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.logFile, "log-file", "", "CBOR trace log path (overrides config)")
	flag.BoolVar(&flags.noLAN, "no-lan", false, "Disable discovery and the LAN path")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	console := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.Log.Level),
	}))

	logger, closeTrace, err := buildLogger(console, cfg.Log.File)
	if err != nil {
		stdlog.Fatalf("Failed to open trace log: %v", err)
	}
	defer closeTrace()

	// Ingress gate, shared between the tunnel's accept check and the
	// coordinator's per-frame screening.
	gateConfig := cfg.GateConfig()
	gateConfig.Logger = logger
	gate := security.NewGate(gateConfig)

	// The transports report into the coordinator, which does not exist
	// yet when they are constructed; the proxy closes the loop.
	proxy := &bridge.HandlerProxy{}

	tunnel := transport.NewTunnel(transport.TunnelConfig{
		Host:      cfg.Tunnel.Host,
		Port:      cfg.Tunnel.Port,
		LocalName: cfg.DeviceName,
		Liveness: transport.LivenessConfig{
			Threshold:         cfg.Liveness.TunnelThreshold.Std(),
			HeartbeatInterval: cfg.Liveness.HeartbeatInterval.Std(),
		},
		Batch: cfg.BatchConfig(),
		AcceptGate: func(remoteAddr string) bool {
			return gate.AllowConnection(discovery.EndpointFingerprint(remoteAddr))
		},
		Logger: logger,
	}, proxy)

	browser := discovery.NewBrowser(discovery.BrowserConfig{
		BrowseTimeout: cfg.LAN.BrowseTimeout.Std(),
		Interface:     cfg.LAN.Interface,
	})
	defer browser.Stop()

	lan := transport.NewLAN(transport.LANConfig{
		Resolver:    lanResolver(cfg, browser),
		LocalName:   cfg.DeviceName,
		DialTimeout: cfg.LAN.DialTimeout.Std(),
		Liveness: transport.LivenessConfig{
			Threshold:         cfg.Liveness.LANThreshold.Std(),
			HeartbeatInterval: cfg.Liveness.HeartbeatInterval.Std(),
		},
		Batch:  cfg.BatchConfig(),
		Logger: logger,
	}, proxy)

	coord := bridge.New(tunnel, lan, bridge.Config{
		Gate:   gate,
		Logger: logger,
		OnQuality: func(q bridge.Quality) {
			console.Info("link quality changed", "quality", q.String())
		},
	})
	proxy.Set(coord)

	if err := coord.Start(); err != nil {
		stdlog.Fatalf("Failed to start coordinator: %v", err)
	}
	console.Info("cbridge host started",
		"name", cfg.DeviceName,
		"tunnel", fmt.Sprintf("%s:%d", cfg.Tunnel.Host, cfg.Tunnel.Port),
		"lan", cfg.LAN.Enabled)

	advertiser := startAdvertiser(cfg, console)
	if advertiser != nil {
		defer advertiser.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	console.Info("shutting down", "signal", sig.String())
	if err := coord.Stop(); err != nil {
		console.Error("coordinator stop failed", "err", err)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.configFile != "" {
		cfg, err = config.Load(flags.configFile)
	} else {
		c := config.Default()
		cfg = &c
	}
	if err != nil {
		return nil, err
	}

	if flags.name != "" {
		cfg.DeviceName = flags.name
	}
	if flags.port != 0 {
		cfg.Tunnel.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Log.File = flags.logFile
	}
	if flags.noLAN {
		cfg.LAN.Enabled = false
	}
	return cfg, cfg.Validate()
}

// buildLogger combines the console adapter with an optional CBOR
// trace file.
func buildLogger(console *slog.Logger, tracePath string) (log.Logger, func(), error) {
	slogAdapter := log.NewSlogAdapter(console)
	if tracePath == "" {
		return slogAdapter, func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(tracePath)
	if err != nil {
		return nil, nil, err
	}
	return log.NewMultiLogger(slogAdapter, fileLogger), func() { _ = fileLogger.Close() }, nil
}

// lanResolver returns the browse-based resolver, or a parked one when
// the LAN path is disabled. The coordinator always owns two
// transports; a disabled LAN simply never resolves a peer.
func lanResolver(cfg *config.Config, browser *discovery.Browser) transport.Resolver {
	if !cfg.LAN.Enabled {
		return transport.ResolverFunc(func(ctx context.Context) (string, string, error) {
			<-ctx.Done()
			return "", "", ctx.Err()
		})
	}
	return browser
}

// startAdvertiser announces this host over mDNS so the device can
// list it as a connection target. Advertising failures are not fatal;
// the tunnel path works without it.
func startAdvertiser(cfg *config.Config, console *slog.Logger) *discovery.Advertiser {
	if !cfg.LAN.Enabled {
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.DeviceName
	}

	advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Interface: cfg.LAN.Interface,
	})
	if err := advertiser.Advertise(advertiseInfo(cfg, hostname)); err != nil {
		console.Warn("mdns advertise failed", "err", err)
		return nil
	}
	return advertiser
}

// advertiseInfo builds this host's mDNS record. The LAN data path runs
// host-to-device (the host dials the device's advertised service), so
// the record announces presence and identity; the port field carries
// the loopback tunnel port and is not a LAN dial target.
func advertiseInfo(cfg *config.Config, hostname string) *discovery.Info {
	return &discovery.Info{
		DeviceName:  cfg.DeviceName,
		Version:     handshake.CurrentMajor,
		Fingerprint: discovery.EndpointFingerprint(hostname),
		Port:        uint16(cfg.Tunnel.Port),
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
