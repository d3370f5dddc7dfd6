// Package config loads the host daemon's YAML configuration.
//
// Every field has a working default; an absent file, an empty file and
// a file that only overrides a couple of values are all valid. Loaded
// values feed the component configs in pkg/transport, pkg/security and
// pkg/discovery.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbridge-protocol/cbridge-go/pkg/security"
	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
)

// Duration wraps time.Duration so YAML values can be written as "3s"
// or "10ms".
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the host daemon's configuration.
type Config struct {
	// DeviceName is this host's display name, sent in handshakes and
	// advertised over mDNS.
	DeviceName string `yaml:"device_name"`

	Tunnel   TunnelSection   `yaml:"tunnel"`
	LAN      LANSection      `yaml:"lan"`
	Batch    BatchSection    `yaml:"batch"`
	Liveness LivenessSection `yaml:"liveness"`
	Security SecuritySection `yaml:"security"`
	Log      LogSection      `yaml:"log"`
}

// TunnelSection configures the USB tunnel listener.
type TunnelSection struct {
	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the fixed loopback port the forwarder targets.
	Port int `yaml:"port"`
}

// LANSection configures discovery and the LAN transport.
type LANSection struct {
	// Enabled turns the LAN path on.
	Enabled bool `yaml:"enabled"`

	// Interface restricts mDNS to one network interface. Empty uses
	// all multicast-capable interfaces.
	Interface string `yaml:"interface"`

	// BrowseTimeout bounds one discovery pass.
	BrowseTimeout Duration `yaml:"browse_timeout"`

	// DialTimeout bounds one TCP dial to a discovered peer.
	DialTimeout Duration `yaml:"dial_timeout"`
}

// BatchSection configures outgoing message batching.
type BatchSection struct {
	Size    int      `yaml:"size"`
	Timeout Duration `yaml:"timeout"`
	MaxSize int      `yaml:"max_size"`
}

// LivenessSection configures staleness detection.
type LivenessSection struct {
	TunnelThreshold   Duration `yaml:"tunnel_threshold"`
	LANThreshold      Duration `yaml:"lan_threshold"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// SecuritySection configures the ingress gate budgets.
type SecuritySection struct {
	ConnectionBudget int      `yaml:"connection_budget"`
	ConnectionWindow Duration `yaml:"connection_window"`
	MessageBudget    int      `yaml:"message_budget"`
	MessageWindow    Duration `yaml:"message_window"`
}

// LogSection configures trace output.
type LogSection struct {
	// File is the CBOR trace log path. Empty disables file tracing.
	File string `yaml:"file"`

	// Level is the console log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		DeviceName: "cbridge-host",
		Tunnel: TunnelSection{
			Host: "127.0.0.1",
			Port: transport.DefaultTunnelPort,
		},
		LAN: LANSection{
			Enabled:       true,
			BrowseTimeout: Duration(10 * time.Second),
			DialTimeout:   Duration(transport.DefaultDialTimeout),
		},
		Batch: BatchSection{
			Size:    transport.DefaultBatchSize,
			Timeout: Duration(transport.DefaultBatchTimeout),
			MaxSize: transport.DefaultMaxBatchSize,
		},
		Liveness: LivenessSection{
			TunnelThreshold:   Duration(transport.TunnelLivenessThreshold),
			LANThreshold:      Duration(transport.LANLivenessThreshold),
			HeartbeatInterval: Duration(transport.HeartbeatInterval),
		},
		Security: SecuritySection{
			ConnectionBudget: security.DefaultConnectionBudget,
			ConnectionWindow: Duration(security.DefaultConnectionWindow),
			MessageBudget:    security.DefaultMessageBudget,
			MessageWindow:    Duration(security.DefaultMessageWindow),
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Parse unmarshals YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a config file. A missing file is not an
// error: the defaults apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Validate rejects values the transports cannot work with.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if c.Tunnel.Port < 0 || c.Tunnel.Port > 65535 {
		return fmt.Errorf("tunnel.port %d out of range", c.Tunnel.Port)
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive")
	}
	if c.Batch.MaxSize < c.Batch.Size {
		return fmt.Errorf("batch.max_size %d below batch.size %d", c.Batch.MaxSize, c.Batch.Size)
	}
	if c.Security.ConnectionBudget <= 0 || c.Security.MessageBudget <= 0 {
		return fmt.Errorf("security budgets must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// BatchConfig builds the transport batching parameters.
func (c *Config) BatchConfig() transport.BatchConfig {
	return transport.BatchConfig{
		BatchSize:    c.Batch.Size,
		BatchTimeout: c.Batch.Timeout.Std(),
		MaxBatchSize: c.Batch.MaxSize,
	}
}

// GateConfig builds the ingress gate parameters.
func (c *Config) GateConfig() security.GateConfig {
	cfg := security.DefaultGateConfig()
	cfg.ConnectionBudget = c.Security.ConnectionBudget
	cfg.ConnectionWindow = c.Security.ConnectionWindow.Std()
	cfg.MessageBudget = c.Security.MessageBudget
	cfg.MessageWindow = c.Security.MessageWindow.Std()
	return cfg
}
