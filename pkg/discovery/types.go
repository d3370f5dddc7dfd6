package discovery

import (
	"errors"
	"time"

	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
)

// Service type constants for mDNS.
const (
	// ServiceType is the advertised service type.
	ServiceType = "_cbridge._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// TXT record key constants.
const (
	TXTKeyVersion     = "v"  // Protocol major version
	TXTKeyDeviceName  = "DN" // Human-readable device name
	TXTKeyFingerprint = "fp" // Endpoint fingerprint (16 hex chars)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for one browse operation.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// FingerprintLength is the fingerprint length (16 hex chars = 64 bits).
	FingerprintLength = 16
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNoAddresses         = errors.New("service has no addresses")
)

// Service is a peer found via mDNS.
type Service struct {
	// InstanceName is the mDNS instance name (the advertised device name).
	InstanceName string

	// Host is the hostname (e.g. "studio-imac.local").
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses, all interfaces merged.
	Addresses []string

	// Version is the peer's protocol major version (from TXT "v").
	Version int

	// DeviceName is the human-readable name (from TXT "DN").
	DeviceName string

	// Fingerprint is the peer's endpoint fingerprint (from TXT "fp").
	Fingerprint string
}

// Compatible reports whether this peer speaks a protocol version we
// can negotiate with.
func (s *Service) Compatible() bool {
	return handshake.Supported(s.Version)
}

// Info describes the service this side advertises.
type Info struct {
	// DeviceName is the human-readable name, also the instance name.
	DeviceName string

	// Version is the protocol major version.
	Version int

	// Fingerprint is this endpoint's fingerprint (16 hex chars).
	Fingerprint string

	// Port is the service port.
	Port uint16
}

// Validate checks the advertised info.
func (i *Info) Validate() error {
	if i.DeviceName == "" {
		return ErrMissingRequired
	}
	if len(i.DeviceName) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	if i.Version < 1 {
		return ErrMissingRequired
	}
	if i.Fingerprint != "" && !ValidFingerprint(i.Fingerprint) {
		return ErrInvalidTXTRecord
	}
	return nil
}
