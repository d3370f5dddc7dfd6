package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// EndpointFingerprint derives a stable fingerprint for a peer endpoint.
//
// The fingerprint is the first 64 bits (16 hex chars) of SHA-256 over
// the endpoint's host part. Ports are excluded: the same device
// reconnecting from an ephemeral source port must map to the same
// rate-limiter ledger entry.
func EndpointFingerprint(endpoint string) string {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	hash := sha256.Sum256([]byte(host))
	return hex.EncodeToString(hash[:8])
}

// ValidFingerprint checks if a string is a well-formed fingerprint
// (16 hex chars).
func ValidFingerprint(fp string) bool {
	if len(fp) != FingerprintLength {
		return false
	}
	return isHexString(fp)
}

func isHexString(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
