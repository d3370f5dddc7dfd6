// Package discovery implements mDNS advertise and browse for the LAN
// transport.
//
// The host advertises one "_cbridge._tcp" service carrying TXT records
// with the protocol major version ("v"), the human-readable device name
// ("DN") and an endpoint fingerprint ("fp"). The device side browses
// the same type and dials the first usable peer.
//
// EndpointFingerprint also serves the ingress security layer: its
// rate-limiter ledgers are keyed by the stable fingerprint rather than
// the raw address, so a peer hopping ephemeral ports stays in one
// bucket.
package discovery
