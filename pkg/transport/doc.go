// Package transport implements the CBridge transport layer.
//
// The transport layer handles:
//   - Newline-delimited JSON framing
//   - The line-based handshake before any data traffic
//   - Outgoing message batching with bounded accumulation
//   - Activity-based liveness monitoring with heartbeats
//   - Connection state management
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON Messages             │
//	├────────────────────────────────┤
//	│   Newline Framing ('\n')       │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Transports
//
// Two concrete transports share one connection core:
//
//   - Tunnel: a loop-back TCP listener reached through a host-side USB
//     multiplexing forwarder. The host is the handshake responder. The
//     link is expected to be chatty, so its liveness threshold is short.
//   - LAN: mDNS discovery plus an outbound TCP client. The device side
//     is the handshake initiator. Liveness tolerates tens of seconds.
//
// The tunnel strictly preempts the LAN transport; arbitration lives in
// the bridge package, not here.
//
// # Liveness
//
// Liveness is evaluated from any inbound traffic, not only heartbeats.
// Both sides emit a heartbeat every 1.5 seconds while Active so an
// otherwise idle connection never appears stale.
package transport
