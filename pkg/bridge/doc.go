// Package bridge arbitrates between the tunnel and LAN transports and
// routes traffic between the device and the MIDI engine.
//
// The coordinator is the single ingress and egress point: outbound
// messages pick the authoritative transport (tunnel preferred),
// inbound frames pass through the security gate before reaching the
// MIDI sink, and a coarse quality signal tracks what the link can
// currently carry.
package bridge
