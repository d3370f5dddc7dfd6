// Package handshake implements the CBridge line-based handshake.
//
// Before any data message is accepted, the initiator sends a single line:
//
//	CB/<major>[ auth=<scheme>][ nonce=<n>][ features=<csv>][ ts=<epoch>][ name=<string>]\n
//
// and the responder replies:
//
//	OK/<major> hmac=<opaque>\n
//
// A legacy simplified form remains supported: the literal line "CB/1 HELLO"
// is answered with "CB/1 HELLO_ACK".
//
// Unknown trailing key=value tokens are ignored for forward compatibility.
// The hmac field is an opaque placeholder only; no cryptographic
// verification is performed.
package handshake
