package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol constants.
const (
	// Prefix starts every handshake request line.
	Prefix = "CB/"

	// ResponsePrefix starts every handshake response line.
	ResponsePrefix = "OK/"

	// CurrentMajor is the protocol major version this implementation speaks.
	CurrentMajor = 2

	// LegacyHello is the legacy simplified handshake request line.
	LegacyHello = "CB/1 HELLO"

	// LegacyHelloAck is the reply to the legacy handshake.
	LegacyHelloAck = "CB/1 HELLO_ACK"
)

// Handshake errors.
var (
	// ErrNotHandshake indicates a line that does not start with the
	// handshake prefix. Such lines are dropped, not fatal.
	ErrNotHandshake = errors.New("not a handshake line")

	// ErrMalformed indicates a line with the right prefix but an
	// unparseable version token.
	ErrMalformed = errors.New("malformed handshake")

	// ErrUnsupportedVersion indicates a protocol major this side cannot speak.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// Request is a parsed handshake request line.
type Request struct {
	// Major is the protocol major version. Mandatory.
	Major int

	// Auth is the declared auth scheme. Opaque placeholder; never verified.
	Auth string

	// Nonce is an opaque client nonce.
	Nonce string

	// Features lists declared capability flags.
	Features []string

	// Timestamp is the sender's epoch seconds, 0 if absent.
	Timestamp int64

	// Name is the peer's raw display name as sent on the wire.
	Name string

	// Legacy is true for the simplified "CB/1 HELLO" form.
	Legacy bool
}

// DisplayName returns the peer name for UI display, with a ".local"
// suffix stripped if present.
func (r *Request) DisplayName() string {
	return strings.TrimSuffix(r.Name, ".local")
}

// ParseRequest parses a handshake request line. The trailing newline, if
// present, is tolerated. Lines not starting with the CB/ prefix return
// ErrNotHandshake and must be dropped by the caller, leaving the
// connection awaiting a handshake.
func ParseRequest(line string) (*Request, error) {
	line = strings.TrimRight(line, "\r\n")

	if !strings.HasPrefix(line, Prefix) {
		return nil, ErrNotHandshake
	}

	if line == LegacyHello {
		return &Request{Major: 1, Legacy: true}, nil
	}

	tokens := strings.Split(line, " ")
	major, err := strconv.Atoi(strings.TrimPrefix(tokens[0], Prefix))
	if err != nil || major < 1 {
		return nil, fmt.Errorf("%w: version token %q", ErrMalformed, tokens[0])
	}

	req := &Request{Major: major}
	for i, tok := range tokens[1:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			// Bare tokens other than the legacy HELLO are ignored.
			continue
		}
		switch key {
		case "auth":
			req.Auth = value
		case "nonce":
			req.Nonce = value
		case "features":
			if value != "" {
				req.Features = strings.Split(value, ",")
			}
		case "ts":
			if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
				req.Timestamp = ts
			}
		case "name":
			// Display names may contain spaces; name= consumes the rest
			// of the line.
			rest := tokens[i+1:]
			req.Name = strings.TrimPrefix(strings.Join(rest, " "), "name=")
			return req, nil
		default:
			// Unknown key=value tokens are ignored for forward compatibility.
		}
	}
	return req, nil
}

// BuildRequest formats a handshake request line, without the trailing
// newline. Zero-valued optional fields are omitted.
func BuildRequest(r *Request) string {
	if r.Legacy {
		return LegacyHello
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%d", Prefix, r.Major)
	if r.Auth != "" {
		fmt.Fprintf(&b, " auth=%s", r.Auth)
	}
	if r.Nonce != "" {
		fmt.Fprintf(&b, " nonce=%s", r.Nonce)
	}
	if len(r.Features) > 0 {
		fmt.Fprintf(&b, " features=%s", strings.Join(r.Features, ","))
	}
	if r.Timestamp != 0 {
		fmt.Fprintf(&b, " ts=%d", r.Timestamp)
	}
	if r.Name != "" {
		fmt.Fprintf(&b, " name=%s", r.Name)
	}
	return b.String()
}

// Response is a parsed handshake response line.
type Response struct {
	// Major echoes the negotiated protocol major version.
	Major int

	// HMAC is the opaque hmac field. Always empty in the current
	// protocol; an extension point, not a security guarantee.
	HMAC string

	// Legacy is true for the "CB/1 HELLO_ACK" form.
	Legacy bool
}

// ParseResponse parses a handshake response line.
func ParseResponse(line string) (*Response, error) {
	line = strings.TrimRight(line, "\r\n")

	if line == LegacyHelloAck {
		return &Response{Major: 1, Legacy: true}, nil
	}

	if !strings.HasPrefix(line, ResponsePrefix) {
		return nil, ErrNotHandshake
	}

	tokens := strings.Split(line, " ")
	major, err := strconv.Atoi(strings.TrimPrefix(tokens[0], ResponsePrefix))
	if err != nil || major < 1 {
		return nil, fmt.Errorf("%w: version token %q", ErrMalformed, tokens[0])
	}

	resp := &Response{Major: major}
	for _, tok := range tokens[1:] {
		if key, value, ok := strings.Cut(tok, "="); ok && key == "hmac" {
			resp.HMAC = value
		}
	}
	return resp, nil
}

// BuildResponse formats the response to an accepted request, without the
// trailing newline. The legacy form gets the legacy acknowledgment.
func BuildResponse(req *Request) string {
	if req.Legacy {
		return LegacyHelloAck
	}
	return fmt.Sprintf("%s%d hmac=", ResponsePrefix, req.Major)
}

// Supported reports whether this implementation can speak the requested
// protocol major.
func Supported(major int) bool {
	return major >= 1 && major <= CurrentMajor
}
