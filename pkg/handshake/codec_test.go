package handshake

import (
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Request
	}{
		{
			name: "version only",
			line: "CB/2",
			want: Request{Major: 2},
		},
		{
			name: "auth and name",
			line: "CB/2 auth=psk1 name=Studio",
			want: Request{Major: 2, Auth: "psk1", Name: "Studio"},
		},
		{
			name: "full line",
			line: "CB/3 auth=psk1 nonce=abc123 features=batch,feedback ts=1700000000 name=Studio-Mac.local",
			want: Request{
				Major: 3, Auth: "psk1", Nonce: "abc123",
				Features: []string{"batch", "feedback"},
				Timestamp: 1700000000, Name: "Studio-Mac.local",
			},
		},
		{
			name: "name with spaces",
			line: "CB/2 auth=psk1 name=Studio Mac Pro",
			want: Request{Major: 2, Auth: "psk1", Name: "Studio Mac Pro"},
		},
		{
			name: "trailing newline tolerated",
			line: "CB/2 auth=psk1 name=Studio\n",
			want: Request{Major: 2, Auth: "psk1", Name: "Studio"},
		},
		{
			name: "unknown tokens ignored",
			line: "CB/2 color=blue auth=psk1",
			want: Request{Major: 2, Auth: "psk1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if err != nil {
				t.Fatalf("ParseRequest(%q) failed: %v", tt.line, err)
			}
			if got.Major != tt.want.Major {
				t.Errorf("Major = %d, want %d", got.Major, tt.want.Major)
			}
			if got.Auth != tt.want.Auth {
				t.Errorf("Auth = %q, want %q", got.Auth, tt.want.Auth)
			}
			if got.Nonce != tt.want.Nonce {
				t.Errorf("Nonce = %q, want %q", got.Nonce, tt.want.Nonce)
			}
			if got.Timestamp != tt.want.Timestamp {
				t.Errorf("Timestamp = %d, want %d", got.Timestamp, tt.want.Timestamp)
			}
			if got.Name != tt.want.Name {
				t.Errorf("Name = %q, want %q", got.Name, tt.want.Name)
			}
			if len(got.Features) != len(tt.want.Features) {
				t.Errorf("Features = %v, want %v", got.Features, tt.want.Features)
			}
		})
	}
}

func TestParseRequestLegacy(t *testing.T) {
	req, err := ParseRequest("CB/1 HELLO")
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if !req.Legacy || req.Major != 1 {
		t.Errorf("got %+v, want legacy major 1", req)
	}
	if got := BuildResponse(req); got != "CB/1 HELLO_ACK" {
		t.Errorf("BuildResponse = %q, want CB/1 HELLO_ACK", got)
	}
}

func TestParseRequestRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
		err  error
	}{
		{"empty line", "", ErrNotHandshake},
		{"json frame", `{"type":"midi_cc"}`, ErrNotHandshake},
		{"wrong prefix", "XB/2 auth=psk1", ErrNotHandshake},
		{"missing version", "CB/", ErrMalformed},
		{"non-numeric version", "CB/two", ErrMalformed},
		{"zero version", "CB/0", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRequest(tt.line); !errors.Is(err, tt.err) {
				t.Errorf("ParseRequest(%q) = %v, want %v", tt.line, err, tt.err)
			}
		})
	}
}

func TestBuildResponseExactForm(t *testing.T) {
	req, err := ParseRequest("CB/2 auth=psk1 name=Studio")
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if got := BuildResponse(req); got != "OK/2 hmac=" {
		t.Errorf("BuildResponse = %q, want %q", got, "OK/2 hmac=")
	}
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse("OK/2 hmac=")
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Major != 2 || resp.HMAC != "" {
		t.Errorf("got %+v, want major 2 empty hmac", resp)
	}

	resp, err = ParseResponse("CB/1 HELLO_ACK")
	if err != nil {
		t.Fatalf("ParseResponse legacy failed: %v", err)
	}
	if !resp.Legacy {
		t.Error("legacy ack not recognized")
	}

	if _, err := ParseResponse("NOPE/2"); !errors.Is(err, ErrNotHandshake) {
		t.Errorf("expected ErrNotHandshake, got %v", err)
	}
}

func TestBuildRequestRoundTrip(t *testing.T) {
	in := &Request{
		Major: 2, Auth: "psk1", Nonce: "n1",
		Features: []string{"batch"}, Timestamp: 1700000000, Name: "Pad.local",
	}
	out, err := ParseRequest(BuildRequest(in))
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if out.Major != in.Major || out.Auth != in.Auth || out.Nonce != in.Nonce ||
		out.Timestamp != in.Timestamp || out.Name != in.Name {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Studio-Mac.local", "Studio-Mac"},
		{"Studio", "Studio"},
		{"", ""},
	}
	for _, tt := range tests {
		r := &Request{Name: tt.raw}
		if got := r.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
