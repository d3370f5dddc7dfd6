package discovery

import (
	"errors"
	"strings"
	"testing"

	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
)

func TestServiceTXTRoundTrip(t *testing.T) {
	info := &Info{
		DeviceName:  "Studio iMac",
		Version:     2,
		Fingerprint: EndpointFingerprint("192.168.1.20:9621"),
		Port:        9621,
	}
	if err := info.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	txt := EncodeServiceTXT(info)
	strs := TXTRecordsToStrings(txt)
	decoded, err := DecodeServiceTXT(StringsToTXTRecords(strs))
	if err != nil {
		t.Fatalf("DecodeServiceTXT failed: %v", err)
	}

	if decoded.Version != info.Version {
		t.Errorf("version = %d, want %d", decoded.Version, info.Version)
	}
	if decoded.DeviceName != info.DeviceName {
		t.Errorf("device name = %q, want %q", decoded.DeviceName, info.DeviceName)
	}
	if decoded.Fingerprint != info.Fingerprint {
		t.Errorf("fingerprint = %q, want %q", decoded.Fingerprint, info.Fingerprint)
	}
}

func TestDecodeServiceTXTRejects(t *testing.T) {
	tests := []struct {
		name    string
		txt     TXTRecordMap
		wantErr error
	}{
		{
			name:    "missing version",
			txt:     TXTRecordMap{TXTKeyDeviceName: "Deck"},
			wantErr: ErrMissingRequired,
		},
		{
			name:    "garbage version",
			txt:     TXTRecordMap{TXTKeyVersion: "two", TXTKeyDeviceName: "Deck"},
			wantErr: ErrInvalidTXTRecord,
		},
		{
			name:    "zero version",
			txt:     TXTRecordMap{TXTKeyVersion: "0", TXTKeyDeviceName: "Deck"},
			wantErr: ErrInvalidTXTRecord,
		},
		{
			name:    "missing device name",
			txt:     TXTRecordMap{TXTKeyVersion: "2"},
			wantErr: ErrMissingRequired,
		},
		{
			name: "malformed fingerprint",
			txt: TXTRecordMap{
				TXTKeyVersion:     "2",
				TXTKeyDeviceName:  "Deck",
				TXTKeyFingerprint: "not-hex!",
			},
			wantErr: ErrInvalidTXTRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServiceTXT(tt.txt)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeServiceTXTFingerprintOptional(t *testing.T) {
	info, err := DecodeServiceTXT(TXTRecordMap{
		TXTKeyVersion:    "1",
		TXTKeyDeviceName: "Deck",
	})
	if err != nil {
		t.Fatalf("DecodeServiceTXT failed: %v", err)
	}
	if info.Fingerprint != "" {
		t.Errorf("fingerprint = %q, want empty", info.Fingerprint)
	}
}

func TestEndpointFingerprint(t *testing.T) {
	fp := EndpointFingerprint("192.168.1.20:9621")
	if !ValidFingerprint(fp) {
		t.Fatalf("fingerprint %q not valid", fp)
	}

	// The port must not matter: one device, many ephemeral ports.
	if got := EndpointFingerprint("192.168.1.20:50311"); got != fp {
		t.Errorf("fingerprint changed with port: %q vs %q", got, fp)
	}
	if got := EndpointFingerprint("192.168.1.20"); got != fp {
		t.Errorf("bare host fingerprint = %q, want %q", got, fp)
	}

	// Different hosts must differ.
	if got := EndpointFingerprint("192.168.1.21:9621"); got == fp {
		t.Error("distinct hosts share a fingerprint")
	}

	// Case-insensitive on hostnames.
	a := EndpointFingerprint("Deck.local:9621")
	b := EndpointFingerprint("deck.local:9621")
	if a != b {
		t.Errorf("fingerprint is case-sensitive: %q vs %q", a, b)
	}
}

func TestValidFingerprint(t *testing.T) {
	tests := []struct {
		fp   string
		want bool
	}{
		{"a1b2c3d4e5f60718", true},
		{"A1B2C3D4E5F60718", true},
		{"a1b2c3d4e5f6071", false},   // too short
		{"a1b2c3d4e5f607181", false}, // too long
		{"g1b2c3d4e5f60718", false},  // non-hex
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidFingerprint(tt.fp); got != tt.want {
			t.Errorf("ValidFingerprint(%q) = %v, want %v", tt.fp, got, tt.want)
		}
	}
}

func TestServiceDialAddr(t *testing.T) {
	svc := &Service{
		Port:      9621,
		Addresses: []string{"fe80::1", "192.168.1.20"},
	}
	addr, err := svc.DialAddr()
	if err != nil {
		t.Fatalf("DialAddr failed: %v", err)
	}
	// IPv4 preferred over IPv6.
	if addr != "192.168.1.20:9621" {
		t.Errorf("addr = %q, want %q", addr, "192.168.1.20:9621")
	}

	empty := &Service{Port: 9621}
	if _, err := empty.DialAddr(); !errors.Is(err, ErrNoAddresses) {
		t.Errorf("empty service: err = %v, want ErrNoAddresses", err)
	}
}

func TestServiceCompatible(t *testing.T) {
	tests := []struct {
		version int
		want    bool
	}{
		{handshake.CurrentMajor, true},
		{1, true},
		{handshake.CurrentMajor + 1, false},
		{0, false},
	}
	for _, tt := range tests {
		svc := &Service{Version: tt.version}
		if got := svc.Compatible(); got != tt.want {
			t.Errorf("Compatible() with version %d = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestValidateInstanceName(t *testing.T) {
	if err := ValidateInstanceName("Studio iMac"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	if err := ValidateInstanceName(""); err == nil {
		t.Error("empty name accepted")
	}
	if err := ValidateInstanceName(strings.Repeat("x", MaxInstanceNameLen+1)); !errors.Is(err, ErrInstanceNameTooLong) {
		t.Errorf("overlong name: err = %v, want ErrInstanceNameTooLong", err)
	}
}

func TestInfoValidate(t *testing.T) {
	tests := []struct {
		name string
		info Info
		ok   bool
	}{
		{"complete", Info{DeviceName: "Deck", Version: 2, Fingerprint: EndpointFingerprint("10.0.0.2"), Port: 9621}, true},
		{"no fingerprint", Info{DeviceName: "Deck", Version: 1, Port: 9621}, true},
		{"no name", Info{Version: 2, Port: 9621}, false},
		{"zero version", Info{DeviceName: "Deck", Port: 9621}, false},
		{"bad fingerprint", Info{DeviceName: "Deck", Version: 2, Fingerprint: "xyz", Port: 9621}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate accepted invalid info")
			}
		})
	}
}
