package wsmux

import (
	"net"
	"testing"
)

func TestHostIPv4RoundTrip(t *testing.T) {
	h := HostFromIP(net.ParseIP("192.0.2.10"))
	buf, err := appendHost(nil, h)
	if err != nil {
		t.Fatalf("appendHost: %v", err)
	}
	got, n, err := decodeHost(buf)
	if err != nil {
		t.Fatalf("decodeHost: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decodeHost consumed %d bytes, want %d", n, len(buf))
	}
	if got.String() != "192.0.2.10" {
		t.Fatalf("got %q, want 192.0.2.10", got.String())
	}
}

func TestHostIPv6RoundTrip(t *testing.T) {
	h := HostFromIP(net.ParseIP("2001:db8::1"))
	buf, err := appendHost(nil, h)
	if err != nil {
		t.Fatalf("appendHost: %v", err)
	}
	got, n, err := decodeHost(buf)
	if err != nil {
		t.Fatalf("decodeHost: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decodeHost consumed %d bytes, want %d", n, len(buf))
	}
	if got.String() != "2001:db8::1" {
		t.Fatalf("got %q, want 2001:db8::1", got.String())
	}
}

func TestHostNameRoundTrip(t *testing.T) {
	h := HostFromName("example.com")
	buf, err := appendHost(nil, h)
	if err != nil {
		t.Fatalf("appendHost: %v", err)
	}
	got, n, err := decodeHost(buf)
	if err != nil {
		t.Fatalf("decodeHost: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decodeHost consumed %d bytes, want %d", n, len(buf))
	}
	if got.String() != "example.com" {
		t.Fatalf("got %q, want example.com", got.String())
	}
}

func TestHostNameTooLong(t *testing.T) {
	name := make([]byte, maxHostNameLen+1)
	for i := range name {
		name[i] = 'a'
	}
	h := HostFromName(string(name))
	if _, err := appendHost(nil, h); err == nil {
		t.Fatalf("appendHost: expected error for oversize name")
	}
}

func TestDecodeHostTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(HostIPv4), 1, 2, 3},
		{byte(HostIPv6), 1, 2, 3},
		{byte(HostName), 5, 'a', 'b'},
	}
	for i, buf := range cases {
		if _, _, err := decodeHost(buf); err == nil {
			t.Fatalf("case %d: decodeHost(%v) expected error", i, buf)
		}
	}
}

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		in       string
		wantKind HostKind
		wantStr  string
		wantPort uint16
		wantErr  bool
	}{
		{"127.0.0.1:8080", HostIPv4, "127.0.0.1", 8080, false},
		{"[::1]:443", HostIPv6, "::1", 443, false},
		{"example.com:80", HostName, "example.com", 80, false},
		{"no-port", 0, "", 0, true},
		{"example.com:0", 0, "", 0, true},
		{"example.com:not-a-number", 0, "", 0, true},
		{"example.com:99999", 0, "", 0, true},
	}
	for _, tc := range tests {
		host, port, err := ParseHostPort(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHostPort(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHostPort(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if host.Kind != tc.wantKind {
			t.Errorf("ParseHostPort(%q): kind = %v, want %v", tc.in, host.Kind, tc.wantKind)
		}
		if host.String() != tc.wantStr {
			t.Errorf("ParseHostPort(%q): host = %q, want %q", tc.in, host.String(), tc.wantStr)
		}
		if port != tc.wantPort {
			t.Errorf("ParseHostPort(%q): port = %d, want %d", tc.in, port, tc.wantPort)
		}
	}
}
