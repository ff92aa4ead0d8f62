package wsmux

import (
	"bytes"
	"testing"

	"github.com/golang/snappy"
)

func TestCompressingCarrierRoundTrip(t *testing.T) {
	a, b := newCarrierPair()
	ca := NewCompressingCarrier(a)
	cb := NewCompressingCarrier(b)

	msg := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)
	done := make(chan error, 1)
	go func() { done <- ca.Send(msg) }()

	got, err := cb.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(msg))
	}
}

func TestCompressingCarrierUsesBlockFormat(t *testing.T) {
	a, b := newCarrierPair()
	c := NewCompressingCarrier(a)

	msg := []byte("block format, not the streaming frame format")
	done := make(chan error, 1)
	go func() { done <- c.Send(msg) }()

	onWire, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	// snappy.Decode only understands the block format; if Send ever
	// regresses to the streaming writer, this fails.
	decoded, err := snappy.Decode(nil, onWire)
	if err != nil {
		t.Fatalf("snappy.Decode(on-wire bytes): %v", err)
	}
	if !bytes.Equal(decoded, msg) {
		t.Fatalf("decoded = %q, want %q", decoded, msg)
	}
}
