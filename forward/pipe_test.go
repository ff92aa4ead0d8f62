package forward

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestPipeRelaysBothDirections(t *testing.T) {
	nearA, nearB := net.Pipe()
	farA, farB := net.Pipe()

	done := make(chan struct{})
	var toFar, toNear Leg
	go func() {
		toFar, toNear = Pipe(nearB, farA)
		close(done)
	}()

	go nearA.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(farB, buf); err != nil {
		t.Fatalf("read near->far relayed bytes: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("near->far relayed = %q, want %q", buf, "ping")
	}

	go farB.Write([]byte("pong!"))
	buf2 := make([]byte, 5)
	if _, err := io.ReadFull(nearA, buf2); err != nil {
		t.Fatalf("read far->near relayed bytes: %v", err)
	}
	if string(buf2) != "pong!" {
		t.Fatalf("far->near relayed = %q, want %q", buf2, "pong!")
	}

	nearA.Close()
	farB.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Pipe did not return after both sides closed")
	}
	if toFar.Bytes != 4 {
		t.Fatalf("toFar.Bytes = %d, want 4", toFar.Bytes)
	}
	if toNear.Bytes != 5 {
		t.Fatalf("toNear.Bytes = %d, want 5", toNear.Bytes)
	}
}

func TestRelayPrefersReaderFromWriterTo(t *testing.T) {
	var buf bytes.Buffer
	src := bytes.NewReader([]byte("hello world"))
	n, err := relay(&buf, src)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("relay returned %d, buffer has %d bytes", n, buf.Len())
	}
	if buf.String() != "hello world" {
		t.Fatalf("buf = %q, want %q", buf.String(), "hello world")
	}
}
