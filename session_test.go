package wsmux

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestSessionDialAndAccept(t *testing.T) {
	client, server := newSessionPair(t, nil)

	clientStream, accepted := dialAndAccept(t, client, server, 4000)

	if accepted.TargetPort != 4000 {
		t.Fatalf("TargetPort = %d, want 4000", accepted.TargetPort)
	}
	if accepted.TargetHost.String() != "target.invalid" {
		t.Fatalf("TargetHost = %q, want target.invalid", accepted.TargetHost.String())
	}
	if clientStream.LocalPort()%2 == 0 {
		t.Fatalf("client stream local port %d should be odd", clientStream.LocalPort())
	}
	if accepted.Stream.LocalPort()%2 != 0 {
		t.Fatalf("server stream local port %d should be even", accepted.Stream.LocalPort())
	}
	if accepted.Stream.PeerPort() != clientStream.LocalPort() {
		t.Fatalf("server's peer port %d != client's local port %d", accepted.Stream.PeerPort(), clientStream.LocalPort())
	}
}

func TestSessionStreamDataRoundTrip(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	msg := []byte("GET / HTTP/1.1\r\n\r\n")
	go func() {
		if _, err := clientStream.Write(msg); err != nil {
			t.Errorf("client Write: %v", err)
		}
	}()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("server got %q, want %q", buf, msg)
	}

	reply := []byte("HTTP/1.1 200 OK\r\n\r\n")
	go func() {
		if _, err := serverStream.Write(reply); err != nil {
			t.Errorf("server Write: %v", err)
		}
	}()
	buf2 := make([]byte, len(reply))
	if _, err := io.ReadFull(clientStream, buf2); err != nil {
		t.Fatalf("client Read: %v", err)
	}
	if string(buf2) != string(reply) {
		t.Fatalf("client got %q, want %q", buf2, reply)
	}
}

func TestSessionStreamHalfCloseYieldsEOF(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	if err := clientStream.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	buf := make([]byte, 16)
	n, err := serverStream.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("server Read after peer CloseWrite = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestSessionStreamResetPropagates(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	if err := clientStream.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	buf := make([]byte, 16)
	_, err := serverStream.Read(buf)
	if !errors.Is(err, ErrPeerReset) {
		t.Fatalf("server Read after peer Reset = %v, want ErrPeerReset", err)
	}
}

func TestSessionConnectRefusedWithoutListener(t *testing.T) {
	client, server := newSessionPair(t, nil)
	_ = server // no Listen() call

	_, err := client.DialStreamTimeout(HostFromName("nowhere.invalid"), 1, time.Second)
	if !errors.Is(err, ErrStreamRefused) {
		t.Fatalf("DialStream without listener = %v, want ErrStreamRefused", err)
	}
}

func TestSessionListenerBacklogFull(t *testing.T) {
	client, server := newSessionPair(t, func(c, s *Config) {
		s.ListenerBacklog = 1
	})
	l := server.Listen()
	_ = l // never Accept()'d, so the first Connect fills the one-slot backlog

	if _, err := client.DialStreamTimeout(HostFromName("h"), 1, time.Second); err != nil {
		t.Fatalf("first DialStream: %v", err)
	}
	if _, err := client.DialStreamTimeout(HostFromName("h"), 1, time.Second); !errors.Is(err, ErrStreamRefused) {
		t.Fatalf("second DialStream (backlog full) = %v, want ErrStreamRefused", err)
	}
}

func TestSessionGracefulCloseDrainsStreams(t *testing.T) {
	client, server := newSessionPair(t, nil)
	_, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		n, err := serverStream.Read(buf)
		if n != 0 || err != io.EOF {
			t.Errorf("server Read after graceful client Close = (%d, %v), want (0, io.EOF)", n, err)
		}
	}()

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for server to observe graceful close")
	}
}

func TestSessionCarrierLossFailsLiveStreams(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, _ := dialAndAccept(t, client, server, 80)

	server.carrier.Close(CloseAbnormal)
	server.fail(ErrPeerClosedSession)

	buf := make([]byte, 1)
	deadline := time.Now().Add(time.Second)
	clientStream.SetReadDeadline(deadline)
	if _, err := clientStream.Read(buf); err == nil {
		t.Fatalf("client Read after server carrier loss: expected error")
	}
}

func TestAllocPortSkipsTakenPorts(t *testing.T) {
	sess := &Session{
		config:    DefaultConfig(),
		streams:   map[uint32]*Stream{1: {}, 3: {}},
		nextPort:  1,
		portBase:  1,
		portCount: maxUint32, // plenty of room; this test never exhausts
	}
	p, err := sess.allocPort()
	if err != nil {
		t.Fatalf("allocPort: %v", err)
	}
	if p != 5 {
		t.Fatalf("allocPort = %d, want 5 (1 and 3 are taken)", p)
	}
}

func TestAllocPortWrapsOnOverflow(t *testing.T) {
	sess := &Session{
		config:    DefaultConfig(),
		streams:   make(map[uint32]*Stream),
		nextPort:  0xFFFFFFFD, // odd, two allocations from overflowing uint32
		portBase:  1,
		portCount: maxUint32, // plenty of room; this test never exhausts
	}
	p1, err := sess.allocPort()
	if err != nil {
		t.Fatalf("allocPort #1: %v", err)
	}
	if p1 != 0xFFFFFFFD {
		t.Fatalf("allocPort #1 = %#x, want 0xFFFFFFFD", p1)
	}
	sess.streams[p1] = &Stream{}

	p2, err := sess.allocPort()
	if err != nil {
		t.Fatalf("allocPort #2: %v", err)
	}
	if p2 != 0xFFFFFFFF {
		t.Fatalf("allocPort #2 = %#x, want 0xFFFFFFFF", p2)
	}
	sess.streams[p2] = &Stream{}

	// The next increment overflows past 0; the guard must rewind to
	// portBase (1), not to whatever port this call happened to start
	// scanning from, so the low end of the range is reachable again.
	p3, err := sess.allocPort()
	if err != nil {
		t.Fatalf("allocPort #3: %v", err)
	}
	if p3 != 1 {
		t.Fatalf("allocPort #3 = %#x, want 1 (wrapped to portBase)", p3)
	}
}

// TestAllocPortExhaustedReturnsErrGoAway shrinks portCount to the role's
// real cycle length of a tiny 3-port range (1, 3, 5) and takes all of
// them, so exhaustion is reachable without simulating the full uint32
// address space.
func TestAllocPortExhaustedReturnsErrGoAway(t *testing.T) {
	sess := &Session{
		config:    DefaultConfig(),
		streams:   map[uint32]*Stream{1: {}, 3: {}, 5: {}},
		nextPort:  1,
		portBase:  1,
		portCount: 3,
	}
	if _, err := sess.allocPort(); !errors.Is(err, ErrGoAway) {
		t.Fatalf("allocPort with every port in a 3-port range taken = %v, want ErrGoAway", err)
	}
}

// TestAllocPortExhaustionIsBoundedByPortCount confirms a free port just
// past a shrunk portCount window is correctly NOT found: allocPort must
// respect the configured cycle length rather than scanning past it.
func TestAllocPortExhaustionIsBoundedByPortCount(t *testing.T) {
	sess := &Session{
		config:    DefaultConfig(),
		streams:   map[uint32]*Stream{1: {}, 3: {}}, // port 5 is free but outside the window
		nextPort:  1,
		portBase:  1,
		portCount: 2,
	}
	if _, err := sess.allocPort(); !errors.Is(err, ErrGoAway) {
		t.Fatalf("allocPort with portCount=2 and both in-window ports taken = %v, want ErrGoAway", err)
	}
}
