package wsmux

import (
	"io"
	"testing"
	"time"
)

func TestStreamWriteBlocksUntilCreditRefill(t *testing.T) {
	client, server := newSessionPair(t, func(c, s *Config) {
		c.StreamBuffer = 4096
		s.StreamBuffer = 4096
	})
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	big := make([]byte, 4096*3)
	for i := range big {
		big[i] = byte(i)
	}

	writeDone := make(chan error, 1)
	go func() {
		_, err := clientStream.Write(big)
		writeDone <- err
	}()

	select {
	case err := <-writeDone:
		t.Fatalf("Write returned early (err=%v) before the reader drained any credit; flow control did not block", err)
	case <-time.After(100 * time.Millisecond):
	}

	got := make([]byte, len(big))
	if _, err := io.ReadFull(serverStream, got); err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("client Write: %v", err)
	}
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], big[i])
		}
	}
}

func TestStreamSplitPanicsOnSecondCall(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, _ := dialAndAccept(t, client, server, 80)

	clientStream.Split()

	defer func() {
		if recover() == nil {
			t.Fatalf("second Split() did not panic")
		}
	}()
	clientStream.Split()
}

func TestStreamSplitBothHalvesClosedIsGraceful(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	r, w := clientStream.Split()
	// StreamWriter.Close always shuts the write direction down
	// gracefully first, so releasing both documented halves is a
	// graceful close, not a reset.
	if err := r.Close(); err != nil {
		t.Fatalf("StreamReader.Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("StreamWriter.Close: %v", err)
	}

	buf := make([]byte, 1)
	n, err := serverStream.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("server Read after both split halves closed = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestStreamSplitReaderCloseAloneDoesNotResetWriteHalf(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	r, w := clientStream.Split()
	if err := r.Close(); err != nil {
		t.Fatalf("StreamReader.Close: %v", err)
	}

	// The write half is still independently usable: closing only the
	// reader must not have reset the stream out from under it.
	msg := []byte("still writable")
	if _, err := w.Write(msg); err != nil {
		t.Fatalf("StreamWriter.Write after sibling StreamReader.Close: %v", err)
	}
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(serverStream, got); err != nil {
		t.Fatalf("server Read: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("server got %q, want %q", got, msg)
	}
}

func TestStreamSplitWriterGracefulShutdown(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	_, w := clientStream.Split()
	if err := w.Close(); err != nil {
		t.Fatalf("StreamWriter.Close: %v", err)
	}

	buf := make([]byte, 16)
	n, err := serverStream.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("server Read after graceful split writer close = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestStreamReadDeadlineExpires(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, _ := dialAndAccept(t, client, server, 80)

	clientStream.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	buf := make([]byte, 16)
	_, err := clientStream.Read(buf)
	if err != ErrTimeout {
		t.Fatalf("Read after expired deadline = %v, want ErrTimeout", err)
	}
}

func TestStreamWriteDeadlineExpiresWhileWindowExhausted(t *testing.T) {
	client, server := newSessionPair(t, func(c, s *Config) {
		c.StreamBuffer = 1024
		s.StreamBuffer = 1024
	})
	clientStream, _ := dialAndAccept(t, client, server, 80)

	clientStream.SetWriteDeadline(time.Now().Add(20 * time.Millisecond))
	big := make([]byte, 1024*4)
	_, err := clientStream.Write(big)
	if err != ErrTimeout {
		t.Fatalf("Write exhausting window past deadline = %v, want ErrTimeout", err)
	}
}

func TestStreamCloseWriteThenReadStillDrainsBuffered(t *testing.T) {
	client, server := newSessionPair(t, nil)
	clientStream, accepted := dialAndAccept(t, client, server, 80)
	serverStream := accepted.Stream

	msg := []byte("trailing data")
	if _, err := serverStream.Write(msg); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	if err := serverStream.CloseWrite(); err != nil {
		t.Fatalf("server CloseWrite: %v", err)
	}

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(clientStream, buf); err != nil {
		t.Fatalf("client Read buffered data before FIN: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("client got %q, want %q", buf, msg)
	}

	n, err := clientStream.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("client Read after drain = (%d, %v), want (0, io.EOF)", n, err)
	}
}
