package wsmux

import (
	"io"
	"sync"
)

// chanCarrier is a Carrier backed by a pair of unbuffered channels, the
// message-oriented analogue of net.Pipe for exercising the Session/Stream
// machinery without a real network socket.
type chanCarrier struct {
	out chan []byte
	in  chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// newCarrierPair returns two chanCarriers wired so that a's Send feeds b's
// Recv and vice versa.
func newCarrierPair() (a, b *chanCarrier) {
	c1 := make(chan []byte)
	c2 := make(chan []byte)
	a = &chanCarrier{out: c1, in: c2, done: make(chan struct{})}
	b = &chanCarrier{out: c2, in: c1, done: make(chan struct{})}
	return a, b
}

func (c *chanCarrier) Recv() ([]byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.done:
		return nil, io.ErrClosedPipe
	}
}

func (c *chanCarrier) Send(msg []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	c.mu.Unlock()

	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case c.out <- cp:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

// Close unblocks any pending local Recv/Send and, since a real WebSocket
// close frame is itself a message the peer observes, closes the outbound
// channel so the peer's next Recv sees io.EOF too.
func (c *chanCarrier) Close(status CloseStatus) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	close(c.out)
	return nil
}
