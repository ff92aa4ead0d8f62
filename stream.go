// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
package wsmux

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// streamState is the automaton of spec.md §4.2. SendClosed and RecvClosed
// are tracked as independent flags rather than a single enum because a
// stream can be in both simultaneously only for one instant before it is
// retired to Closed.
type streamState int32

const (
	stateConnecting streamState = iota // RequestedConnect
	stateEstablished
	stateClosed
)

// Stream is a full-duplex byte conduit multiplexed over a Session,
// identified by the ordered pair (localPort, peerPort). It implements
// io.ReadWriteCloser plus the half-close operations of spec.md §4.2/§4.5.
type Stream struct {
	session   *Session
	localPort uint32
	peerPort  uint32 // 0 until the Connect/Acknowledge handshake resolves

	// state/half-close bookkeeping, guarded by mu.
	mu         sync.Mutex
	state      streamState
	sendClosed bool // CloseWrite called or Reset
	recvFin    bool // peer Finish received
	closed     bool
	closeErr   error // sticky terminal error delivered to blocked Read/Write
	closeOnce  sync.Once
	removeOnce sync.Once
	split      bool
	readerDone bool // StreamReader.Close called, only meaningful once split
	writerDone bool // StreamWriter.Close called, only meaningful once split

	// connect resolution, only used while state == stateConnecting.
	connectResult chan error

	// receive side.
	recvLock  sync.Mutex
	recvBuf   bytes.Buffer
	incr      uint32 // bytes read since the last credit-refill announcement
	chReadable chan struct{}
	chFin      chan struct{}
	finOnce    sync.Once

	// send side (credit-based flow control: remoteWindow is the number of
	// bytes we remain permitted to send, incremented by Acknowledge
	// credit-refills and decremented as we emit Push frames).
	windowLock    sync.Mutex
	remoteWindow  uint32
	chWindowUp    chan struct{}

	readDeadline  time.Time
	writeDeadline time.Time
	deadlineLock  sync.Mutex
}

func newStream(sess *Session, localPort, peerPort uint32, state streamState, remoteWindow uint32) *Stream {
	s := &Stream{
		session:      sess,
		localPort:    localPort,
		peerPort:     peerPort,
		state:        state,
		remoteWindow: remoteWindow,
		chReadable:   make(chan struct{}, 1),
		chFin:        make(chan struct{}),
		chWindowUp:   make(chan struct{}, 1),
	}
	if state == stateConnecting {
		s.connectResult = make(chan error, 1)
	}
	return s
}

// LocalPort returns this endpoint's port identifier for the stream.
func (s *Stream) LocalPort() uint32 { return s.localPort }

// PeerPort returns the peer's port identifier for the stream. It is 0
// until the stream leaves RequestedConnect.
func (s *Stream) PeerPort() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerPort
}

func (s *Stream) getReadDeadline() time.Time {
	s.deadlineLock.Lock()
	defer s.deadlineLock.Unlock()
	return s.readDeadline
}

func (s *Stream) getWriteDeadline() time.Time {
	s.deadlineLock.Lock()
	defer s.deadlineLock.Unlock()
	return s.writeDeadline
}

// SetReadDeadline sets the deadline for future Read calls. A zero value
// disables the deadline.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.deadlineLock.Lock()
	s.readDeadline = t
	s.deadlineLock.Unlock()
	s.wakeReadable()
	return nil
}

// SetWriteDeadline sets the deadline for future Write calls.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.deadlineLock.Lock()
	s.writeDeadline = t
	s.deadlineLock.Unlock()
	s.wakeWritable()
	return nil
}

// SetDeadline sets both the read and write deadlines.
func (s *Stream) SetDeadline(t time.Time) error {
	s.SetReadDeadline(t)
	s.SetWriteDeadline(t)
	return nil
}

func (s *Stream) wakeReadable() {
	select {
	case s.chReadable <- struct{}{}:
	default:
	}
}

func (s *Stream) wakeWritable() {
	select {
	case s.chWindowUp <- struct{}{}:
	default:
	}
}

// waitConnect blocks until the Connect this stream originated has been
// resolved by an Acknowledge (success) or a Reset (ErrStreamRefused).
func (s *Stream) waitConnect(ctx context.Context) error {
	select {
	case err := <-s.connectResult:
		return err
	case <-s.session.dying():
		return s.session.deathErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveConnect is called by the session's reader when an Acknowledge
// answers this stream's Connect. credit is the peer's exact initial grant
// (not a slow-start guess, since the peer states it explicitly).
func (s *Stream) resolveConnect(peerPort uint32, credit uint32) {
	s.mu.Lock()
	if s.state != stateConnecting {
		s.mu.Unlock()
		return
	}
	s.peerPort = peerPort
	s.state = stateEstablished
	s.mu.Unlock()

	s.windowLock.Lock()
	s.remoteWindow = credit
	s.windowLock.Unlock()

	s.connectResult <- nil
}

// refuseConnect is called when the peer answers this stream's Connect
// with a Reset instead of an Acknowledge.
func (s *Stream) refuseConnect() {
	s.mu.Lock()
	if s.state != stateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.closed = true
	s.closeErr = ErrStreamRefused
	s.mu.Unlock()
	s.connectResult <- ErrStreamRefused
}

// push appends received Push payload to the receive buffer, enforcing the
// credit-safety invariant of spec.md §3: occupancy must never exceed the
// buffer capacity we advertised to the peer.
func (s *Stream) push(payload []byte) error {
	s.recvLock.Lock()
	if s.recvBuf.Len()+len(payload) > s.session.config.StreamBuffer {
		s.recvLock.Unlock()
		return newProtocolError(byte(opPush), "peer exceeded granted credit")
	}
	s.recvBuf.Write(payload)
	s.recvLock.Unlock()
	s.wakeReadable()
	return nil
}

// Read implements io.Reader. It returns at least one byte if the stream is
// open, and 0, io.EOF once the read half is closed and fully drained.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.recvLock.Lock()
		if s.recvBuf.Len() > 0 {
			n, _ := s.recvBuf.Read(p)
			s.recvLock.Unlock()
			s.noteRead(n)
			return n, nil
		}
		s.recvLock.Unlock()

		s.mu.Lock()
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = ErrClosedStream
			}
			return 0, err
		}
		s.mu.Unlock()

		deadline := s.getReadDeadline()
		var deadlineCh <-chan time.Time
		if !deadline.IsZero() {
			if !time.Now().Before(deadline) {
				return 0, ErrTimeout
			}
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			deadlineCh = timer.C
		}

		select {
		case <-s.chFin:
			s.recvLock.Lock()
			empty := s.recvBuf.Len() == 0
			s.recvLock.Unlock()
			if empty {
				return 0, io.EOF
			}
			// data raced in alongside FIN; loop to drain it.
		case <-s.chReadable:
		case <-s.session.dying():
			return 0, s.session.deathErr()
		case <-deadlineCh:
			return 0, ErrTimeout
		}
	}
}

// noteRead updates the drained-bytes counter and, once it crosses the
// configured threshold, announces a credit refill to the peer (spec.md
// §4.2's "standalone Acknowledge ... repurposed as additional credit").
func (s *Stream) noteRead(n int) {
	if n <= 0 {
		return
	}
	s.recvLock.Lock()
	s.incr += uint32(n)
	threshold := uint32(s.session.config.creditRefillThreshold())
	var toSend uint32
	if s.incr >= threshold {
		toSend = s.incr
		s.incr = 0
	}
	s.recvLock.Unlock()

	if toSend > 0 {
		s.session.sendControl(frame{
			op:        opAcknowledge,
			ourPort:   s.localPort,
			theirPort: s.peerPort,
			credit:    toSend,
		})
	}
}

// grantCredit applies an incremental credit-refill received from the peer.
func (s *Stream) grantCredit(c uint32) {
	if c == 0 {
		return
	}
	s.windowLock.Lock()
	s.remoteWindow += c
	s.windowLock.Unlock()
	s.wakeWritable()
}

// Write implements io.Writer. It splits p into chunks no larger than the
// current send-window and the session's max frame payload, blocking when
// the window is exhausted.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if err := s.waitEstablished(); err != nil {
		return 0, err
	}

	sent := 0
	for len(p) > 0 {
		s.mu.Lock()
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = ErrClosedStream
			}
			return sent, err
		}
		if s.sendClosed {
			s.mu.Unlock()
			return sent, io.ErrClosedPipe
		}
		s.mu.Unlock()

		s.windowLock.Lock()
		avail := s.remoteWindow
		if avail == 0 {
			s.windowLock.Unlock()
			if err := s.waitWindow(); err != nil {
				return sent, err
			}
			continue
		}
		max := s.session.config.MaxFramePayload
		n := len(p)
		if n > int(avail) {
			n = int(avail)
		}
		if n > max {
			n = max
		}
		s.remoteWindow -= uint32(n)
		s.windowLock.Unlock()

		err := s.session.sendData(frame{
			op:        opPush,
			ourPort:   s.localPort,
			theirPort: s.peerPort,
			payload:   p[:n],
		}, s.getWriteDeadline())
		if err != nil {
			// refund the window we reserved but never used
			s.windowLock.Lock()
			s.remoteWindow += uint32(n)
			s.windowLock.Unlock()
			return sent, err
		}
		sent += n
		p = p[n:]
	}
	return sent, nil
}

func (s *Stream) waitEstablished() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == stateConnecting {
		return s.waitConnect(context.Background())
	}
	if state == stateClosed {
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		if err == nil {
			err = ErrClosedStream
		}
		return err
	}
	return nil
}

func (s *Stream) waitWindow() error {
	deadline := s.getWriteDeadline()
	var deadlineCh <-chan time.Time
	if !deadline.IsZero() {
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}
	select {
	case <-s.chWindowUp:
		return nil
	case <-s.session.dying():
		return s.session.deathErr()
	case <-deadlineCh:
		return ErrTimeout
	case <-s.closedChan():
		s.mu.Lock()
		closed, err := s.closed, s.closeErr
		s.mu.Unlock()
		if !closed {
			// only the peer's Finish: irrelevant to our write, keep waiting for credit
			select {
			case <-s.chWindowUp:
				return nil
			case <-s.session.dying():
				return s.session.deathErr()
			case <-deadlineCh:
				return ErrTimeout
			}
		}
		if err == nil {
			err = ErrClosedStream
		}
		return err
	}
}

// closedChan becomes ready once the stream is terminated, reusing chFin
// since finishClose always closes it too. A peer Finish alone also closes
// chFin, so waiters check s.closed to tell the two apart.
func (s *Stream) closedChan() <-chan struct{} {
	return s.chFin
}

// CloseWrite half-closes the send direction: it emits Finish and
// transitions to SendClosed (spec.md §4.2).
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	if s.sendClosed || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.sendClosed = true
	bothDone := s.recvFin
	s.mu.Unlock()

	err := s.session.sendControl(frame{op: opFinish, ourPort: s.localPort, theirPort: s.peerPort})
	if bothDone {
		s.finishClose(nil)
	}
	return err
}

// onPeerFinish is called by the session's reader when the peer's Finish
// arrives: the receive direction is closed (pending buffer still drains).
func (s *Stream) onPeerFinish() {
	s.mu.Lock()
	if s.recvFin || s.closed {
		s.mu.Unlock()
		return
	}
	s.recvFin = true
	bothDone := s.sendClosed
	s.mu.Unlock()

	s.finOnce.Do(func() { close(s.chFin) })
	if bothDone {
		s.finishClose(nil)
	}
}

// onPeerReset is called by the session's reader when the peer sends Reset
// mid-stream: buffered data is discarded and blocked users see ErrPeerReset.
func (s *Stream) onPeerReset() {
	s.finishClose(ErrPeerReset)
}

// onCarrierLoss delivers the carrier-loss indication uniformly, per
// spec.md §7.
func (s *Stream) onCarrierLoss() {
	s.finishClose(ErrPeerClosedSession)
}

// Reset emits a Reset frame and transitions to Closed, discarding
// buffered data (spec.md §4.2).
func (s *Stream) Reset() error {
	s.finishClose(ErrClosedStream)
	return s.session.sendControl(frame{op: opReset, ourPort: s.localPort, theirPort: s.peerPort})
}

// Close implements io.Closer. Per spec.md §4.5, closing without having
// gracefully shut down the write half first is equivalent to Reset.
func (s *Stream) Close() error {
	s.mu.Lock()
	already := s.closed
	graceful := s.sendClosed
	s.mu.Unlock()
	if already {
		return nil
	}
	if graceful {
		s.finishClose(nil)
		return nil
	}
	return s.Reset()
}

// finishClose performs the one-time terminal transition, waking every
// blocked Read/Write with err. A nil err is a graceful close: when both
// directions have exchanged Finish, buffered data is kept for Read to
// drain and io.EOF follows it; otherwise (a local Close, or any non-nil
// err) buffered data is discarded and a nil err reports ErrClosedStream.
func (s *Stream) finishClose(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		bothFin := err == nil && s.sendClosed && s.recvFin
		s.closed = true
		s.sendClosed = true
		s.recvFin = true
		if err != nil {
			s.closeErr = err
		} else if bothFin {
			s.closeErr = io.EOF
		} else {
			s.closeErr = ErrClosedStream
		}
		s.mu.Unlock()

		if !bothFin {
			s.recvLock.Lock()
			s.recvBuf.Reset()
			s.recvLock.Unlock()
		}

		s.finOnce.Do(func() { close(s.chFin) })
		s.wakeReadable()
		s.wakeWritable()
	})
	s.removeOnce.Do(func() {
		s.session.removeStream(s.localPort)
	})
}

// Split returns independent read and write halves of the stream. Cloning
// is not permitted: calling Split again panics, matching the "not
// permitted" rule of spec.md §4.5.
func (s *Stream) Split() (*StreamReader, *StreamWriter) {
	s.mu.Lock()
	if s.split {
		s.mu.Unlock()
		panic("wsmux: Stream.Split called more than once")
	}
	s.split = true
	s.mu.Unlock()
	return &StreamReader{s: s}, &StreamWriter{s: s}
}

// StreamReader is the read half of a split Stream.
type StreamReader struct {
	s *Stream
}

func (r *StreamReader) Read(p []byte) (int, error)        { return r.s.Read(p) }
func (r *StreamReader) SetReadDeadline(t time.Time) error { return r.s.SetReadDeadline(t) }

// Close releases this half. The stream itself is only torn down once the
// write half is also released without ever having gracefully shut down
// (spec.md §4.5); until then the write direction keeps working.
func (r *StreamReader) Close() error {
	return r.s.halfClosed(true)
}

// StreamWriter is the write half of a split Stream.
type StreamWriter struct {
	s *Stream
}

func (w *StreamWriter) Write(p []byte) (int, error)        { return w.s.Write(p) }
func (w *StreamWriter) Flush() error                        { return nil } // frames are handed off synchronously; nothing to buffer locally
func (w *StreamWriter) ShutdownWrite() error                { return w.s.CloseWrite() }
func (w *StreamWriter) SetWriteDeadline(t time.Time) error { return w.s.SetWriteDeadline(t) }

// Close releases this half, gracefully shutting down the write direction.
func (w *StreamWriter) Close() error {
	w.s.CloseWrite()
	return w.s.halfClosed(false)
}

// halfClosed is called whenever a split half is released. Only once BOTH
// halves are gone does it matter whether the write direction was shut
// down gracefully first: dropping both without a prior CloseWrite resets
// the stream per spec.md §4.5's "dropping both halves" rule, but either
// half alone being closed must leave the other half fully usable, since
// §4.5 says the halves "may be split and owned independently."
func (s *Stream) halfClosed(isReader bool) error {
	s.mu.Lock()
	if isReader {
		s.readerDone = true
	} else {
		s.writerDone = true
	}
	bothDone := s.readerDone && s.writerDone
	gracefulWrite := s.sendClosed
	s.mu.Unlock()
	if bothDone && !gracefulWrite {
		return s.Reset()
	}
	return nil
}
