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
	"errors"
	"fmt"
)

// Errors relating to session or stream teardown. These mirror the taxonomy
// of spec.md §7: protocol/carrier errors are fatal to the whole session;
// stream-refused/stream-reset/cancelled are isolated to one stream.
var (
	// ErrClosedSession is returned by operations on a Session that was
	// closed locally via Close.
	ErrClosedSession = errors.New("wsmux: session was closed")
	// ErrPeerClosedSession is the carrier-loss indication delivered to all
	// live streams/datagram channels when the carrier is declared dead.
	ErrPeerClosedSession = errors.New("wsmux: peer closed or carrier was lost")
	// ErrClosedStream is returned to a stream's own user after the stream
	// reaches Closed locally (graceful).
	ErrClosedStream = errors.New("wsmux: stream was closed")
	// ErrPeerReset is delivered to a stream's blocked users when the peer
	// sends a Reset frame mid-stream.
	ErrPeerReset = errors.New("wsmux: peer reset the stream")
	// ErrStreamRefused is reported to the originating connector when the
	// peer answers a Connect with a Reset instead of an Acknowledge.
	ErrStreamRefused = errors.New("wsmux: peer refused the connection")
	// ErrGoAway indicates the local port space is exhausted; the caller
	// should stop opening new streams on this session.
	ErrGoAway = errors.New("wsmux: local port space exhausted")
	// ErrTimeout is returned when an operation's deadline elapses.
	ErrTimeout = errors.New("wsmux: i/o timeout")
	// ErrQueueFull is returned by a datagram Send when the outbound queue
	// could not accept the frame within DatagramSendTimeout.
	ErrQueueFull = errors.New("wsmux: outbound queue full, datagram dropped")
	// ErrProtocol is wrapped by every protocol-error detail; any error
	// satisfying errors.Is(err, ErrProtocol) is fatal to the session.
	ErrProtocol = errors.New("wsmux: protocol error")
)

// ProtocolError is a detailed protocol violation: a malformed frame, an
// unknown opcode, a credit overrun, or a stream-bound frame for a stream
// that doesn't exist and isn't Reset-recoverable. It always unwraps to
// ErrProtocol so callers can use errors.Is(err, wsmux.ErrProtocol).
type ProtocolError struct {
	Opcode uint8
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wsmux: protocol error (opcode %#x): %s", e.Opcode, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func newProtocolError(opcode uint8, reason string) *ProtocolError {
	return &ProtocolError{Opcode: opcode, Reason: reason}
}
