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

// AcceptedStream is one inbound Connect, surfaced with the target address
// the dialer asked to reach (spec.md §4.5): the core never itself
// connects anywhere, it only tells the accepting application where the
// peer wants to go.
type AcceptedStream struct {
	Stream     *Stream
	TargetHost Host
	TargetPort uint16
}

// Listener is the accept side of inbound streams, backed by a bounded
// queue (spec.md §4.4's ListenerBacklog); once full, further inbound
// Connects are answered with Reset rather than blocking the reader.
// Grounded on smux's chAccepts channel, extended to carry the Connect
// frame's target address alongside the accepted Stream.
type Listener struct {
	sess   *Session
	accept chan *AcceptedStream
}

func newListener(sess *Session) *Listener {
	return &Listener{
		sess:   sess,
		accept: make(chan *AcceptedStream, sess.config.ListenerBacklog),
	}
}

// offer enqueues an inbound stream without blocking; it reports whether
// the listener had room.
func (l *Listener) offer(a *AcceptedStream) bool {
	select {
	case l.accept <- a:
		return true
	default:
		return false
	}
}

// Accept blocks until an inbound stream arrives or the session dies.
func (l *Listener) Accept() (*AcceptedStream, error) {
	select {
	case a := <-l.accept:
		return a, nil
	case <-l.sess.dying():
		return nil, l.sess.Err()
	}
}
