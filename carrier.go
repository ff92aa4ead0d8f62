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

// Carrier is the single underlying bidirectional, reliable, ordered,
// message-framed transport the multiplexer runs over (spec.md §6/§9). The
// core never names a concrete WebSocket type; it only ever sees this
// capability interface, so any transport that can deliver one complete
// binary message per Recv/Send call can stand in for it (tests use one
// backed by Go channels; production uses WebsocketCarrier).
type Carrier interface {
	// Recv blocks until the next complete binary message arrives, or
	// returns an error (including io.EOF-equivalent on orderly close).
	Recv() ([]byte, error)
	// Send transmits one complete binary message. Implementations must
	// serialize concurrent callers themselves or document that they
	// don't need to (the multiplexer only ever calls Send from its single
	// writer task, per spec.md §5).
	Send(msg []byte) error
	// Close closes the carrier, delivering the given status to the peer
	// if the underlying transport supports one.
	Close(status CloseStatus) error
}

// CloseStatus carries a coarse reason for a carrier close, analogous to a
// WebSocket close code. CloseNormal is used by a graceful Session.Close;
// CloseAbnormal is used by the total-teardown path on protocol/carrier
// failure.
type CloseStatus int

const (
	CloseNormal CloseStatus = iota
	CloseAbnormal
)
