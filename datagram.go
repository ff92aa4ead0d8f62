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
	"sync"
	"time"
)

// datagramMsg is one inbound Datagram frame, unwrapped for delivery to a
// DatagramHandle's Recv.
type datagramMsg struct {
	host    Host
	port    uint16
	payload []byte
}

// datagramChannel is the bounded, drop-on-full receive queue for all
// datagrams carrying a given sourcePort (spec.md §4.3's (host, port,
// peer_port) channel, collapsed on the receive side to the peer_port
// dimension: a DatagramHandle's Recv already returns the (host, port)
// half of the key per message, so one queue per local port is sufficient
// to satisfy "fill one channel's queue without affecting others").
type datagramChannel struct {
	localPort uint32
	inbox     chan datagramMsg
	lastUse   time.Time
	mu        sync.Mutex
}

func (c *datagramChannel) touch() {
	c.mu.Lock()
	c.lastUse = time.Now()
	c.mu.Unlock()
}

func (c *datagramChannel) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUse)
}

// datagramTable owns every datagramChannel for a Session and reaps idle
// ones. Grounded on kcptun's client/main.go scavenger goroutine, which
// periodically retires idle entries from a table of live flows.
type datagramTable struct {
	sess *Session

	mu       sync.Mutex
	channels map[uint32]*datagramChannel

	die chan struct{}
}

func newDatagramTable(sess *Session) *datagramTable {
	return &datagramTable{
		sess:     sess,
		channels: make(map[uint32]*datagramChannel),
		die:      make(chan struct{}),
	}
}

func (t *datagramTable) start() {
	if t.sess.config.DatagramIdleTimeout > 0 {
		go t.reapLoop()
	}
}

func (t *datagramTable) reapLoop() {
	interval := t.sess.config.DatagramIdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.die:
			return
		case <-t.sess.dying():
			return
		case <-ticker.C:
			t.reapOnce()
		}
	}
}

func (t *datagramTable) reapOnce() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for port, ch := range t.channels {
		if ch.idleSince() > t.sess.config.DatagramIdleTimeout {
			delete(t.channels, port)
		}
	}
}

func (t *datagramTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.die:
	default:
		close(t.die)
	}
}

func (t *datagramTable) channelFor(localPort uint32) *datagramChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[localPort]
	if !ok {
		ch = &datagramChannel{
			localPort: localPort,
			inbox:     make(chan datagramMsg, t.sess.config.DatagramQueueDepth),
			lastUse:   time.Now(),
		}
		t.channels[localPort] = ch
	}
	return ch
}

// deliver routes an inbound Datagram frame to the channel matching its
// sourcePort, dropping it if that channel's queue is full (spec.md §4.3:
// unreliable, best-effort).
func (t *datagramTable) deliver(f frame) {
	ch := t.channelFor(f.sourcePort)
	ch.touch()
	msg := datagramMsg{host: f.targetHost, port: f.targetPort, payload: f.payload}
	select {
	case ch.inbox <- msg:
	default:
		// queue full: drop without affecting any other channel.
	}
}

// bind registers a remote UDP bind request (spec.md §4.4's optional Bind
// opcode) as a pre-existing channel, so datagrams later addressed at this
// flow id are not dropped for lack of a receiver. The requested (host,
// port) itself carries no further state here: it is only a hint that the
// peer intends to relay from that address, which arrives again on every
// subsequent Datagram frame.
func (t *datagramTable) bind(flowID uint32, host Host, port uint16) {
	t.channelFor(flowID)
}

// open returns the public handle for localPort, creating its channel on
// first use.
func (t *datagramTable) open(localPort uint32) *DatagramHandle {
	return &DatagramHandle{
		sess:      t.sess,
		table:     t,
		localPort: localPort,
	}
}

// DatagramHandle is the public API for one unreliable datagram flow,
// identified by a locally chosen source port (spec.md §4.5).
type DatagramHandle struct {
	sess      *Session
	table     *datagramTable
	localPort uint32
}

// Send transmits one datagram to (host, port). It never blocks longer
// than the session's DatagramSendTimeout; on backpressure the datagram is
// dropped and ErrQueueFull is returned (spec.md §4.3).
func (h *DatagramHandle) Send(host Host, port uint16, payload []byte) error {
	if len(payload) > h.sess.config.MaxFramePayload {
		return newProtocolError(byte(opDatagram), "datagram payload exceeds max frame payload")
	}
	deadline := time.Now().Add(h.sess.config.DatagramSendTimeout)
	err := h.sess.sendData(frame{
		op:         opDatagram,
		sourcePort: h.localPort,
		targetHost: host,
		targetPort: port,
		payload:    payload,
	}, deadline)
	if err == ErrTimeout {
		return ErrQueueFull
	}
	return err
}

// Recv blocks until a datagram addressed to this handle's source port
// arrives, or the session dies.
func (h *DatagramHandle) Recv() (Host, uint16, []byte, error) {
	ch := h.table.channelFor(h.localPort)
	select {
	case msg := <-ch.inbox:
		return msg.host, msg.port, msg.payload, nil
	case <-h.sess.dying():
		return Host{}, 0, nil, h.sess.Err()
	}
}

// Close drops this flow's channel; already-buffered datagrams are
// discarded.
func (h *DatagramHandle) Close() error {
	h.table.mu.Lock()
	delete(h.table.channels, h.localPort)
	h.table.mu.Unlock()
	return nil
}
