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
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one multiplexer core running over a single Carrier, per
// spec.md §5: a reader task, a writer task, and a keep-alive task,
// sharing a port table and an outbound priority queue.
type Session struct {
	carrier Carrier
	config  *Config

	seq uint64 // outbound sequence counter, for FIFO-within-class ordering

	outIn    chan *outboundRequest // producers submit here
	writerIn chan *outboundRequest // shaper hands accepted frames here

	mu          sync.Mutex
	streams     map[uint32]*Stream
	nextPort    uint32
	portBase    uint32 // 1 (RoleClient) or 2 (RoleServer): where nextPort wraps back to
	portCount   uint32 // number of distinct ports in this Role's cycle, for exhaustion detection
	listener    *Listener
	datagrams   *datagramTable

	die           chan struct{}
	dieOnce       sync.Once
	dieErr        error
	closedLocally bool // set by Close before die closes; distinguishes local Close from fail
	dieMu         sync.Mutex

	chPong chan struct{}

	wg sync.WaitGroup
}

// NewSession builds a Session around carrier and starts its reader,
// writer, shaper, and keep-alive tasks. cfg is verified with
// VerifyConfig; a nil cfg selects DefaultConfig.
func NewSession(carrier Carrier, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}

	sess := &Session{
		carrier:  carrier,
		config:   cfg,
		outIn:    make(chan *outboundRequest, cfg.OutboundQueueDepth),
		writerIn: make(chan *outboundRequest),
		streams:  make(map[uint32]*Stream),
		die:      make(chan struct{}),
		chPong:   make(chan struct{}, 1),
	}
	sess.datagrams = newDatagramTable(sess)
	if cfg.Role == RoleServer {
		sess.nextPort = 2
	} else {
		sess.nextPort = 1
	}
	sess.portBase = sess.nextPort
	// Count of distinct values in the arithmetic sequence portBase,
	// portBase+2, ... wrapping at uint32 overflow: (maxUint32-portBase)/2+1.
	sess.portCount = (maxUint32-sess.portBase)/2 + 1

	sess.wg.Add(3)
	go sess.shaperLoop()
	go sess.writerLoop()
	go sess.readerLoop()
	if cfg.KeepAliveInterval > 0 {
		sess.wg.Add(1)
		go sess.keepaliveLoop()
	}
	sess.datagrams.start()

	return sess, nil
}

// dying returns a channel that's closed once the session has begun
// tearing down, for blocked Stream/Listener/Datagram operations to select
// on.
func (sess *Session) dying() <-chan struct{} { return sess.die }

// fail triggers the total-teardown path of spec.md §7: every live stream
// is torn down with err, and the carrier is closed abnormally.
func (sess *Session) fail(err error) {
	sess.dieOnce.Do(func() {
		sess.dieMu.Lock()
		sess.dieErr = err
		sess.dieMu.Unlock()
		close(sess.die)

		sess.mu.Lock()
		streams := make([]*Stream, 0, len(sess.streams))
		for _, s := range sess.streams {
			streams = append(streams, s)
		}
		sess.mu.Unlock()
		for _, s := range streams {
			s.onCarrierLoss()
		}
		sess.datagrams.closeAll()

		sess.carrier.Close(CloseAbnormal)
	})
}

// Err returns the reason the session terminated, or nil while it's still
// live.
func (sess *Session) Err() error {
	sess.dieMu.Lock()
	defer sess.dieMu.Unlock()
	return sess.dieErr
}

// deathErr is what a blocked operation unblocked by sess.die should report:
// ErrClosedSession if this end called Close itself, ErrPeerClosedSession if
// the peer or the carrier is what went away.
func (sess *Session) deathErr() error {
	sess.dieMu.Lock()
	defer sess.dieMu.Unlock()
	if sess.closedLocally {
		return ErrClosedSession
	}
	return ErrPeerClosedSession
}

// Wait blocks until every session task has exited.
func (sess *Session) Wait() { sess.wg.Wait() }

// Close performs the graceful shutdown of spec.md §4.4: CloseWrite on
// every open stream, wait up to DrainTimeout for the peer to answer with
// its own Finish frames, then close the carrier normally.
func (sess *Session) Close() error {
	sess.mu.Lock()
	streams := make([]*Stream, 0, len(sess.streams))
	for _, s := range sess.streams {
		streams = append(streams, s)
	}
	sess.mu.Unlock()

	for _, s := range streams {
		s.CloseWrite()
	}

	deadline := time.NewTimer(sess.config.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		select {
		case <-deadline.C:
			break drain
		case <-sess.die:
			return sess.Err()
		case <-ticker.C:
			if sess.streamCount() == 0 {
				break drain
			}
		}
	}

	sess.dieOnce.Do(func() {
		sess.dieMu.Lock()
		sess.closedLocally = true
		sess.dieErr = ErrClosedSession
		sess.dieMu.Unlock()
		close(sess.die)
		sess.datagrams.closeAll()
		sess.carrier.Close(CloseNormal)
	})
	return nil
}

func (sess *Session) streamCount() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.streams)
}

func (sess *Session) removeStream(localPort uint32) {
	sess.mu.Lock()
	delete(sess.streams, localPort)
	sess.mu.Unlock()
}

// maxUint32 is the top of the port address space (port 0 is reserved).
const maxUint32 = 1<<32 - 1

// allocPort picks this endpoint's next free local port, honoring the
// Role-based odd/even disjointness of spec.md §3. On overflow, the search
// wraps to portBase (this Role's first port) rather than to the port it
// happened to start this call from. It tries at most portCount distinct
// candidates, the size of this Role's full cycle, before declaring
// ErrGoAway — a count rather than a "back to where we started" comparison
// so the cycle length is a field callers (tests included) can shrink.
func (sess *Session) allocPort() (uint32, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	for i := uint32(0); i < sess.portCount; i++ {
		p := sess.nextPort
		sess.nextPort += 2
		if sess.nextPort == 0 || sess.nextPort < p { // overflow guard
			sess.nextPort = sess.portBase
		}
		if _, taken := sess.streams[p]; !taken && p != 0 {
			return p, nil
		}
	}
	return 0, ErrGoAway
}

// --- outbound path -------------------------------------------------------

// sendControl submits a control-class frame without blocking on anything
// but the session dying; control frames preempt data in the shaper.
func (sess *Session) sendControl(f frame) error {
	return sess.submit(f, classControl, time.Time{})
}

// sendData submits a data-class frame (Push/Datagram), honoring deadline
// if nonzero.
func (sess *Session) sendData(f frame, deadline time.Time) error {
	return sess.submit(f, classData, deadline)
}

func (sess *Session) submit(f frame, class outboundClass, deadline time.Time) error {
	req := &outboundRequest{
		class:  class,
		seq:    atomic.AddUint64(&sess.seq, 1),
		f:      f,
		result: make(chan error, 1),
	}

	var deadlineCh <-chan time.Time
	if !deadline.IsZero() {
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		deadlineCh = t.C
	}

	select {
	case sess.outIn <- req:
	case <-sess.die:
		return sess.deathErr()
	case <-deadlineCh:
		return ErrTimeout
	}

	select {
	case err := <-req.result:
		return err
	case <-sess.die:
		return sess.deathErr()
	case <-deadlineCh:
		return ErrTimeout
	}
}

// trySendControl is a non-blocking best-effort submit used for Pong
// replies and other fast-path control traffic where dropping under
// extreme backpressure is preferable to stalling the reader (a lost Pong
// only costs one keep-alive cycle).
func (sess *Session) trySendControl(f frame) {
	req := &outboundRequest{
		class:  classControl,
		seq:    atomic.AddUint64(&sess.seq, 1),
		f:      f,
		result: make(chan error, 1),
	}
	select {
	case sess.outIn <- req:
	default:
	}
}

// shaperLoop implements spec.md §4.4's "control frames preempt data"
// policy: a bounded min-heap ordered by (class, seq) sits between the
// producer-facing outIn channel and the single-writer writerIn channel,
// only accepting new work while under OutboundQueueDepth so backpressure
// reaches producers directly. Adapted from smux's shaperLoop/shaperHeap.
func (sess *Session) shaperLoop() {
	defer sess.wg.Done()
	var h outboundHeap
	for {
		var chOut chan *outboundRequest
		var next *outboundRequest
		if len(h) > 0 {
			chOut = sess.writerIn
			next = h[0]
		}
		var chIn chan *outboundRequest
		if len(h) < cap(sess.outIn) {
			chIn = sess.outIn
		}

		select {
		case <-sess.die:
			return
		case r := <-chIn:
			heap.Push(&h, r)
		case chOut <- next:
			heap.Pop(&h)
		}
	}
}

// writerLoop is the session's single writer task: it serializes encoded
// frames onto the carrier one at a time, per spec.md §5.
func (sess *Session) writerLoop() {
	defer sess.wg.Done()
	scratch := make([]byte, 0, 2048)

	for {
		select {
		case <-sess.die:
			return
		case req := <-sess.writerIn:
			buf, err := encodeFrame(scratch[:0], req.f, sess.config.MaxFramePayload)
			if err != nil {
				req.result <- err
				sess.fail(err)
				return
			}
			scratch = buf
			err = sess.carrier.Send(buf)
			select {
			case req.result <- err:
			default:
			}
			if err != nil {
				sess.fail(err)
				return
			}
		}
	}
}

// --- inbound path ---------------------------------------------------------

// readerLoop is the session's single reader task: it pulls complete
// messages off the carrier, decodes them, and dispatches synchronously.
// Dispatch never blocks on user code (spec.md §4.4): every handler either
// does O(1) bookkeeping or enqueues into a bounded, drop-on-full queue.
func (sess *Session) readerLoop() {
	defer sess.wg.Done()
	for {
		msg, err := sess.carrier.Recv()
		if err != nil {
			sess.fail(err)
			return
		}
		f, err := decodeFrame(msg, sess.config.MaxFramePayload)
		if err != nil {
			sess.fail(err)
			return
		}
		sess.dispatch(f)
	}
}

func (sess *Session) dispatch(f frame) {
	switch f.op {
	case opConnect:
		sess.handleConnect(f)
	case opAcknowledge:
		sess.handleAcknowledge(f)
	case opReset:
		sess.handleReset(f)
	case opFinish:
		sess.handleFinish(f)
	case opPush:
		sess.handlePush(f)
	case opBind:
		sess.handleBind(f)
	case opDatagram:
		sess.datagrams.deliver(f)
	case opPing:
		sess.handlePing(f)
	case opPong:
		sess.handlePong(f)
	}
}

func (sess *Session) handleConnect(f frame) {
	if sess.listener == nil {
		sess.trySendControl(frame{op: opReset, ourPort: 0, theirPort: f.ourPort})
		return
	}

	localPort, err := sess.allocPort()
	if err != nil {
		sess.trySendControl(frame{op: opReset, ourPort: 0, theirPort: f.ourPort})
		return
	}

	// The acceptor becomes Established immediately; its remoteWindow is a
	// slow-start guess since the initiator never states its own buffer
	// capacity (spec.md §4.2 only has the acceptor announce credit).
	s := newStream(sess, localPort, f.ourPort, stateEstablished, uint32(sess.config.StreamBuffer))

	sess.mu.Lock()
	sess.streams[localPort] = s
	sess.mu.Unlock()

	accepted := &AcceptedStream{Stream: s, TargetHost: f.targetHost, TargetPort: f.targetPort}
	if !sess.listener.offer(accepted) {
		sess.removeStream(localPort)
		sess.trySendControl(frame{op: opReset, ourPort: 0, theirPort: f.ourPort})
		return
	}

	sess.trySendControl(frame{
		op:        opAcknowledge,
		ourPort:   localPort,
		theirPort: f.ourPort,
		credit:    uint32(sess.config.StreamBuffer),
	})
}

func (sess *Session) handleAcknowledge(f frame) {
	localPort := f.theirPort
	sess.mu.Lock()
	s, ok := sess.streams[localPort]
	sess.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	pending := s.state == stateConnecting && s.peerPort == 0
	s.mu.Unlock()

	if pending {
		s.resolveConnect(f.ourPort, f.credit)
		return
	}
	s.grantCredit(f.credit)
}

func (sess *Session) handleReset(f frame) {
	localPort := f.theirPort
	sess.mu.Lock()
	s, ok := sess.streams[localPort]
	sess.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	pending := s.state == stateConnecting
	s.mu.Unlock()
	if pending {
		s.refuseConnect()
		sess.removeStream(localPort)
		return
	}
	s.onPeerReset()
}

func (sess *Session) handleFinish(f frame) {
	localPort := f.theirPort
	sess.mu.Lock()
	s, ok := sess.streams[localPort]
	sess.mu.Unlock()
	if !ok {
		return
	}
	s.onPeerFinish()
}

func (sess *Session) handlePush(f frame) {
	localPort := f.theirPort
	sess.mu.Lock()
	s, ok := sess.streams[localPort]
	sess.mu.Unlock()
	if !ok {
		// Unknown stream: either already closed or a stale/forged
		// frame. Tell the peer so it stops sending (spec.md §4.4).
		sess.trySendControl(frame{op: opReset, ourPort: 0, theirPort: f.ourPort})
		return
	}
	if err := s.push(f.payload); err != nil {
		sess.fail(err)
	}
}

func (sess *Session) handleBind(f frame) {
	if !sess.config.AllowBind {
		sess.trySendControl(frame{op: opReset, ourPort: 0, theirPort: f.flowID})
		return
	}
	// Remote UDP bind is modeled as a datagram channel pre-registered
	// against the requested host/port; the datagram table owns its
	// lifecycle from here on.
	sess.datagrams.bind(f.flowID, f.targetHost, f.targetPort)
}

func (sess *Session) handlePing(f frame) {
	sess.trySendControl(frame{op: opPong, token: f.token})
}

func (sess *Session) handlePong(f frame) {
	select {
	case sess.chPong <- struct{}{}:
	default:
	}
}

// keepaliveLoop sends a Ping every KeepAliveInterval and declares the
// carrier dead if no Pong arrives within KeepAliveInterval+Slack (spec.md
// §4.4).
func (sess *Session) keepaliveLoop() {
	defer sess.wg.Done()
	ticker := time.NewTicker(sess.config.KeepAliveInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(sess.config.KeepAliveInterval + sess.config.keepAliveSlack())
	defer timeout.Stop()

	var token uint32
	for {
		select {
		case <-sess.die:
			return
		case <-ticker.C:
			token++
			sess.trySendControl(frame{op: opPing, token: token})
		case <-sess.chPong:
			if !timeout.Stop() {
				select {
				case <-timeout.C:
				default:
				}
			}
			timeout.Reset(sess.config.KeepAliveInterval + sess.config.keepAliveSlack())
		case <-timeout.C:
			sess.fail(ErrPeerClosedSession)
			return
		}
	}
}

// --- public stream API ------------------------------------------------------

// DialStream opens a new stream addressed at (targetHost, targetPort),
// blocking until the peer answers with Acknowledge or Reset, the context
// is done, or the session dies.
func (sess *Session) DialStream(ctx context.Context, targetHost Host, targetPort uint16) (*Stream, error) {
	localPort, err := sess.allocPort()
	if err != nil {
		return nil, err
	}

	s := newStream(sess, localPort, 0, stateConnecting, 0)
	sess.mu.Lock()
	sess.streams[localPort] = s
	sess.mu.Unlock()

	err = sess.sendControl(frame{op: opConnect, ourPort: localPort, targetHost: targetHost, targetPort: targetPort})
	if err != nil {
		sess.removeStream(localPort)
		return nil, err
	}

	if err := s.waitConnect(ctx); err != nil {
		sess.removeStream(localPort)
		return nil, err
	}
	return s, nil
}

// DialStreamTimeout is a convenience wrapper around DialStream using a
// plain timeout instead of a context.
func (sess *Session) DialStreamTimeout(targetHost Host, targetPort uint16, timeout time.Duration) (*Stream, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sess.DialStream(ctx, targetHost, targetPort)
}

// Listen installs this session's inbound-Connect listener. Only one may
// be installed; subsequent inbound Connects are Reset until a Listener
// exists.
func (sess *Session) Listen() *Listener {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.listener == nil {
		sess.listener = newListener(sess)
	}
	return sess.listener
}

// OpenDatagram returns a handle bound to localPort for sending and
// receiving unreliable datagrams (spec.md §4.3).
func (sess *Session) OpenDatagram(localPort uint32) *DatagramHandle {
	return sess.datagrams.open(localPort)
}
