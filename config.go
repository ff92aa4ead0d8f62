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
	"time"
)

// Role fixes each endpoint's port-allocation policy (spec.md §3): clients
// and servers allocate from disjoint halves of the 32-bit port space so
// concurrently opened streams can never collide.
type Role int

const (
	// RoleClient allocates odd local ports, starting at 1.
	RoleClient Role = iota
	// RoleServer allocates even local ports, starting at 2.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Config tunes a Session. Mirrors smux's Config/DefaultConfig/VerifyConfig
// shape, extended with spec.md's keep-alive slack, graceful drain timeout,
// and endpoint role.
type Config struct {
	// Role determines this endpoint's port-allocation half.
	Role Role

	// StreamBuffer is the per-stream receive buffer capacity in bytes
	// (spec.md §3: "default 16 KiB-order, configurable"). A stream's
	// initial credit grant to its peer equals this value.
	StreamBuffer int

	// CreditRefillThreshold is how many drained-but-unacknowledged bytes
	// accumulate before a credit-refill Acknowledge is scheduled
	// (spec.md §4.2: "default: half the buffer capacity"). Zero selects
	// StreamBuffer/2.
	CreditRefillThreshold int

	// MaxFramePayload bounds Push and Datagram payload size; larger
	// frames are a protocol error (spec.md §4.1, default 1 MiB).
	MaxFramePayload int

	// DatagramQueueDepth bounds each datagram channel's receive queue
	// (spec.md §3); additional datagrams are dropped once full.
	DatagramQueueDepth int

	// DatagramIdleTimeout reaps a datagram channel that has seen no send
	// or recv for this long (spec.md §4.3, default 60s).
	DatagramIdleTimeout time.Duration

	// DatagramSendTimeout bounds how long Send may block applying
	// backpressure before dropping the datagram (spec.md §4.3: "never
	// blocks the caller for more than a configurable short timeout").
	DatagramSendTimeout time.Duration

	// OutboundQueueDepth bounds the multiplexer's outbound frame queue
	// (spec.md §5: "Outbound carrier queue has a bounded depth").
	OutboundQueueDepth int

	// KeepAliveInterval is how often Ping is sent. Zero disables
	// keep-alive entirely (spec.md §4.4).
	KeepAliveInterval time.Duration

	// KeepAliveSlack is added to KeepAliveInterval to form the timeout
	// after which an unanswered Ping declares the carrier dead. Zero
	// selects KeepAliveInterval (spec.md §4.4's "slack default = interval").
	KeepAliveSlack time.Duration

	// DrainTimeout bounds how long Close waits for peer Finish responses
	// during a graceful shutdown before forcing the carrier closed
	// (spec.md §4.4).
	DrainTimeout time.Duration

	// ListenerBacklog bounds the accept queue for inbound Connect frames;
	// once full, further inbound Connects are answered with Reset
	// (spec.md §4.4).
	ListenerBacklog int

	// AllowBind makes an inbound Bind pre-register a datagram channel for
	// its flow id instead of being answered with a Reset; an accepted Bind
	// gets no reply frame. Remote UDP bind is optional per spec.md §4.4;
	// default is disabled.
	AllowBind bool
}

// DefaultConfig returns the configuration NewSession uses when it is given
// a nil Config.
func DefaultConfig() *Config {
	return &Config{
		Role:                RoleClient,
		StreamBuffer:        16 * 1024,
		MaxFramePayload:     1 << 20,
		DatagramQueueDepth:  64,
		DatagramIdleTimeout: 60 * time.Second,
		DatagramSendTimeout: 200 * time.Millisecond,
		OutboundQueueDepth:  256,
		KeepAliveInterval:   30 * time.Second,
		DrainTimeout:        5 * time.Second,
		ListenerBacklog:     1024,
	}
}

// VerifyConfig checks a Config for internal consistency before it is used
// to build a Session.
func VerifyConfig(c *Config) error {
	if c.StreamBuffer <= 0 {
		return errors.New("wsmux: StreamBuffer must be positive")
	}
	if c.CreditRefillThreshold < 0 || c.CreditRefillThreshold > c.StreamBuffer {
		return errors.New("wsmux: CreditRefillThreshold must be within [0, StreamBuffer]")
	}
	if c.MaxFramePayload <= 0 {
		return errors.New("wsmux: MaxFramePayload must be positive")
	}
	if c.DatagramQueueDepth <= 0 {
		return errors.New("wsmux: DatagramQueueDepth must be positive")
	}
	if c.OutboundQueueDepth <= 0 {
		return errors.New("wsmux: OutboundQueueDepth must be positive")
	}
	if c.KeepAliveInterval < 0 {
		return errors.New("wsmux: KeepAliveInterval must not be negative")
	}
	if c.KeepAliveSlack < 0 {
		return errors.New("wsmux: KeepAliveSlack must not be negative")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("wsmux: DrainTimeout must be positive")
	}
	if c.ListenerBacklog <= 0 {
		return errors.New("wsmux: ListenerBacklog must be positive")
	}
	return nil
}

func (c *Config) creditRefillThreshold() int {
	if c.CreditRefillThreshold > 0 {
		return c.CreditRefillThreshold
	}
	return c.StreamBuffer / 2
}

func (c *Config) keepAliveSlack() time.Duration {
	if c.KeepAliveSlack > 0 {
		return c.KeepAliveSlack
	}
	return c.KeepAliveInterval
}
