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
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompressingCarrier wraps a Carrier, snappy-compressing each outbound
// message and decompressing each inbound one. Adapted from std/comp.go's
// CompStream, which does the same for a raw net.Conn stream using
// snappy's streaming frame format; here each message is already a
// complete unit (the underlying Carrier frames messages for us), so the
// simpler block format (snappy.Encode/Decode) applies directly instead.
type CompressingCarrier struct {
	inner Carrier
}

// NewCompressingCarrier returns a Carrier decorator that compresses every
// message handed to inner.
func NewCompressingCarrier(inner Carrier) *CompressingCarrier {
	return &CompressingCarrier{inner: inner}
}

func (c *CompressingCarrier) Recv() ([]byte, error) {
	msg, err := c.inner.Recv()
	if err != nil {
		return nil, err
	}
	out, err := snappy.Decode(nil, msg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func (c *CompressingCarrier) Send(msg []byte) error {
	return c.inner.Send(snappy.Encode(nil, msg))
}

func (c *CompressingCarrier) Close(status CloseStatus) error {
	return c.inner.Close(status)
}
