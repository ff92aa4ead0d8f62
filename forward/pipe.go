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

// Package forward relays bytes between a local net.Conn and a wsmux.Stream
// for the command-line tunnel endpoints: one direction per goroutine, both
// torn down together once either side ends.
package forward

import (
	"io"
	"sync"
)

const relayBufSize = 4096

// relay moves bytes from src to dst the same way io.Copy does, checking
// for WriterTo/ReaderFrom first; a *wsmux.Stream (which implements
// neither) falls back to io.CopyBuffer with a relayBufSize buffer instead
// of io.Copy's larger default one.
func relay(dst io.Writer, src io.Reader) (int64, error) {
	if wt, ok := src.(io.WriterTo); ok {
		return wt.WriteTo(dst)
	}
	if rf, ok := dst.(io.ReaderFrom); ok {
		return rf.ReadFrom(src)
	}
	buf := make([]byte, relayBufSize)
	return io.CopyBuffer(dst, src, buf)
}

// Leg is the outcome of one direction of a Pipe: how many bytes crossed
// and the error (if any) that ended that direction's relay goroutine.
type Leg struct {
	Bytes int64
	Err   error
}

// Pipe relays near and far against each other. As soon as either direction
// ends, both sides are closed exactly once, which unblocks the other
// direction; Pipe returns once both have ended. near-to-far traffic is
// reported as the first Leg, far-to-near as the second.
func Pipe(near, far io.ReadWriteCloser) (toFar, toNear Leg) {
	var closeBoth sync.Once
	var wg sync.WaitGroup
	wg.Add(2)

	shutdown := func() {
		closeBoth.Do(func() {
			near.Close()
			far.Close()
		})
	}

	go func() {
		defer wg.Done()
		toFar.Bytes, toFar.Err = relay(far, near)
		shutdown()
	}()
	go func() {
		defer wg.Done()
		toNear.Bytes, toNear.Err = relay(near, far)
		shutdown()
	}()

	wg.Wait()
	return toFar, toNear
}
