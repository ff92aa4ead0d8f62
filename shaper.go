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

import "container/heap"

// outboundClass orders the two priority bands of spec.md §4.4's outbound
// scheduling policy: "control frames preempt data". Frames within a band
// are served oldest-first, which round-robins fairly across streams since
// each Stream.Write call enqueues one frame-sized chunk at a time and
// waits for it to be accepted before queuing its next chunk (so no single
// stream can queue more than one outstanding frame ahead of its peers).
type outboundClass uint8

const (
	classControl outboundClass = iota // Acknowledge, Reset, Finish, Ping, Pong, Bind
	classData                         // Push, Datagram
)

// outboundRequest is one frame waiting to be written to the carrier, plus
// a channel the submitter blocks on for the write's outcome.
type outboundRequest struct {
	class  outboundClass
	seq    uint64
	f      frame
	result chan error
}

// outboundHeap is a min-heap ordering outboundRequests by (class, seq).
type outboundHeap []*outboundRequest

func (h outboundHeap) Len() int { return len(h) }
func (h outboundHeap) Less(i, j int) bool {
	if h[i].class != h[j].class {
		return h[i].class < h[j].class
	}
	return h[i].seq < h[j].seq
}
func (h outboundHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *outboundHeap) Push(x interface{}) {
	*h = append(*h, x.(*outboundRequest))
}

func (h *outboundHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var _ heap.Interface = (*outboundHeap)(nil)
