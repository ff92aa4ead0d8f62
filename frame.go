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

import "fmt"

// opcode identifies which frame variant a message carries. Values match
// spec.md §6's wire table; since no external peer implementation is
// specified for this repo, the table's own suggested numbering is used
// directly (DESIGN.md "Open Question resolutions").
type opcode byte

const (
	opConnect     opcode = 0x01
	opAcknowledge opcode = 0x02
	opReset       opcode = 0x03
	opFinish      opcode = 0x04
	opPush        opcode = 0x05
	opBind        opcode = 0x06
	opDatagram    opcode = 0x07
	opPing        opcode = 0x08
	opPong        opcode = 0x09
)

func (op opcode) String() string {
	switch op {
	case opConnect:
		return "Connect"
	case opAcknowledge:
		return "Acknowledge"
	case opReset:
		return "Reset"
	case opFinish:
		return "Finish"
	case opPush:
		return "Push"
	case opBind:
		return "Bind"
	case opDatagram:
		return "Datagram"
	case opPing:
		return "Ping"
	case opPong:
		return "Pong"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(op))
	}
}

// frame is the in-memory union of every wire variant in spec.md §3/§6. Only
// the fields relevant to .op are meaningful; the rest are zero.
type frame struct {
	op opcode

	ourPort    uint32 // Connect, Acknowledge, Reset, Finish, Push
	theirPort  uint32 // Acknowledge, Reset, Finish, Push
	credit     uint32 // Acknowledge: initial credit, or additional credit when theirPort != 0
	targetPort uint16 // Connect, Datagram
	targetHost Host   // Connect, Datagram (target), Bind (host)
	flowID     uint32 // Bind
	sourcePort uint32 // Datagram
	token      uint32 // Ping, Pong
	payload    []byte // Push, Datagram
}

// encodeFrame appends the wire encoding of f to buf and returns the result.
func encodeFrame(buf []byte, f frame, maxPayload int) ([]byte, error) {
	buf = append(buf, byte(f.op))
	switch f.op {
	case opConnect:
		var hdr [4 + 2]byte
		putUint32(hdr[0:], f.ourPort)
		putUint16(hdr[4:], f.targetPort)
		buf = append(buf, hdr[:]...)
		return appendHost(buf, f.targetHost)

	case opAcknowledge:
		var hdr [4 + 4 + 4]byte
		putUint32(hdr[0:], f.ourPort)
		putUint32(hdr[4:], f.theirPort)
		putUint32(hdr[8:], f.credit)
		return append(buf, hdr[:]...), nil

	case opReset, opFinish:
		var hdr [4 + 4]byte
		putUint32(hdr[0:], f.ourPort)
		putUint32(hdr[4:], f.theirPort)
		return append(buf, hdr[:]...), nil

	case opPush:
		if len(f.payload) > maxPayload {
			return nil, fmt.Errorf("wsmux: Push payload %d bytes exceeds max %d", len(f.payload), maxPayload)
		}
		var hdr [4 + 4]byte
		putUint32(hdr[0:], f.ourPort)
		putUint32(hdr[4:], f.theirPort)
		buf = append(buf, hdr[:]...)
		return append(buf, f.payload...), nil

	case opBind:
		var hdr [4 + 2]byte
		putUint32(hdr[0:], f.flowID)
		putUint16(hdr[4:], f.targetPort)
		buf = append(buf, hdr[:]...)
		return appendHost(buf, f.targetHost)

	case opDatagram:
		if len(f.payload) > maxPayload {
			return nil, fmt.Errorf("wsmux: Datagram payload %d bytes exceeds max %d", len(f.payload), maxPayload)
		}
		var hdr [4 + 2]byte
		putUint32(hdr[0:], f.sourcePort)
		putUint16(hdr[4:], f.targetPort)
		buf = append(buf, hdr[:]...)
		var err error
		buf, err = appendHost(buf, f.targetHost)
		if err != nil {
			return nil, err
		}
		var lenBuf [2]byte
		putUint16(lenBuf[:], uint16(len(f.payload)))
		buf = append(buf, lenBuf[:]...)
		return append(buf, f.payload...), nil

	case opPing, opPong:
		var hdr [4]byte
		putUint32(hdr[0:], f.token)
		return append(buf, hdr[:]...), nil

	default:
		return nil, fmt.Errorf("wsmux: encode: unknown opcode %#x", byte(f.op))
	}
}

// decodeFrame parses one complete carrier message into a frame. The codec
// rejects unknown opcodes and schema/length mismatches as protocol errors,
// per spec.md §4.1; the multiplexer upgrades these to a fatal teardown.
func decodeFrame(msg []byte, maxPayload int) (frame, error) {
	if len(msg) < 1 {
		return frame{}, newProtocolError(0, "empty message")
	}
	op := opcode(msg[0])
	body := msg[1:]

	switch op {
	case opConnect:
		const fixed = 4 + 2
		if len(body) < fixed {
			return frame{}, newProtocolError(byte(op), "truncated Connect header")
		}
		host, n, err := decodeHost(body[fixed:])
		if err != nil {
			return frame{}, newProtocolError(byte(op), err.Error())
		}
		if fixed+n != len(body) {
			return frame{}, newProtocolError(byte(op), "trailing bytes after Connect host")
		}
		return frame{
			op:         op,
			ourPort:    getUint32(body[0:]),
			targetPort: getUint16(body[4:]),
			targetHost: host,
		}, nil

	case opAcknowledge:
		const want = 4 + 4 + 4
		if len(body) != want {
			return frame{}, newProtocolError(byte(op), "bad Acknowledge length")
		}
		return frame{
			op:        op,
			ourPort:   getUint32(body[0:]),
			theirPort: getUint32(body[4:]),
			credit:    getUint32(body[8:]),
		}, nil

	case opReset, opFinish:
		const want = 4 + 4
		if len(body) != want {
			return frame{}, newProtocolError(byte(op), fmt.Sprintf("bad %s length", op))
		}
		return frame{
			op:        op,
			ourPort:   getUint32(body[0:]),
			theirPort: getUint32(body[4:]),
		}, nil

	case opPush:
		const fixed = 4 + 4
		if len(body) < fixed {
			return frame{}, newProtocolError(byte(op), "truncated Push header")
		}
		payload := body[fixed:]
		if len(payload) > maxPayload {
			return frame{}, newProtocolError(byte(op), "oversize Push payload")
		}
		return frame{
			op:        op,
			ourPort:   getUint32(body[0:]),
			theirPort: getUint32(body[4:]),
			payload:   payload,
		}, nil

	case opBind:
		const fixed = 4 + 2
		if len(body) < fixed {
			return frame{}, newProtocolError(byte(op), "truncated Bind header")
		}
		host, n, err := decodeHost(body[fixed:])
		if err != nil {
			return frame{}, newProtocolError(byte(op), err.Error())
		}
		if fixed+n != len(body) {
			return frame{}, newProtocolError(byte(op), "trailing bytes after Bind host")
		}
		return frame{
			op:         op,
			flowID:     getUint32(body[0:]),
			targetPort: getUint16(body[4:]),
			targetHost: host,
		}, nil

	case opDatagram:
		const fixed = 4 + 2
		if len(body) < fixed {
			return frame{}, newProtocolError(byte(op), "truncated Datagram header")
		}
		host, n, err := decodeHost(body[fixed:])
		if err != nil {
			return frame{}, newProtocolError(byte(op), err.Error())
		}
		rest := body[fixed+n:]
		if len(rest) < 2 {
			return frame{}, newProtocolError(byte(op), "truncated Datagram length")
		}
		payloadLen := int(getUint16(rest[0:]))
		if len(rest)-2 != payloadLen {
			return frame{}, newProtocolError(byte(op), "Datagram length mismatch")
		}
		if payloadLen > maxPayload {
			return frame{}, newProtocolError(byte(op), "oversize Datagram payload")
		}
		return frame{
			op:         op,
			sourcePort: getUint32(body[0:]),
			targetPort: getUint16(body[4:]),
			targetHost: host,
			payload:    rest[2:],
		}, nil

	case opPing, opPong:
		if len(body) != 4 {
			return frame{}, newProtocolError(byte(op), fmt.Sprintf("bad %s length", op))
		}
		return frame{op: op, token: getUint32(body[0:])}, nil

	default:
		return frame{}, newProtocolError(byte(op), "unknown opcode")
	}
}
