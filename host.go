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
	"encoding/binary"
	"fmt"
	"net"
)

// HostKind discriminates the three forms a Host may take on the wire.
type HostKind byte

const (
	// HostIPv4 tags a 4-byte IPv4 address.
	HostIPv4 HostKind = 0x01
	// HostIPv6 tags a 16-byte IPv6 address.
	HostIPv6 HostKind = 0x02
	// HostName tags a length-prefixed UTF-8 DNS name.
	HostName HostKind = 0x03
)

const maxHostNameLen = 255

// Host identifies a target or source address carried inline in a frame
// (Connect's target, Bind's host, Datagram's target). It is always one of
// an IPv4 address, an IPv6 address, or a DNS name.
type Host struct {
	Kind HostKind
	IP   net.IP // set when Kind is HostIPv4 or HostIPv6
	Name string // set when Kind is HostName
}

// HostFromIP builds a Host from a net.IP, choosing IPv4 or IPv6 encoding.
func HostFromIP(ip net.IP) Host {
	if v4 := ip.To4(); v4 != nil {
		return Host{Kind: HostIPv4, IP: v4}
	}
	return Host{Kind: HostIPv6, IP: ip.To16()}
}

// HostFromName builds a Host carrying a DNS name.
func HostFromName(name string) Host {
	return Host{Kind: HostName, Name: name}
}

// String renders the Host the way a dial target would be written.
func (h Host) String() string {
	switch h.Kind {
	case HostIPv4, HostIPv6:
		return h.IP.String()
	case HostName:
		return h.Name
	default:
		return fmt.Sprintf("<unknown host kind %#x>", byte(h.Kind))
	}
}

// encodedLen returns the number of bytes appendHost will append.
func (h Host) encodedLen() (int, error) {
	switch h.Kind {
	case HostIPv4:
		return 1 + 4, nil
	case HostIPv6:
		return 1 + 16, nil
	case HostName:
		if len(h.Name) > maxHostNameLen {
			return 0, fmt.Errorf("wsmux: host name %q exceeds %d bytes", h.Name, maxHostNameLen)
		}
		return 1 + 1 + len(h.Name), nil
	default:
		return 0, fmt.Errorf("wsmux: unknown host kind %#x", byte(h.Kind))
	}
}

// appendHost appends the wire encoding of h to buf and returns the result.
func appendHost(buf []byte, h Host) ([]byte, error) {
	switch h.Kind {
	case HostIPv4:
		ip := h.IP.To4()
		if ip == nil {
			return nil, fmt.Errorf("wsmux: HostIPv4 with non-IPv4 address %v", h.IP)
		}
		buf = append(buf, byte(HostIPv4))
		return append(buf, ip...), nil
	case HostIPv6:
		ip := h.IP.To16()
		if ip == nil {
			return nil, fmt.Errorf("wsmux: HostIPv6 with invalid address %v", h.IP)
		}
		buf = append(buf, byte(HostIPv6))
		return append(buf, ip...), nil
	case HostName:
		if len(h.Name) > maxHostNameLen {
			return nil, fmt.Errorf("wsmux: host name %q exceeds %d bytes", h.Name, maxHostNameLen)
		}
		buf = append(buf, byte(HostName), byte(len(h.Name)))
		return append(buf, h.Name...), nil
	default:
		return nil, fmt.Errorf("wsmux: unknown host kind %#x", byte(h.Kind))
	}
}

// decodeHost reads a Host from the front of buf, returning the Host and the
// number of bytes consumed.
func decodeHost(buf []byte) (Host, int, error) {
	if len(buf) < 1 {
		return Host{}, 0, fmt.Errorf("%w: truncated host tag", ErrProtocol)
	}
	switch HostKind(buf[0]) {
	case HostIPv4:
		if len(buf) < 1+4 {
			return Host{}, 0, fmt.Errorf("%w: truncated IPv4 host", ErrProtocol)
		}
		ip := make(net.IP, 4)
		copy(ip, buf[1:5])
		return Host{Kind: HostIPv4, IP: ip}, 5, nil
	case HostIPv6:
		if len(buf) < 1+16 {
			return Host{}, 0, fmt.Errorf("%w: truncated IPv6 host", ErrProtocol)
		}
		ip := make(net.IP, 16)
		copy(ip, buf[1:17])
		return Host{Kind: HostIPv6, IP: ip}, 17, nil
	case HostName:
		if len(buf) < 2 {
			return Host{}, 0, fmt.Errorf("%w: truncated name host", ErrProtocol)
		}
		n := int(buf[1])
		if len(buf) < 2+n {
			return Host{}, 0, fmt.Errorf("%w: truncated name host body", ErrProtocol)
		}
		name := string(buf[2 : 2+n])
		return Host{Kind: HostName, Name: name}, 2 + n, nil
	default:
		return Host{}, 0, fmt.Errorf("%w: unknown host tag %#x", ErrProtocol, buf[0])
	}
}

// ParseHostPort splits "host:port" into a Host and numeric port, the way
// a tunnel endpoint's target flag is interpreted. The host component is
// encoded as an IP address if it parses as one, else as a DNS name.
func ParseHostPort(hostport string) (Host, uint16, error) {
	h, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Host{}, 0, fmt.Errorf("wsmux: invalid target %q: %w", hostport, err)
	}
	var port uint32
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port == 0 || port > 0xFFFF {
		return Host{}, 0, fmt.Errorf("wsmux: invalid port %q in target %q", portStr, hostport)
	}
	if ip := net.ParseIP(h); ip != nil {
		return HostFromIP(ip), uint16(port), nil
	}
	return HostFromName(h), uint16(port), nil
}

// Multi-byte integer fields are big-endian, per the wire format.
func putUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(buf, v) }
func putUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func getUint16(buf []byte) uint16    { return binary.BigEndian.Uint16(buf) }
func getUint32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }
