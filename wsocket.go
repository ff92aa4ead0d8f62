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
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketCarrier adapts a *websocket.Conn to the Carrier interface.
// Grounded on the gorilla/websocket NextReader/WriteMessage(BinaryMessage)
// pattern used by comparable WS-multiplexer session types in the wild: one
// binary message in, one binary message out, per call.
type WebsocketCarrier struct {
	conn *websocket.Conn
}

// NewWebsocketCarrier wraps conn. The caller retains ownership of conn's
// configuration (deadlines, read limits, compression) before handing it
// off; the carrier only ever calls ReadMessage/WriteMessage/WriteControl/
// Close on it.
func NewWebsocketCarrier(conn *websocket.Conn) *WebsocketCarrier {
	return &WebsocketCarrier{conn: conn}
}

// Recv reads the next complete binary message. Non-binary control frames
// (ping/pong/close) are handled transparently by gorilla's default
// handlers and never surface here; a text message is treated as a
// protocol violation since the wire format is binary-only.
func (c *WebsocketCarrier) Recv() ([]byte, error) {
	kind, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, newProtocolError(0, "carrier delivered a non-binary websocket message")
	}
	return msg, nil
}

// Send writes one binary message. The multiplexer only ever calls Send
// from its single writer task, so no additional locking is needed here.
func (c *WebsocketCarrier) Send(msg []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Close sends a close frame matching status and closes the underlying
// connection.
func (c *WebsocketCarrier) Close(status CloseStatus) error {
	code := websocket.CloseNormalClosure
	if status == CloseAbnormal {
		code = websocket.CloseInternalServerErr
	}
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline)
	return c.conn.Close()
}
