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

// Package config holds the JSON-overridable configuration shared by the
// wstun-client and wstun-server command-line entry points.
package config

import (
	"encoding/json"
	"os"
)

// Config mirrors the CLI flags of both tunnel endpoints; fields not
// relevant to one side are simply left zero there. OutboundQueue,
// DatagramQueue, DrainWait and Pprof have no flag and are decoded from
// JSON only; neither endpoint reads them.
type Config struct {
	LocalAddr  string `json:"localaddr"`
	RemoteAddr string `json:"remoteaddr"`
	Target     string `json:"target"`
	WSPath     string `json:"wspath"`

	StreamBuf      int  `json:"streambuf"`
	FramePayload   int  `json:"framepayload"`
	OutboundQueue  int  `json:"outboundqueue"`
	DatagramQueue  int  `json:"datagramqueue"`
	KeepAlive      int  `json:"keepalive"`
	DrainWait      int  `json:"drainwait"`
	ListenerBacklog int `json:"listenerbacklog"`
	AllowBind      bool `json:"allowbind"`
	NoComp         bool `json:"nocomp"`

	Log     string `json:"log"`
	Quiet   bool   `json:"quiet"`
	Pprof   bool   `json:"pprof"`
}

// ParseJSON decodes a JSON config file at path into cfg, overriding
// whatever fields the file sets.
func ParseJSON(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}
