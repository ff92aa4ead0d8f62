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

package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/nstream/wsmux"
	"github.com/nstream/wsmux/cmd/internal/config"
	"github.com/nstream/wsmux/forward"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "wstun-client"
	myApp.Usage = "TCP-to-WebSocket tunnel client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "localaddr,l", Value: ":12948", Usage: "local TCP listen address"},
		cli.StringFlag{Name: "remoteaddr,r", Value: "ws://127.0.0.1:29900/tunnel", Usage: "carrier server websocket URL"},
		cli.StringFlag{Name: "target,t", Value: "127.0.0.1:4000", Usage: "address the server should connect each stream to"},
		cli.IntFlag{Name: "streambuf", Value: 16384, Usage: "per-stream receive buffer size in bytes"},
		cli.IntFlag{Name: "framepayload", Value: 1 << 20, Usage: "maximum Push/Datagram frame payload in bytes"},
		cli.IntFlag{Name: "keepalive", Value: 30, Usage: "keep-alive ping interval in seconds, 0 to disable"},
		cli.BoolFlag{Name: "nocomp", Usage: "disable snappy compression of the carrier"},
		cli.StringFlag{Name: "log", Value: "", Usage: "write log to this file instead of stderr"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-connection logging"},
		cli.StringFlag{Name: "c", Value: "", Usage: "JSON config file overriding the flags above"},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		LocalAddr:    c.String("localaddr"),
		RemoteAddr:   c.String("remoteaddr"),
		Target:       c.String("target"),
		StreamBuf:    c.Int("streambuf"),
		FramePayload: c.Int("framepayload"),
		KeepAlive:    c.Int("keepalive"),
		NoComp:       c.Bool("nocomp"),
		Log:          c.String("log"),
		Quiet:        c.Bool("quiet"),
	}
	if path := c.String("c"); path != "" {
		if err := config.ParseJSON(&cfg, path); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	targetHost, targetPort, err := wsmux.ParseHostPort(cfg.Target)
	if err != nil {
		return errors.Wrap(err, "parse target")
	}

	listener, err := net.Listen("tcp", cfg.LocalAddr)
	if err != nil {
		return errors.Wrap(err, "local listen")
	}
	log.Println(color.GreenString("listening on %s, tunneling to %s via %s", listener.Addr(), cfg.Target, cfg.RemoteAddr))

	waitSession := func() *wsmux.Session {
		for {
			sess, err := dial(cfg)
			if err == nil {
				return sess
			}
			log.Println(color.YellowString("re-connecting: %v", err))
			time.Sleep(time.Second)
		}
	}

	sess := waitSession()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		if sess.Err() != nil {
			sess = waitSession()
		}
		go handleConn(sess, conn, targetHost, targetPort, cfg.Quiet)
	}
}

func dial(cfg config.Config) (*wsmux.Session, error) {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.RemoteAddr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial")
	}

	var carrier wsmux.Carrier = wsmux.NewWebsocketCarrier(conn)
	if !cfg.NoComp {
		carrier = wsmux.NewCompressingCarrier(carrier)
	}

	muxCfg := wsmux.DefaultConfig()
	muxCfg.Role = wsmux.RoleClient
	if cfg.StreamBuf > 0 {
		muxCfg.StreamBuffer = cfg.StreamBuf
	}
	if cfg.FramePayload > 0 {
		muxCfg.MaxFramePayload = cfg.FramePayload
	}
	muxCfg.KeepAliveInterval = time.Duration(cfg.KeepAlive) * time.Second

	return wsmux.NewSession(carrier, muxCfg)
}

func handleConn(sess *wsmux.Session, p1 net.Conn, targetHost wsmux.Host, targetPort uint16, quiet bool) {
	logln := func(v ...any) {
		if !quiet {
			log.Println(v...)
		}
	}

	defer p1.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p2, err := sess.DialStream(ctx, targetHost, targetPort)
	if err != nil {
		logln(err)
		return
	}
	defer p2.Close()

	logln("stream opened", "in:", p1.RemoteAddr(), "out:", fmt.Sprintf("port %d", p2.LocalPort()))
	defer logln("stream closed", "in:", p1.RemoteAddr(), "out:", fmt.Sprintf("port %d", p2.LocalPort()))

	toStream, toLocal := forward.Pipe(p1, p2)
	logln("relayed", toStream.Bytes, "bytes out,", toLocal.Bytes, "bytes in")
	if toStream.Err != nil {
		logln("pipe: local -> stream:", toStream.Err)
	}
	if toLocal.Err != nil {
		logln("pipe: stream -> local:", toLocal.Err)
	}
}
